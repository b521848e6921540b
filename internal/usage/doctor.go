package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olliecrow/ai_usage_monitor/internal/config"
)

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

type DoctorReport struct {
	Checks []DoctorCheck `json:"checks"`
}

// RunDoctor checks local setup for every enabled provider and then fetches
// each one with its own timeout.
func RunDoctor(ctx context.Context, cfg *config.Config, providers []Provider, timeout time.Duration) DoctorReport {
	var checks []DoctorCheck

	store := FileStore{}
	if cfg.Enabled(config.ProviderClaude) {
		checks = append(checks, checkClaudeCredentials(store, cfg.Claude.CredentialsPath))
	}
	if cfg.Enabled(config.ProviderCodex) {
		checks = append(checks, checkSessionsDir(cfg.Codex.SessionsDir))
	}
	if cfg.Enabled(config.ProviderGemini) {
		checks = append(checks, checkGeminiCredentials(store, cfg.Gemini.CredentialsPath))
	}

	for _, p := range providers {
		checks = append(checks, checkProviderFetch(ctx, p, timeout))
	}
	return DoctorReport{Checks: checks}
}

// Healthy reports whether at least one provider fetch succeeded.
func (r DoctorReport) Healthy() bool {
	for _, c := range r.Checks {
		if strings.HasSuffix(c.Name, " fetch") && c.OK {
			return true
		}
	}
	return false
}

func checkClaudeCredentials(store CredentialStore, path string) DoctorCheck {
	check := DoctorCheck{Name: "claude credentials"}
	data, err := store.Load(path)
	if err != nil {
		check.Details = err.Error()
		return check
	}
	if _, err := claudeAccessToken(data); err != nil {
		check.Details = fmt.Sprintf("found %s but token read failed: %v", path, err)
		return check
	}
	check.OK = true
	check.Details = fmt.Sprintf("found %s with access token", path)
	return check
}

func checkSessionsDir(dir string) DoctorCheck {
	check := DoctorCheck{Name: "codex sessions"}
	if !dirExists(dir) {
		check.Details = fmt.Sprintf("sessions directory %s not found", dir)
		return check
	}
	files, err := DiscoverSessionFiles(dir)
	if err != nil {
		check.Details = err.Error()
		return check
	}
	check.OK = true
	check.Details = fmt.Sprintf("found %d session files in %s", len(files), dir)
	return check
}

func checkGeminiCredentials(store CredentialStore, path string) DoctorCheck {
	check := DoctorCheck{Name: "gemini credentials"}
	data, err := store.Load(path)
	if err != nil {
		check.Details = err.Error()
		return check
	}
	cred, err := ParseOAuthCredential(data)
	if err != nil {
		check.Details = fmt.Sprintf("found %s but parse failed: %v", path, err)
		return check
	}
	if _, err := cred.requireAccessToken(); err != nil {
		check.Details = fmt.Sprintf("found %s but token read failed: %v", path, err)
		return check
	}
	check.OK = true
	if cred.RefreshToken == "" {
		check.Details = fmt.Sprintf("found %s with access token (no refresh token)", path)
	} else {
		check.Details = fmt.Sprintf("found %s with access and refresh tokens", path)
	}
	return check
}

func checkProviderFetch(parent context.Context, p Provider, timeout time.Duration) DoctorCheck {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	result := p.Fetch(ctx)
	return DoctorCheck{
		Name:    p.Name() + " fetch",
		OK:      result.IsInstalled() && !result.Failed(),
		Details: describeResult(result),
	}
}

func describeResult(r Result) string {
	if !r.IsInstalled() {
		return "not installed"
	}
	switch v := r.(type) {
	case ClaudeResult:
		if v.Failure != nil {
			return describeFailure(v.Failure)
		}
		seven := "n/a"
		if v.Usage.SevenDayPct != nil {
			seven = fmt.Sprintf("%d%%", *v.Usage.SevenDayPct)
		}
		return fmt.Sprintf("5h=%d%% 7d=%s", v.Usage.FiveHourPct, seven)
	case CodexResult:
		if v.Failure != nil {
			return describeFailure(v.Failure)
		}
		if !v.HasData {
			return "no rate-limit data in session logs yet"
		}
		return fmt.Sprintf("plan=%s 5h=%g%% 7d=%g%% model=%s",
			v.Usage.PlanType, v.Usage.FiveHourPct, v.Usage.SevenDayPct, v.Usage.Model)
	case GeminiResult:
		if v.Failure != nil {
			return describeFailure(v.Failure)
		}
		return fmt.Sprintf("used=%d%% model=%s buckets=%d", v.Usage.UsedPct, v.Usage.Model, len(v.Usage.Buckets))
	default:
		if r.Failed() {
			return "failed"
		}
		return "ok"
	}
}

func describeFailure(f *FailureReport) string {
	return fmt.Sprintf("%s: %s", f.Reason, f.Error)
}
