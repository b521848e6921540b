package usage

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// CodexProvider reports Codex plan usage from local session logs.
type CodexProvider struct {
	sessionsDir string
	scanner     *SessionLogScanner
}

func NewCodexProvider(sessionsDir, mainLimitID string) *CodexProvider {
	return &CodexProvider{
		sessionsDir: sessionsDir,
		scanner:     NewSessionLogScanner(mainLimitID),
	}
}

func (p *CodexProvider) Name() string {
	return "codex"
}

func (p *CodexProvider) Fetch(ctx context.Context) Result {
	if !dirExists(p.sessionsDir) {
		return CodexResult{}
	}

	files, err := DiscoverSessionFiles(p.sessionsDir)
	if err != nil {
		report := ClassifyTransport(err)
		return CodexResult{Installed: true, Failure: &report}
	}
	if len(files) == 0 {
		return CodexResult{Installed: true}
	}

	payload, model, ok := p.scanner.Scan(files)
	log.WithFields(log.Fields{"provider": p.Name(), "files": len(files)}).Debug("session scan finished")
	if !ok {
		return CodexResult{Installed: true}
	}
	return CodexResult{
		Installed: true,
		HasData:   true,
		Usage:     codexUsageFromPayload(payload, model),
	}
}

func codexUsageFromPayload(payload *RateLimitPayload, model string) *CodexUsage {
	out := &CodexUsage{
		PlanType: payload.PlanType,
		Model:    model,
	}
	if w := payload.Primary; w != nil {
		out.FiveHourPct = w.UsedPercent
		out.FiveHourReset = windowReset(w)
	}
	if w := payload.Secondary; w != nil {
		out.SevenDayPct = w.UsedPercent
		out.SevenDayReset = windowReset(w)
	}
	return out
}

func windowReset(w *RateLimitWindow) *string {
	if w.ResetsAt == nil {
		return nil
	}
	return stringPtr(isoTimestamp(*w.ResetsAt))
}
