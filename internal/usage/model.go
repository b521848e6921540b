package usage

import (
	"encoding/json"
	"math"
	"time"
)

// Result is the outcome of one provider fetch. It is either a usage
// snapshot or a failure report, flattened into the provider's JSON shape.
type Result interface {
	json.Marshaler
	IsInstalled() bool
	Failed() bool
}

// Report is the aggregated output keyed by provider name.
type Report map[string]Result

// RateLimitWindow is one quota window (5 hour, 7 day).
type RateLimitWindow struct {
	UsedPercent float64
	ResetsAt    *time.Time
}

// RateLimitPayload is the rate-limit block of a token_count session event.
type RateLimitPayload struct {
	LimitID   string
	PlanType  string
	Primary   *RateLimitWindow
	Secondary *RateLimitWindow
}

type ClaudeUsage struct {
	FiveHourPct   int     `json:"five_hour_pct"`
	FiveHourReset *string `json:"five_hour_reset"`
	SevenDayPct   *int    `json:"seven_day_pct"`
	SevenDayReset *string `json:"seven_day_reset"`
}

type ClaudeResult struct {
	Installed bool
	Usage     *ClaudeUsage
	Failure   *FailureReport
}

func (r ClaudeResult) IsInstalled() bool { return r.Installed }
func (r ClaudeResult) Failed() bool      { return r.Failure != nil }

func (r ClaudeResult) MarshalJSON() ([]byte, error) {
	if !r.Installed {
		return notInstalledJSON()
	}
	return json.Marshal(struct {
		Installed bool `json:"installed"`
		*ClaudeUsage
		*FailureReport
	}{r.Installed, r.Usage, r.Failure})
}

type CodexUsage struct {
	FiveHourPct   float64 `json:"five_hour_pct"`
	SevenDayPct   float64 `json:"seven_day_pct"`
	FiveHourReset *string `json:"five_hour_reset"`
	SevenDayReset *string `json:"seven_day_reset"`
	PlanType      string  `json:"plan_type"`
	Model         string  `json:"model"`
}

type CodexResult struct {
	Installed bool
	// HasData is false when the sessions directory exists but no session
	// carries rate-limit data yet.
	HasData bool
	Usage   *CodexUsage
	Failure *FailureReport
}

func (r CodexResult) IsInstalled() bool { return r.Installed }
func (r CodexResult) Failed() bool      { return r.Failure != nil }

func (r CodexResult) MarshalJSON() ([]byte, error) {
	if !r.Installed {
		return notInstalledJSON()
	}
	var hasData *bool
	if !r.HasData && r.Failure == nil {
		hasData = new(bool)
	}
	return json.Marshal(struct {
		Installed bool  `json:"installed"`
		HasData   *bool `json:"has_data,omitempty"`
		*CodexUsage
		*FailureReport
	}{r.Installed, hasData, r.Usage, r.Failure})
}

type GeminiBucket struct {
	Model     string  `json:"model"`
	UsedPct   int     `json:"used_pct"`
	ResetTime *string `json:"reset_time"`
}

type GeminiUsage struct {
	UsedPct   int            `json:"used_pct"`
	ResetTime *string        `json:"reset_time"`
	Model     string         `json:"model"`
	Buckets   []GeminiBucket `json:"buckets"`
}

type GeminiResult struct {
	Installed     bool
	Authenticated bool
	// Refreshed records that at least one token refresh succeeded during
	// the run; reported only alongside a failure.
	Refreshed bool
	Usage     *GeminiUsage
	Failure   *FailureReport
}

func (r GeminiResult) IsInstalled() bool { return r.Installed }
func (r GeminiResult) Failed() bool      { return r.Failure != nil }

func (r GeminiResult) MarshalJSON() ([]byte, error) {
	if !r.Installed {
		return notInstalledJSON()
	}
	return json.Marshal(struct {
		Installed     bool `json:"installed"`
		Authenticated bool `json:"authenticated"`
		Refreshed     bool `json:"refreshed,omitempty"`
		*GeminiUsage
		*FailureReport
	}{r.Installed, r.Authenticated, r.Refreshed && r.Failure != nil, r.Usage, r.Failure})
}

func notInstalledJSON() ([]byte, error) {
	return []byte(`{"installed":false}`), nil
}

// roundPercent rounds half to even.
func roundPercent(v float64) int {
	return int(math.RoundToEven(v))
}

// isoTimestamp renders a Unix second as RFC 3339 with an explicit offset,
// e.g. 2026-02-26T20:00:00+00:00.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05-07:00")
}

func stringPtr(v string) *string {
	return &v
}

func intPtr(v int) *int {
	return &v
}
