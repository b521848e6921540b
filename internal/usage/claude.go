package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// ClaudeProvider reports Claude plan usage from the OAuth usage endpoint.
// It makes a single request and never retries.
type ClaudeProvider struct {
	httpClient      *http.Client
	store           CredentialStore
	credentialsPath string
	usageURL        string
	betaHeader      string
}

func NewClaudeProvider(httpClient *http.Client, store CredentialStore, credentialsPath, usageURL, betaHeader string) *ClaudeProvider {
	return &ClaudeProvider{
		httpClient:      httpClient,
		store:           store,
		credentialsPath: credentialsPath,
		usageURL:        usageURL,
		betaHeader:      betaHeader,
	}
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

func (p *ClaudeProvider) Fetch(ctx context.Context) Result {
	if !p.store.Exists(p.credentialsPath) {
		return ClaudeResult{}
	}

	usage, err := p.fetchUsage(ctx)
	if err != nil {
		report := ClassifyTransport(err)
		log.WithFields(log.Fields{"provider": p.Name(), "reason": report.Reason}).Warn("usage fetch failed")
		return ClaudeResult{Installed: true, Failure: &report}
	}
	return ClaudeResult{Installed: true, Usage: usage}
}

func (p *ClaudeProvider) fetchUsage(ctx context.Context) (*ClaudeUsage, error) {
	data, err := p.store.Load(p.credentialsPath)
	if err != nil {
		return nil, err
	}
	token, err := claudeAccessToken(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.usageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("anthropic-beta", p.betaHeader)

	body, err := doRequest(p.httpClient, req, token)
	if err != nil {
		return nil, err
	}

	var payload claudeUsagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode usage response: %w", err)
	}
	return payload.normalize(), nil
}

type claudeUsagePayload struct {
	FiveHour *claudeUsageWindow `json:"five_hour"`
	SevenDay *claudeUsageWindow `json:"seven_day"`
}

type claudeUsageWindow struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    *string  `json:"resets_at"`
}

// empty reports a window that is null or {}; some plans omit seven_day.
func (w *claudeUsageWindow) empty() bool {
	return w == nil || (w.Utilization == nil && w.ResetsAt == nil)
}

func (w *claudeUsageWindow) percent() int {
	if w == nil || w.Utilization == nil {
		return 0
	}
	return roundPercent(*w.Utilization)
}

func (p claudeUsagePayload) normalize() *ClaudeUsage {
	out := &ClaudeUsage{
		FiveHourPct: p.FiveHour.percent(),
	}
	if p.FiveHour != nil {
		out.FiveHourReset = p.FiveHour.ResetsAt
	}
	if !p.SevenDay.empty() {
		out.SevenDayPct = intPtr(p.SevenDay.percent())
		out.SevenDayReset = p.SevenDay.ResetsAt
	}
	return out
}
