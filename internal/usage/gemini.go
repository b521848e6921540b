package usage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	DefaultGeminiBaseURL     = "https://cloudcode-pa.googleapis.com/v1internal"
	DefaultGeminiMaxAttempts = 3
)

var loadCodeAssistBody = []byte(`{"cloudaicompanionProject":null,"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`)

// GeminiProvider reports Gemini quota from the Cloud Code API. A 401 with a
// refresh token triggers a token refresh and another attempt.
type GeminiProvider struct {
	httpClient      *http.Client
	store           CredentialStore
	refresher       *Refresher
	credentialsPath string
	baseURL         string
	maxAttempts     int
	clientID        string
	clientSecret    string
}

type GeminiOptions struct {
	CredentialsPath string
	BaseURL         string
	MaxAttempts     int
	// ClientID and ClientSecret are used for refresh when the credential
	// file does not carry its own.
	ClientID     string
	ClientSecret string
}

func NewGeminiProvider(httpClient *http.Client, store CredentialStore, refresher *Refresher, opts GeminiOptions) *GeminiProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultGeminiMaxAttempts
	}
	return &GeminiProvider{
		httpClient:      httpClient,
		store:           store,
		refresher:       refresher,
		credentialsPath: opts.CredentialsPath,
		baseURL:         baseURL,
		maxAttempts:     maxAttempts,
		clientID:        opts.ClientID,
		clientSecret:    opts.ClientSecret,
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

type geminiState int

const (
	stateRequesting geminiState = iota
	stateRefreshing
	stateSucceeded
	stateFailed
)

func (s geminiState) String() string {
	switch s {
	case stateRequesting:
		return "requesting"
	case stateRefreshing:
		return "refreshing"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// geminiRun is the mutable state of one Fetch call.
type geminiRun struct {
	state     geminiState
	attempts  int
	cred      OAuthCredential
	usage     *GeminiUsage
	lastErr   *FailureReport
	refreshed bool
}

func (p *GeminiProvider) Fetch(ctx context.Context) Result {
	if !p.store.Exists(p.credentialsPath) {
		return GeminiResult{}
	}

	run := &geminiRun{state: stateRequesting}
	for run.state != stateSucceeded && run.state != stateFailed {
		switch run.state {
		case stateRequesting:
			p.request(ctx, run)
		case stateRefreshing:
			p.refresh(ctx, run)
		}
	}

	if run.state == stateSucceeded {
		return GeminiResult{Installed: true, Authenticated: true, Usage: run.usage}
	}

	failure := run.lastErr
	if failure == nil {
		failure = &FailureReport{
			Reason: ReasonUnknownError,
			Error:  fmt.Sprintf("Failed after %d attempts", run.attempts),
		}
	}
	failure.RetryCount = intPtr(run.attempts)
	log.WithFields(log.Fields{"provider": p.Name(), "attempt": run.attempts, "reason": failure.Reason}).Warn("usage fetch failed")
	return GeminiResult{
		Installed:     true,
		Authenticated: failure.Reason != ReasonAuthRequired && failure.Reason != ReasonAuthFailed,
		Refreshed:     run.refreshed,
		Failure:       failure,
	}
}

func (p *GeminiProvider) request(ctx context.Context, run *geminiRun) {
	run.attempts++
	logger := log.WithFields(log.Fields{"provider": p.Name(), "attempt": run.attempts, "state": run.state})

	usage, err := p.fetchOnce(ctx, run)
	if err == nil {
		run.usage = usage
		run.lastErr = nil
		run.state = stateSucceeded
		logger.Debug("quota fetched")
		return
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized &&
		run.cred.RefreshToken != "" && run.attempts < p.maxAttempts {
		logger.WithField("status", httpErr.StatusCode).Debug("access token rejected")
		run.state = stateRefreshing
		return
	}

	report := ClassifyTransport(err)
	run.lastErr = &report
	logger.WithField("reason", report.Reason).Debug("attempt failed")

	switch {
	case report.Reason == ReasonAuthRequired:
		run.state = stateFailed
	case run.attempts >= p.maxAttempts:
		run.state = stateFailed
	}
}

func (p *GeminiProvider) refresh(ctx context.Context, run *geminiRun) {
	outcome := p.refresher.Refresh(ctx, p.credentialsPath, p.withClientFallback(run.cred))
	if !outcome.OK {
		run.lastErr = &FailureReport{
			Reason:   ReasonAuthFailed,
			Error:    outcome.Message,
			HTTPCode: intPtr(http.StatusUnauthorized),
		}
		run.state = stateFailed
		return
	}
	run.refreshed = true
	run.cred = *outcome.Credential
	run.state = stateRequesting
}

func (p *GeminiProvider) withClientFallback(cred OAuthCredential) OAuthCredential {
	if cred.ClientID == "" {
		cred.ClientID = p.clientID
	}
	if cred.ClientSecret == "" {
		cred.ClientSecret = p.clientSecret
	}
	return cred
}

// fetchOnce runs one loadCodeAssist + retrieveUserQuota round with the
// credential currently on disk.
func (p *GeminiProvider) fetchOnce(ctx context.Context, run *geminiRun) (*GeminiUsage, error) {
	data, err := p.store.Load(p.credentialsPath)
	if err != nil {
		return nil, err
	}
	cred, err := ParseOAuthCredential(data)
	if err != nil {
		return nil, err
	}
	run.cred = cred
	token, err := cred.requireAccessToken()
	if err != nil {
		return nil, err
	}

	loadRes, err := p.post(ctx, "loadCodeAssist", token, loadCodeAssistBody)
	if err != nil {
		return nil, err
	}
	project := gjson.GetBytes(loadRes, "cloudaicompanionProject")
	if !project.Exists() || project.Type == gjson.Null || project.Type == gjson.False ||
		(project.Type == gjson.String && project.Str == "") {
		return nil, errors.New("No cloudaicompanionProject in loadCodeAssist response")
	}

	quotaBody, err := sjson.SetRawBytes([]byte(`{}`), "project", []byte(project.Raw))
	if err != nil {
		return nil, fmt.Errorf("build quota request: %w", err)
	}
	quotaRes, err := p.post(ctx, "retrieveUserQuota", token, quotaBody)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(quotaRes) {
		return nil, errors.New("invalid JSON in retrieveUserQuota response")
	}
	return normalizeGeminiQuota(gjson.ParseBytes(quotaRes)), nil
}

func (p *GeminiProvider) post(ctx context.Context, method, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+":"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := doRequest(p.httpClient, req, token)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(res) {
		return nil, fmt.Errorf("invalid JSON in %s response", method)
	}
	return res, nil
}

type quotaBucket struct {
	modelID           string
	remainingFraction float64
	resetTime         *string
}

func (b quotaBucket) usedPct() int {
	return roundPercent((1.0 - b.remainingFraction) * 100)
}

func (b quotaBucket) toBucket() GeminiBucket {
	return GeminiBucket{Model: b.modelID, UsedPct: b.usedPct(), ResetTime: b.resetTime}
}

// normalizeGeminiQuota drops _vertex duplicates and reports the bucket with
// the least remaining quota as primary.
func normalizeGeminiQuota(res gjson.Result) *GeminiUsage {
	raw := lo.Map(res.Get("buckets").Array(), func(b gjson.Result, _ int) quotaBucket {
		return parseQuotaBucket(b)
	})
	buckets := lo.Filter(raw, func(b quotaBucket, _ int) bool {
		return !strings.HasSuffix(b.modelID, "_vertex")
	})

	out := &GeminiUsage{
		Buckets: lo.Map(buckets, func(b quotaBucket, _ int) GeminiBucket {
			return b.toBucket()
		}),
	}
	if len(buckets) == 0 {
		return out
	}

	// MinBy keeps the first of equal elements.
	primary := lo.MinBy(buckets, func(a, b quotaBucket) bool {
		return a.remainingFraction < b.remainingFraction
	})
	out.UsedPct = primary.usedPct()
	out.ResetTime = primary.resetTime
	out.Model = primary.modelID
	return out
}

func parseQuotaBucket(b gjson.Result) quotaBucket {
	bucket := quotaBucket{
		modelID:           b.Get("modelId").String(),
		remainingFraction: 1.0,
	}
	if rf := b.Get("remainingFraction"); rf.Type == gjson.Number {
		bucket.remainingFraction = rf.Float()
	}
	if rt := b.Get("resetTime"); rt.Type == gjson.String {
		bucket.resetTime = stringPtr(rt.Str)
	}
	return bucket
}
