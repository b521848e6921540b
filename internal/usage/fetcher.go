package usage

import (
	"context"
	"net/http"

	"github.com/olliecrow/ai_usage_monitor/internal/config"
	log "github.com/sirupsen/logrus"
)

// Fetcher runs every configured provider once and collects the results.
// Providers are fetched one after another in a fixed order.
type Fetcher struct {
	providers []Provider
}

func NewFetcher(providers ...Provider) *Fetcher {
	return &Fetcher{providers: providers}
}

// NewDefaultFetcher builds the providers enabled in cfg, in the order
// claude, codex, gemini. All network providers share httpClient.
func NewDefaultFetcher(cfg *config.Config, httpClient *http.Client) *Fetcher {
	return NewFetcher(NewProviders(cfg, httpClient)...)
}

func NewProviders(cfg *config.Config, httpClient *http.Client) []Provider {
	store := FileStore{}
	var providers []Provider
	for _, name := range config.KnownProviders {
		if !cfg.Enabled(name) {
			continue
		}
		switch name {
		case config.ProviderClaude:
			providers = append(providers, NewClaudeProvider(
				httpClient,
				store,
				cfg.Claude.CredentialsPath,
				cfg.Claude.UsageURL,
				cfg.Claude.BetaHeader,
			))
		case config.ProviderCodex:
			providers = append(providers, NewCodexProvider(cfg.Codex.SessionsDir, cfg.Codex.MainLimitID))
		case config.ProviderGemini:
			providers = append(providers, NewGeminiProvider(
				httpClient,
				store,
				NewRefresher(store, cfg.Gemini.TokenURL, httpClient),
				GeminiOptions{
					CredentialsPath: cfg.Gemini.CredentialsPath,
					BaseURL:         cfg.Gemini.BaseURL,
					MaxAttempts:     cfg.Gemini.MaxAttempts,
					ClientID:        cfg.Gemini.ClientID,
					ClientSecret:    cfg.Gemini.ClientSecret,
				},
			))
		}
	}
	return providers
}

// Fetch returns one Result per provider. It never fails: provider errors
// are carried inside each Result.
func (f *Fetcher) Fetch(ctx context.Context) Report {
	report := make(Report, len(f.providers))
	for _, p := range f.providers {
		result := p.Fetch(ctx)
		log.WithFields(log.Fields{
			"provider": p.Name(),
			"status":   resultStatus(result),
		}).Info("provider fetched")
		report[p.Name()] = result
	}
	return report
}

func (f *Fetcher) Providers() []Provider {
	return f.providers
}

func resultStatus(r Result) string {
	switch {
	case !r.IsInstalled():
		return "not installed"
	case r.Failed():
		return "failed"
	default:
		return "ok"
	}
}
