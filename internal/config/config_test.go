package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"CODEX_HOME", configFileEnvVar, logLevelEnvVar, proxyURLEnvVar, timeoutEnvVar} {
		t.Setenv(key, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	home := isolateEnv(t)

	cfg, err := loadWithEnvFile("", filepath.Join(home, "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.Timeout)
	}
	if cfg.Gemini.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Gemini.MaxAttempts)
	}
	if cfg.Claude.CredentialsPath != filepath.Join(home, ".claude", ".credentials.json") {
		t.Fatalf("unexpected claude path %q", cfg.Claude.CredentialsPath)
	}
	if cfg.Codex.SessionsDir != filepath.Join(home, ".codex", "sessions") {
		t.Fatalf("unexpected sessions dir %q", cfg.Codex.SessionsDir)
	}
	if cfg.Gemini.CredentialsPath != filepath.Join(home, ".gemini", "oauth_creds.json") {
		t.Fatalf("unexpected gemini path %q", cfg.Gemini.CredentialsPath)
	}
	if len(cfg.Providers) != 3 {
		t.Fatalf("expected all providers enabled, got %v", cfg.Providers)
	}
}

func TestLoadDefaultFileLocationIsOptionalButUsedWhenPresent(t *testing.T) {
	home := isolateEnv(t)
	writeFile(t, filepath.Join(home, defaultConfigRelativePath), "log-level: info\n")

	cfg, err := loadWithEnvFile("", filepath.Join(home, "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected log level from default config file, got %q", cfg.LogLevel)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "cfg.yaml")
	writeFile(t, path, `
timeout: 15s
providers: [codex, gemini]
claude:
  usage-url: http://127.0.0.1:9/usage
codex:
  sessions-dir: ~/elsewhere/sessions
gemini:
  max-attempts: 5
  client-id: cid
`)

	cfg, err := loadWithEnvFile(path, filepath.Join(home, "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timeout != 15*time.Second {
		t.Fatalf("expected 15s timeout, got %s", cfg.Timeout)
	}
	if cfg.Enabled(ProviderClaude) || !cfg.Enabled(ProviderCodex) || !cfg.Enabled(ProviderGemini) {
		t.Fatalf("unexpected providers %v", cfg.Providers)
	}
	if cfg.Claude.UsageURL != "http://127.0.0.1:9/usage" {
		t.Fatalf("unexpected usage url %q", cfg.Claude.UsageURL)
	}
	if cfg.Claude.BetaHeader != "oauth-2025-04-20" {
		t.Fatalf("expected untouched default beta header, got %q", cfg.Claude.BetaHeader)
	}
	if cfg.Codex.SessionsDir != filepath.Join(home, "elsewhere", "sessions") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Codex.SessionsDir)
	}
	if cfg.Gemini.MaxAttempts != 5 || cfg.Gemini.ClientID != "cid" {
		t.Fatalf("unexpected gemini config %+v", cfg.Gemini)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "cfg.yaml")
	writeFile(t, path, "log-level: info\ntimeout: 20s\n")

	codexHome := filepath.Join(home, "codex-alt")
	t.Setenv("CODEX_HOME", codexHome)
	t.Setenv(logLevelEnvVar, "debug")
	t.Setenv(timeoutEnvVar, "7")
	t.Setenv(proxyURLEnvVar, "socks5://127.0.0.1:1080")

	cfg, err := loadWithEnvFile(path, filepath.Join(home, "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.LogLevel)
	}
	if cfg.Timeout != 7*time.Second {
		t.Fatalf("expected 7s timeout, got %s", cfg.Timeout)
	}
	if cfg.Codex.SessionsDir != filepath.Join(codexHome, "sessions") {
		t.Fatalf("expected CODEX_HOME sessions dir, got %q", cfg.Codex.SessionsDir)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Fatalf("unexpected proxy url %q", cfg.ProxyURL)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	home := isolateEnv(t)
	// Register restoration, then clear so godotenv is allowed to set it.
	t.Setenv(logLevelEnvVar, "x")
	os.Unsetenv(logLevelEnvVar)

	envFile := filepath.Join(home, ".env")
	writeFile(t, envFile, logLevelEnvVar+"=error\n")

	cfg, err := loadWithEnvFile("", envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("expected log level from .env, got %q", cfg.LogLevel)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	home := isolateEnv(t)
	_, err := loadWithEnvFile(filepath.Join(home, "nope.yaml"), filepath.Join(home, "missing.env"))
	if err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "cfg.yaml")
	writeFile(t, path, "timeout: [not a duration\n")

	_, err := loadWithEnvFile(path, filepath.Join(home, "missing.env"))
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults ok", mutate: func(*Config) {}},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantErr: "timeout"},
		{name: "zero attempts", mutate: func(c *Config) { c.Gemini.MaxAttempts = 0 }, wantErr: "max-attempts"},
		{name: "empty limit id", mutate: func(c *Config) { c.Codex.MainLimitID = " " }, wantErr: "main-limit-id"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log level"},
		{name: "no providers", mutate: func(c *Config) { c.Providers = nil }, wantErr: "at least one provider"},
		{name: "unknown provider", mutate: func(c *Config) { c.Providers = []string{"copilot"} }, wantErr: "unknown provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseTimeout(t *testing.T) {
	tests := map[string]time.Duration{
		"5":     5 * time.Second,
		"1m":    time.Minute,
		"250ms": 250 * time.Millisecond,
	}
	for raw, want := range tests {
		got, err := parseTimeout(raw)
		if err != nil {
			t.Fatalf("parseTimeout(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("parseTimeout(%q) = %s, want %s", raw, got, want)
		}
	}
	if _, err := parseTimeout("soon"); err == nil {
		t.Fatalf("expected error for invalid timeout")
	}
}
