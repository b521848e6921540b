// Package config loads ai-usage-monitor settings. Values are layered as
// built-in defaults, an optional YAML file, an optional .env file and
// environment variables; CLI flags are applied by the caller last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
	ProviderGemini = "gemini"

	configFileEnvVar = "AI_USAGE_MONITOR_CONFIG"
	logLevelEnvVar   = "AI_USAGE_MONITOR_LOG_LEVEL"
	proxyURLEnvVar   = "AI_USAGE_MONITOR_PROXY_URL"
	timeoutEnvVar    = "AI_USAGE_MONITOR_TIMEOUT"

	defaultConfigRelativePath = ".config/ai-usage-monitor/config.yaml"
)

// KnownProviders lists every provider in fetch order.
var KnownProviders = []string{ProviderClaude, ProviderCodex, ProviderGemini}

var knownLogLevels = []string{"debug", "info", "warn", "error"}

// Config holds all application configuration.
type Config struct {
	LogLevel  string        `yaml:"log-level"`
	LogFile   string        `yaml:"log-file"`
	ProxyURL  string        `yaml:"proxy-url"`
	Timeout   time.Duration `yaml:"timeout"`
	Providers []string      `yaml:"providers"`

	Claude ClaudeConfig `yaml:"claude"`
	Codex  CodexConfig  `yaml:"codex"`
	Gemini GeminiConfig `yaml:"gemini"`
}

type ClaudeConfig struct {
	CredentialsPath string `yaml:"credentials-path"`
	UsageURL        string `yaml:"usage-url"`
	BetaHeader      string `yaml:"beta-header"`
}

type CodexConfig struct {
	SessionsDir string `yaml:"sessions-dir"`
	MainLimitID string `yaml:"main-limit-id"`
}

type GeminiConfig struct {
	CredentialsPath string `yaml:"credentials-path"`
	BaseURL         string `yaml:"base-url"`
	TokenURL        string `yaml:"token-url"`
	MaxAttempts     int    `yaml:"max-attempts"`
	// ClientID and ClientSecret are used only when the credential file
	// does not carry its own OAuth client pair.
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		LogLevel:  "warn",
		Timeout:   10 * time.Second,
		Providers: slices.Clone(KnownProviders),
		Claude: ClaudeConfig{
			CredentialsPath: "~/.claude/.credentials.json",
			UsageURL:        "https://api.anthropic.com/api/oauth/usage",
			BetaHeader:      "oauth-2025-04-20",
		},
		Codex: CodexConfig{
			SessionsDir: "~/.codex/sessions",
			MainLimitID: "codex",
		},
		Gemini: GeminiConfig{
			CredentialsPath: "~/.gemini/oauth_creds.json",
			BaseURL:         "https://cloudcode-pa.googleapis.com/v1internal",
			TokenURL:        "https://oauth2.googleapis.com/token",
			MaxAttempts:     3,
		},
	}
}

// Load reads configuration from the YAML file at path (or the default
// location), a .env file in the working directory and the environment.
func Load(path string) (*Config, error) {
	return loadWithEnvFile(path, ".env")
}

func loadWithEnvFile(path, envFile string) (*Config, error) {
	// Optional; an absent .env is not an error.
	_ = godotenv.Load(envFile)

	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if env := strings.TrimSpace(os.Getenv(configFileEnvVar)); env != "" {
			path = env
			explicit = true
		} else {
			path = "~/" + defaultConfigRelativePath
		}
	}
	resolved, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.mergeFile(resolved, explicit); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if codexHome := strings.TrimSpace(os.Getenv("CODEX_HOME")); codexHome != "" {
		c.Codex.SessionsDir = filepath.Join(codexHome, "sessions")
	}
	if level := strings.TrimSpace(os.Getenv(logLevelEnvVar)); level != "" {
		c.LogLevel = level
	}
	if proxyURL := strings.TrimSpace(os.Getenv(proxyURLEnvVar)); proxyURL != "" {
		c.ProxyURL = proxyURL
	}
	if raw := strings.TrimSpace(os.Getenv(timeoutEnvVar)); raw != "" {
		timeout, err := parseTimeout(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", timeoutEnvVar, err)
		}
		c.Timeout = timeout
	}
	return nil
}

// parseTimeout accepts a Go duration ("15s") or a bare number of seconds.
func parseTimeout(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return d, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.LogFile,
		&c.Claude.CredentialsPath,
		&c.Codex.SessionsDir,
		&c.Gemini.CredentialsPath,
	} {
		expanded, err := ExpandPath(strings.TrimSpace(*p))
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %s", c.Timeout)
	}
	if c.Gemini.MaxAttempts <= 0 {
		return fmt.Errorf("gemini.max-attempts must be > 0, got %d", c.Gemini.MaxAttempts)
	}
	if strings.TrimSpace(c.Codex.MainLimitID) == "" {
		return errors.New("codex.main-limit-id must not be empty")
	}
	if !slices.Contains(knownLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("unknown log level %q (expected one of %s)", c.LogLevel, strings.Join(knownLogLevels, ", "))
	}
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be enabled")
	}
	for _, p := range c.Providers {
		if !slices.Contains(KnownProviders, p) {
			return fmt.Errorf("unknown provider %q (expected one of %s)", p, strings.Join(KnownProviders, ", "))
		}
	}
	return nil
}

// Enabled reports whether provider is selected.
func (c *Config) Enabled(provider string) bool {
	return slices.Contains(c.Providers, provider)
}

// ExpandPath resolves a leading "~" to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
