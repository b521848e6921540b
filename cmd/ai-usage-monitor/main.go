package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olliecrow/ai_usage_monitor/internal/config"
	"github.com/olliecrow/ai_usage_monitor/internal/logging"
	"github.com/olliecrow/ai_usage_monitor/internal/usage"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const appName = "ai-usage-monitor"

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if !ee.silent {
				fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
			}
			return ee.code
		}
		// Flag and argument errors from cobra.
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return 0
}

type globalOptions struct {
	configPath string
	logLevel   string
}

type fetchOptions struct {
	providers []string
	pretty    bool
}

func newRootCmd() *cobra.Command {
	var globals globalOptions
	var fetchOpts fetchOptions

	root := &cobra.Command{
		Use:   appName,
		Short: "Report Claude, Codex and Gemini plan usage as JSON",
		Long: `ai-usage-monitor reads local credentials and session logs for Claude,
Codex and Gemini, fetches current plan usage once and prints a single JSON
document on stdout. Provider failures are reported inside the document and
never change the exit code.

Running without a subcommand is the same as "fetch".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, globals, fetchOpts)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&globals.configPath, "config", "", "path to config file (default ~/.config/ai-usage-monitor/config.yaml)")
	root.PersistentFlags().StringVar(&globals.logLevel, "log-level", "", "log level: debug, info, warn or error")
	addFetchFlags(root, &fetchOpts)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch usage for every enabled provider and print JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, globals, fetchOpts)
		},
	}
	addFetchFlags(fetchCmd, &fetchOpts)

	root.AddCommand(
		fetchCmd,
		newDoctorCmd(&globals),
		newCompletionCmd(root),
		newVersionCmd(),
	)
	return root
}

func addFetchFlags(cmd *cobra.Command, opts *fetchOptions) {
	cmd.Flags().StringArrayVar(&opts.providers, "provider", nil, "provider to fetch (claude, codex, gemini); repeatable")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
}

// setup loads configuration, applies global flags and configures logging.
func setup(globals globalOptions, providers []string) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(globals.configPath)
	if err != nil {
		return nil, nil, err
	}
	if level := strings.TrimSpace(globals.logLevel); level != "" {
		cfg.LogLevel = level
	}
	if len(providers) > 0 {
		cfg.Providers = providers
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	closer, err := logging.Setup(logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		RunID: logging.NewRunID(),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

func runFetch(cmd *cobra.Command, globals globalOptions, opts fetchOptions) error {
	cfg, closer, err := setup(globals, opts.providers)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer closer.Close()

	client, err := usage.NewHTTPClient(cfg.Timeout, cfg.ProxyURL)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	report := usage.NewDefaultFetcher(cfg, client).Fetch(cmd.Context())

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if opts.pretty || isTerminal(out) {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("failed to encode JSON: %w", err)}
	}
	return nil
}

func newDoctorCmd(globals *globalOptions) *cobra.Command {
	var jsonOutput bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run setup and provider checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				return &exitError{code: 2, err: errors.New("--timeout must be > 0")}
			}
			cfg, closer, err := setup(*globals, nil)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			defer closer.Close()

			client, err := usage.NewHTTPClient(cfg.Timeout, cfg.ProxyURL)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			report := usage.RunDoctor(ctx, cfg, usage.NewProviders(cfg, client), cfg.Timeout)

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return &exitError{code: 1, err: fmt.Errorf("failed to encode JSON: %w", err)}
				}
			} else {
				printDoctorHuman(out, report, isTerminal(out))
			}

			if !report.Healthy() {
				return &exitError{code: 1, err: errors.New("no provider is healthy"), silent: true}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output doctor report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "doctor timeout")
	return cmd
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	detailStyle = lipgloss.NewStyle().Faint(true).PaddingLeft(2)
)

func printDoctorHuman(w io.Writer, report usage.DoctorReport, styled bool) {
	render := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	fmt.Fprintln(w, render(titleStyle, "ai usage monitor doctor"))
	fmt.Fprintln(w)
	for _, c := range report.Checks {
		state := render(failStyle, "FAIL")
		if c.OK {
			state = render(passStyle, "PASS")
		}
		fmt.Fprintf(w, "[%s] %s\n", state, c.Name)
		if styled {
			fmt.Fprintln(w, detailStyle.Render(c.Details))
		} else {
			fmt.Fprintf(w, "  %s\n", c.Details)
		}
	}
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh]",
		Short:     "Print shell completion script",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"bash", "zsh"},
		Example: `  ai-usage-monitor completion bash > ~/.local/share/bash-completion/completions/ai-usage-monitor
  ai-usage-monitor completion zsh > ~/.zsh/completions/_ai-usage-monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := "bash"
			if len(args) == 1 {
				shell = strings.TrimSpace(args[0])
			}
			out := cmd.OutOrStdout()
			switch shell {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			default:
				return &exitError{code: 2, err: fmt.Errorf("unsupported shell %q (expected bash or zsh)", shell)}
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
