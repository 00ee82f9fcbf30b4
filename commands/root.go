package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/adw/config"
	"github.com/c360studio/adw/notify"
)

// Exit codes of the adw binary.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitValidation = 3
)

// ExitError carries the process exit code alongside the message.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error from command execution to a process exit
// code. Cobra usage errors come through as plain errors and map to 2
// by the caller before execution starts; anything untyped here is a
// phase failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// NewRoot builds the adw command tree.
func NewRoot(version string) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "adw",
		Short: "Agentic development workflow orchestrator",
		Long: `adw drives AI coding agents through a multi-phase development
pipeline (plan, build, test, review, document, ship), each run isolated
in its own git worktree with its own port pair.

Run a pipeline directly, or start the hub with "adw serve" and trigger
workflows over WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("adw version %s\n", version)
		},
	})

	root.AddCommand(newPipelineCommands()...)
	root.AddCommand(newServeCommand())
	root.AddCommand(newListCommand())
	root.AddCommand(newDeleteCommand())

	// Bad flags and bad argv shapes are usage errors (exit 2), not
	// phase failures (exit 1).
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})
	markUsageErrors(root)
	return root
}

// markUsageErrors wraps every command's positional-argument validator
// so violations map to the usage exit code.
func markUsageErrors(cmd *cobra.Command) {
	if validate := cmd.Args; validate != nil {
		cmd.Args = func(c *cobra.Command, args []string) error {
			if err := validate(c, args); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			return nil
		}
	}
	for _, sub := range cmd.Commands() {
		markUsageErrors(sub)
	}
}

// configureLogging installs the process-wide slog handler. DEBUG=1
// wins over the flag, matching the environment contract.
func configureLogging(level string) {
	if os.Getenv("DEBUG") == "1" {
		level = "debug"
	}
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// loadApp loads configuration and wires the component graph.
func loadApp(pub notify.Publisher) (*App, error) {
	cfg, err := config.NewLoader(slog.Default()).Load()
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}
	return NewApp(cfg, slog.Default(), pub)
}
