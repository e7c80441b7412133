// Package main is the entry point for mailprobe.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mailprobe/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("mailprobe failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailprobe",
		Short: "Send adversarial test mails through a mail filter",
		Long: `mailprobe generates a catalog of test mails that try to slip past
spam, malware and phishing filters and delivers them to the recipients under
test. Results are logged per recipient and test case.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTests,
	}

	cmd.PersistentFlags().String("config", "", "Path to YAML configuration file (optional)")
	cmd.Flags().BoolP("list", "l", false, "List available tests and evasions")
	config.RegisterFlags(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("mbox", "maildir")

	cmd.AddCommand(newSinkCmd())
	return cmd
}

// loadConfig loads configuration from the --config file (YAML + env
// override) or from environment variables only if none is given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to stderr: the stdout channel owns stdout.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
