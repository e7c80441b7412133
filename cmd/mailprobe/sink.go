package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shineum/mailprobe/internal/config"
	"github.com/shineum/mailprobe/internal/sink"
	smtptls "github.com/shineum/mailprobe/internal/tls"
)

func newSinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a local SMTP capture server to rehearse a run against",
		Long: `sink accepts mail like a filter under test would. Recipient rules
make it refuse recipients or hang up mid-transaction, and captured messages
can be stored as files, mbox or maildir.`,
		Args: cobra.NoArgs,
		RunE: runSink,
	}
	config.RegisterSinkFlags(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("mbox", "maildir")
	return cmd
}

func runSink(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ApplySinkFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to apply flags: %w", err)
	}
	setupLogger(cfg.Logging.Level)

	tlsConfig, err := smtptls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	rules, err := sink.ParseRules(cfg.Sink.Rules)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	recorder := sink.NewRecorder(store)
	defer func() {
		if err := recorder.Close(); err != nil {
			slog.Error("failed to close message store", "error", err)
		}
	}()

	server := sink.New(sink.ServerConfig{
		ListenAddr:     cfg.Sink.Listen,
		Hostname:       "localhost",
		Handler:        recorder,
		TLSConfig:      tlsConfig,
		AuthUsername:   cfg.Sink.Username,
		AuthPassword:   cfg.Sink.Password,
		MaxMessageSize: cfg.Sink.MaxMessageSize,
		SMTPUTF8:       cfg.Sink.SMTPUTF8,
		Rules:          rules,
	})

	slog.Info("starting capture sink",
		"listen", cfg.Sink.Listen,
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
		"smtputf8", cfg.Sink.SMTPUTF8,
		"rules", len(rules),
	)

	// Blocks until the context is cancelled
	if err := server.ListenAndServe(cmd.Context()); err != nil {
		return fmt.Errorf("capture sink: %w", err)
	}

	slog.Info("capture sink stopped", "stored", recorder.Count())
	return nil
}
