package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shineum/mailprobe/internal/config"
	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/delivery/file"
	"github.com/shineum/mailprobe/internal/delivery/graph"
	"github.com/shineum/mailprobe/internal/delivery/mailbox"
	"github.com/shineum/mailprobe/internal/delivery/ses"
	"github.com/shineum/mailprobe/internal/delivery/smtp"
	"github.com/shineum/mailprobe/internal/delivery/stdout"
	"github.com/shineum/mailprobe/internal/dispatch"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
	"github.com/shineum/mailprobe/internal/result"
	"github.com/shineum/mailprobe/internal/selection"
	"github.com/shineum/mailprobe/internal/testcases"
	smtptls "github.com/shineum/mailprobe/internal/tls"
)

func runTests(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to apply flags: %w", err)
	}
	setupLogger(cfg.Logging.Level)

	catalog, err := plugin.Discover(testcases.Units()...)
	if err != nil {
		return fmt.Errorf("failed to load tests: %w", err)
	}

	if list, _ := cmd.Flags().GetBool("list"); list {
		return printCatalog(cmd.OutOrStdout(), catalog)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	warnUnknownTests(catalog, cfg.Selection.Include, cfg.Selection.Exclude)

	evasions, err := catalog.EvasionSet(cfg.Selection.Evasions)
	if err != nil {
		return err
	}
	filter, err := selection.ParseCases(cfg.Selection.Cases)
	if err != nil {
		return err
	}
	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}

	channel, err := openChannel(ctx, cfg)
	if err != nil {
		return err
	}

	var sink result.Sink = result.Discard{}
	if cfg.Output.ResultLog != "" {
		csv, err := result.OpenCSV(cfg.Output.ResultLog)
		if err != nil {
			channel.Close()
			return err
		}
		sink = csv
	}

	runner := &dispatch.Runner{
		Sender:     cfg.Sender,
		Recipients: message.Recipients(cfg.Recipients, cfg.SendOne),
		Evasions:   evasions,
		Options:    opts,
		Channel:    channel,
		Sink:       sink,
		Filter:     filter,
		Tests: selection.Tests{
			Include: cfg.Selection.Include,
			Exclude: cfg.Selection.Exclude,
		},
	}

	slog.Info("starting run",
		"channel", channel.Name(),
		"sender", cfg.Sender,
		"recipients", len(cfg.Recipients),
		"send_one", cfg.SendOne,
		"evasions", cfg.Selection.Evasions,
	)

	_, err = runner.Run(ctx, catalog.Tests())
	if errors.Is(err, context.Canceled) {
		slog.Info("run interrupted")
		return nil
	}
	return err
}

// buildOptions reads the list files a run consumes.
func buildOptions(cfg *config.Config) (plugin.Options, error) {
	blacklist, err := selection.ReadLists(cfg.Inputs.Blacklists)
	if err != nil {
		return plugin.Options{}, fmt.Errorf("failed to read blacklist: %w", err)
	}
	spoofed, err := selection.ReadLists(cfg.Inputs.SpoofedSenderLists)
	if err != nil {
		return plugin.Options{}, fmt.Errorf("failed to read spoofed sender list: %w", err)
	}

	return plugin.Options{
		BackconnectDomain: cfg.Inputs.BackconnectDomain,
		SpoofedSender:     cfg.Inputs.SpoofedSender,
		SpoofedSenders:    spoofed,
		Blacklist:         blacklist,
		SpamFolders:       cfg.Inputs.SpamFolders,
		MalwareFolders:    cfg.Inputs.MalwareFolders,
	}, nil
}

func warnUnknownTests(catalog *plugin.Catalog, lists ...[]string) {
	for _, ids := range lists {
		for _, id := range ids {
			if _, ok := catalog.Test(id); !ok {
				slog.Warn("unknown test selected", "test", id)
			}
		}
	}
}

// openStore opens the storage channel selected by the output settings. It
// returns nil when no output path is configured.
func openStore(cfg *config.Config) (delivery.Channel, error) {
	if cfg.Output.Path == "" {
		return nil, nil
	}

	switch name := cfg.EffectiveChannel(); name {
	case config.ChannelMbox, config.ChannelMaildir:
		slog.Info("storing messages in mailbox", "format", name, "path", cfg.Output.Path)
		return mailbox.New(mailbox.Format(name), cfg.Output.Path)
	default:
		slog.Info("storing messages as files", "path", cfg.Output.Path)
		ch, err := file.New(cfg.Output.Path)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// openChannel chooses the delivery backend based on configuration. Network
// channels are paced by the configured delay.
func openChannel(ctx context.Context, cfg *config.Config) (delivery.Channel, error) {
	store, err := openStore(cfg)
	if err != nil || store != nil {
		return store, err
	}

	var inner delivery.Channel
	switch cfg.Channel {
	case config.ChannelStdout:
		slog.Info("using stdout channel")
		return stdout.New(), nil

	case config.ChannelSES:
		slog.Info("using AWS SES channel", "region", cfg.SES.Region)
		ch, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES channel: %w", err)
		}
		inner = ch

	case config.ChannelGraph:
		sendAs := cfg.Graph.Mailbox
		if sendAs == "" {
			sendAs = cfg.Sender
		}
		slog.Info("using Microsoft Graph channel", "mailbox", sendAs)
		inner = graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       sendAs,
		})

	default:
		smtpCfg := smtp.Config{
			Addr:     cfg.SMTP.Server,
			HeloName: cfg.SMTP.Helo,
			StartTLS: cfg.SMTP.StartTLS,
			Sender:   cfg.Sender,
		}
		if cfg.SMTP.StartTLS {
			smtpCfg.TLSConfig = smtptls.ClientConfig(cfg.SMTP.Server, cfg.TLS.InsecureSkipVerify)
		}
		slog.Info("using SMTP channel", "server", cfg.SMTP.Server, "starttls", cfg.SMTP.StartTLS)
		ch, err := smtp.New(ctx, smtpCfg)
		if err != nil {
			return nil, err
		}
		inner = ch
	}

	delay := delivery.NewDelay(
		delivery.Seconds(cfg.Delay.Initial),
		delivery.Seconds(cfg.Delay.Step),
		delivery.Seconds(cfg.Delay.Max),
		cfg.Delay.Auto,
	)
	return delivery.NewPaced(inner, delay), nil
}
