package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailprobe/internal/config"
	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/evasion"
	"github.com/shineum/mailprobe/internal/plugin"
	"github.com/shineum/mailprobe/internal/testcases"
)

func TestPrintCatalog(t *testing.T) {
	catalog, err := plugin.Discover(testcases.Units()...)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printCatalog(&buf, catalog))

	out := buf.String()
	for _, want := range []string{"bad_filetypes", "sender_spoofing", "homograph-sender-smtp", evasion.ContentDispositionID} {
		assert.Contains(t, out, want)
	}
}

func TestOpenChannel(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		setup func(cfg *config.Config)
		want  string
		paced bool
	}{
		{
			name:  "file output",
			setup: func(cfg *config.Config) { cfg.Output.Path = dir },
			want:  "file",
		},
		{
			name: "mbox output",
			setup: func(cfg *config.Config) {
				cfg.Output.Path = filepath.Join(dir, "run.mbox")
				cfg.Output.Format = config.ChannelMbox
			},
			want: "mbox",
		},
		{
			name:  "stdout",
			setup: func(cfg *config.Config) { cfg.Channel = config.ChannelStdout },
			want:  "stdout",
		},
		{
			name: "graph is paced",
			setup: func(cfg *config.Config) {
				cfg.Channel = config.ChannelGraph
				cfg.Graph = config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}
			},
			want:  "graph",
			paced: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			tt.setup(cfg)

			ch, err := openChannel(context.Background(), cfg)
			require.NoError(t, err)
			defer ch.Close()

			assert.Equal(t, tt.want, ch.Name())
			_, paced := ch.(*delivery.Paced)
			assert.Equal(t, tt.paced, paced)
		})
	}
}

func TestRootCmd_List(t *testing.T) {
	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--list"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "mailinglist")
}

func TestRootCmd_DumpsSelectedCases(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "results.csv")
	out := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(out, 0o755))

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"-t", "rcpt@test.invalid",
		"-i", "empty", "-i", "bounce",
		"-T", "empty:2",
		"-o", out,
		"-L", logPath,
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"bounce-0001-01.msg", "empty-0002-01.msg"}, names)

	raw, err := os.ReadFile(filepath.Join(out, "bounce-0001-01.msg"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Mail Delivery System")
}

func TestRootCmd_RequiresRecipient(t *testing.T) {
	t.Setenv("RECIPIENTS", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"-o", t.TempDir()})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient")
}
