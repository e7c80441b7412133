// Package file implements a storage Channel that writes every test message
// into its own file.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/result"
)

// Channel dumps messages to {dir}/{test}-{case}-{recipient}.msg.
type Channel struct {
	dir string
}

// New creates dir if needed and returns a Channel writing into it.
func New(dir string) (*Channel, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Channel{dir: dir}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "file"
}

// Deliver writes one artifact. Write failures are logged and the artifact is
// skipped; the run continues.
func (c *Channel) Deliver(_ context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	path := c.Path(a)

	raw, err := msg.Bytes()
	if err != nil {
		slog.Error("failed to serialize test case", "test", a.Test, "case", a.Case, "error", err)
		return nil
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		slog.Error("failed to write test file", "path", path, "error", err)
		return nil
	}

	slog.Debug("test case written", "path", path, "size", len(raw))
	return nil
}

// Path returns the artifact file name for a.
func (c *Channel) Path(a delivery.Attempt) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s-%04d-%02d.msg", a.Test, a.Case, a.RecipientIndex))
}

// Close is a no-op; every artifact is closed after writing.
func (c *Channel) Close() error {
	return nil
}
