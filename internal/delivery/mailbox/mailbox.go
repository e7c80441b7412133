// Package mailbox implements storage Channels that collect test messages in
// a local mailbox, either a single mbox file or a maildir directory.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/emersion/go-mbox"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/result"
)

// Format selects the mailbox layout.
type Format string

const (
	FormatMbox    Format = "mbox"
	FormatMaildir Format = "maildir"
)

// unknownSender is used in the mbox separator line for null senders.
const unknownSender = "MAILER-DAEMON"

// New opens the mailbox at path in the given format.
func New(format Format, path string) (delivery.Channel, error) {
	switch format {
	case FormatMbox:
		return NewMbox(path)
	case FormatMaildir:
		return NewMaildir(path)
	default:
		return nil, fmt.Errorf("unknown mailbox format %q", format)
	}
}

// Mbox appends every message to a single mbox file.
type Mbox struct {
	file *os.File
	w    *mbox.Writer
	now  func() time.Time
}

// NewMbox opens path for appending, creating it if needed.
func NewMbox(path string) (*Mbox, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbox: %w", err)
	}
	return &Mbox{file: f, w: mbox.NewWriter(f), now: time.Now}, nil
}

// Name returns the channel name.
func (m *Mbox) Name() string {
	return "mbox"
}

// Deliver appends msg. The separator line carries the envelope sender and the
// time of delivery.
func (m *Mbox) Deliver(_ context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	if m.w == nil {
		slog.Error("mbox already closed", "test", a.Test, "case", a.Case)
		return nil
	}

	from := msg.EnvelopeSender()
	if from == "" {
		from = unknownSender
	}

	w, err := m.w.CreateMessage(from, m.now())
	if err != nil {
		slog.Error("failed to add message to mbox", "test", a.Test, "case", a.Case, "error", err)
		return nil
	}
	if _, err := msg.WriteTo(w); err != nil {
		slog.Error("failed to write message to mbox", "test", a.Test, "case", a.Case, "error", err)
	}
	return nil
}

// Close flushes the last message and closes the file.
func (m *Mbox) Close() error {
	if m.w == nil {
		return nil
	}
	werr := m.w.Close()
	ferr := m.file.Close()
	m.w = nil
	if werr != nil {
		werr = fmt.Errorf("failed to finish mbox: %w", werr)
	}
	if ferr != nil {
		ferr = fmt.Errorf("failed to close mbox: %w", ferr)
	}
	return errors.Join(werr, ferr)
}

// Maildir delivers every message into the new/ folder of a maildir.
type Maildir struct {
	dir maildir.Dir
}

// NewMaildir creates the maildir structure at path if needed.
func NewMaildir(path string) (*Maildir, error) {
	dir := maildir.Dir(path)
	if err := dir.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize maildir: %w", err)
	}
	return &Maildir{dir: dir}, nil
}

// Name returns the channel name.
func (m *Maildir) Name() string {
	return "maildir"
}

// Deliver stores msg as a new message.
func (m *Maildir) Deliver(_ context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	d, err := maildir.NewDelivery(string(m.dir))
	if err != nil {
		slog.Error("failed to start maildir delivery", "test", a.Test, "case", a.Case, "error", err)
		return nil
	}

	if _, err := msg.WriteTo(d); err != nil {
		slog.Error("failed to write message to maildir", "test", a.Test, "case", a.Case, "error", err)
		if aerr := d.Abort(); aerr != nil {
			slog.Debug("failed to abort maildir delivery", "error", aerr)
		}
		return nil
	}

	if err := d.Close(); err != nil {
		slog.Error("failed to finish maildir delivery", "test", a.Test, "case", a.Case, "error", err)
	}
	return nil
}

// Close is a no-op; every delivery is committed on its own.
func (m *Maildir) Close() error {
	return nil
}
