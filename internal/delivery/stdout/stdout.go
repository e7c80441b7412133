// Package stdout implements a Channel that prints test messages to standard
// output instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/parser"
	"github.com/shineum/mailprobe/internal/result"
)

const separator = "========================================\n"

// Channel prints a human-readable summary of every test case.
type Channel struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Channel that writes to os.Stdout.
func New() *Channel {
	return &Channel{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Channel that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Channel {
	return &Channel{writer: w}
}

// Deliver prints the message. Like the storage channels it reports no
// outcomes.
func (c *Channel) Deliver(_ context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	raw, err := msg.Bytes()
	if err != nil {
		slog.Error("failed to serialize test case", "test", a.Test, "case", a.Case, "error", err)
		return nil
	}

	summary, err := parser.Parse(raw)
	if err != nil {
		slog.Warn("failed to summarize test case", "test", a.Test, "case", a.Case, "error", err)
		summary = &parser.Summary{Size: len(raw)}
	}

	if _, err := io.WriteString(c.writer, Format(summary, a)); err != nil {
		slog.Error("failed to write to stdout", "error", err)
	}
	return nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "stdout"
}

// Close is a no-op.
func (c *Channel) Close() error {
	return nil
}

// Format renders a summary of one test case.
func Format(s *parser.Summary, a delivery.Attempt) string {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Test: %s #%d -> %s\n", a.Test, a.Case, a.Recipient)
	fmt.Fprintf(&b, "From: %s\n", s.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(s.To, ", "))

	if len(s.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(s.Cc, ", "))
	}

	fmt.Fprintf(&b, "Subject: %s\n", s.Subject)
	fmt.Fprintf(&b, "Content-Type: %s (%s)\n", s.ContentType, formatSize(s.Size))
	b.WriteString("Body:\n")

	body := s.TextBody
	if body == "" {
		body = s.HTMLBody
	}
	b.WriteString(body + "\n")

	for _, att := range s.Attachments {
		name := att.Filename
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&b, "Attachment: %s %s (%s)\n", name, att.ContentType, formatSize(att.Size))
		if att.Disposition != "" {
			fmt.Fprintf(&b, "  Content-Disposition: %s\n", att.Disposition)
		}
	}

	for _, p := range s.Problems {
		fmt.Fprintf(&b, "Problem: %s\n", p)
	}

	b.WriteString(separator)
	return b.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
