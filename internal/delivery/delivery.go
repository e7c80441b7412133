// Package delivery defines the channels that turn generated test messages into
// network deliveries or stored artifacts.
package delivery

import (
	"context"
	"time"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/result"
)

// Attempt identifies one delivery: which test case goes to which recipient.
// Indices are 1-based.
type Attempt struct {
	Test           string
	Case           int
	Recipient      message.Recipient
	RecipientIndex int
}

// Channel is the interface that delivery backends must implement.
type Channel interface {
	// Deliver hands one message to the backend. Failures are reported as
	// outcomes and never abort the run; storage channels report nothing
	// and log I/O problems instead.
	Deliver(ctx context.Context, msg *message.Message, a Attempt) []result.Outcome

	// Close releases connections and flushes files. It is called exactly once.
	Close() error

	// Name returns the human-readable name of this channel.
	Name() string
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
