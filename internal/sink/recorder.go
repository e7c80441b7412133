package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/parser"
)

// storeTest is the test ID under which captured messages are stored.
const storeTest = "sink"

// Recorder logs a summary of every captured message and optionally stores
// it through a storage channel. Sessions run concurrently; the channel is
// only ever used by one of them at a time.
type Recorder struct {
	mu    sync.Mutex
	store delivery.Channel
	count int
}

// NewRecorder returns a Recorder. A nil store only logs.
func NewRecorder(store delivery.Channel) *Recorder {
	return &Recorder{store: store}
}

// Handle implements Handler.
func (r *Recorder) Handle(ctx context.Context, env Envelope, raw []byte) error {
	summary, err := parser.Parse(raw)
	if err != nil {
		slog.Warn("captured message is not valid MIME", "from", env.From, "error", err)
	} else {
		slog.Info("message captured",
			"from", env.From,
			"to", env.To,
			"subject", summary.Subject,
			"attachments", len(summary.Attachments),
			"problems", len(summary.Problems),
			"size", len(raw),
		)
	}

	if r.store == nil {
		return nil
	}

	msg, err := message.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to read captured message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	a := delivery.Attempt{
		Test:           storeTest,
		Case:           r.count,
		Recipient:      message.Group(env.To),
		RecipientIndex: 1,
	}
	for _, o := range r.store.Deliver(ctx, msg, a) {
		if !o.Delivered {
			return fmt.Errorf("store %s: %d %s", r.store.Name(), o.Code, o.Message)
		}
	}
	return nil
}

// Count returns the number of stored messages.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the storage channel.
func (r *Recorder) Close() error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("failed to close sink storage: %w", err)
	}
	return nil
}
