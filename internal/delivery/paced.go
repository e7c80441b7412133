package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/result"
)

// Paced adds rate limiting to a network channel: after every delivery it
// pauses for the current delay, and a 4xx outcome raises the delay once per
// test case.
type Paced struct {
	inner Channel
	delay *Delay

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPaced wraps a network channel.
func NewPaced(inner Channel, delay *Delay) *Paced {
	return &Paced{
		inner: inner,
		delay: delay,
		sleep: sleepWithContext,
	}
}

// Deliver implements Channel.
func (p *Paced) Deliver(ctx context.Context, msg *message.Message, a Attempt) []result.Outcome {
	p.delay.Arm()

	outcomes := p.inner.Deliver(ctx, msg, a)
	for _, o := range outcomes {
		if o.Transient() && p.delay.Increase() {
			slog.Info("increased delivery delay",
				"delay", p.delay.Current(),
				"code", o.Code,
				"test", a.Test,
				"case", a.Case,
			)
		}
	}

	if err := p.sleep(ctx, p.delay.Current()); err != nil {
		slog.Debug("delivery pause interrupted", "error", err)
	}
	return outcomes
}

// Close implements Channel.
func (p *Paced) Close() error {
	return p.inner.Close()
}

// Name implements Channel.
func (p *Paced) Name() string {
	return p.inner.Name()
}

// Delay exposes the delay state, mainly for reporting.
func (p *Paced) Delay() *Delay {
	return p.delay
}
