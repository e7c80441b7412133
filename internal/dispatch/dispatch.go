// Package dispatch drives a run: it expands every selected test for every
// recipient and hands the resulting test cases to the delivery channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
	"github.com/shineum/mailprobe/internal/result"
	"github.com/shineum/mailprobe/internal/selection"
)

// Runner holds everything one run needs. Channel and Sink are owned by the
// Runner once Run is called: both are closed exactly once when it returns.
type Runner struct {
	Sender     string
	Recipients []message.Recipient
	Evasions   plugin.EvasionSet
	Options    plugin.Options

	Channel delivery.Channel
	Sink    result.Sink

	Filter selection.Filter
	Tests  selection.Tests

	Logger *slog.Logger
}

// Stats counts what a run did.
type Stats struct {
	Generated int
	Skipped   int
	Delivered int
	Outcomes  int
}

// Run delivers the test cases of tests in order: test, then recipient, then
// test case. It stops early only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, tests []plugin.Test) (Stats, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := r.Sink
	if sink == nil {
		sink = result.Discard{}
	}

	stats, runErr := r.run(ctx, logger, sink, tests)

	var closeErrs []error
	if err := r.Channel.Close(); err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("failed to close %s channel: %w", r.Channel.Name(), err))
	}
	if err := sink.Close(); err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("failed to close result log: %w", err))
	}

	logger.Info("run finished",
		"generated", stats.Generated,
		"skipped", stats.Skipped,
		"delivered", stats.Delivered,
		"outcomes", stats.Outcomes,
	)
	return stats, errors.Join(append([]error{runErr}, closeErrs...)...)
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, sink result.Sink, tests []plugin.Test) (Stats, error) {
	var stats Stats

	for _, test := range tests {
		if !r.Tests.Runs(test.ID) {
			logger.Debug("test not selected", "test", test.ID)
			continue
		}

		for ri, rcpt := range r.Recipients {
			env := plugin.Env{
				Sender:    r.Sender,
				Recipient: rcpt,
				Evasions:  r.Evasions,
				Options:   r.Options,
			}

			caseIndex := 0
			for msg := range test.Source(env) {
				if err := ctx.Err(); err != nil {
					return stats, err
				}

				caseIndex++
				stats.Generated++
				if !r.Filter.Allows(test.ID, caseIndex) {
					stats.Skipped++
					continue
				}

				a := delivery.Attempt{
					Test:           test.ID,
					Case:           caseIndex,
					Recipient:      rcpt,
					RecipientIndex: ri + 1,
				}
				logger.Info("sending test case",
					"test", test.ID,
					"case", caseIndex,
					"recipient", rcpt.String(),
				)

				outcomes := r.Channel.Deliver(ctx, msg, a)
				stats.Delivered++
				for _, o := range outcomes {
					stats.Outcomes++
					if err := sink.Log(o); err != nil {
						logger.Error("failed to write result", "test", o.Test, "case", o.Case, "error", err)
					}
				}
			}
		}
	}

	return stats, ctx.Err()
}
