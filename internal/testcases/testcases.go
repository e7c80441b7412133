// Package testcases holds the test case generators shipped with mailprobe.
// Every file contributes one discovery unit.
package testcases

import (
	"iter"

	"github.com/shineum/mailprobe/internal/evasion"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

// Units returns every generator unit, including the evasions the generators
// rely on.
func Units() []plugin.Unit {
	return []plugin.Unit{
		attachmentsUnit(),
		blacklistUnit(),
		bounceUnit(),
		bulkUnit(),
		emptyUnit(),
		iframeUnit(),
		impostorUnit(),
		spamUnit(),
		spfUnit(),
		xssUnit(),
		evasion.Unit(),
	}
}

// unit wraps a fixed list of tests.
func unit(name string, tests ...plugin.Test) plugin.Unit {
	return plugin.Unit{
		Name: name,
		Load: func() (plugin.Contribution, error) {
			return plugin.Contribution{Tests: tests}, nil
		},
	}
}

// text builds a single-part message with the given header fields, given as
// key/value pairs.
func text(body, subtype string, fields ...string) *message.Message {
	msg := message.NewText(body, subtype)
	for i := 0; i+1 < len(fields); i += 2 {
		msg.Header.Add(fields[i], fields[i+1])
	}
	return msg
}

// yieldAll yields msgs in order.
func yieldAll(msgs ...*message.Message) iter.Seq[*message.Message] {
	return func(yield func(*message.Message) bool) {
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}
