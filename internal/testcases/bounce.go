package testcases

import (
	"iter"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

const bounceBody = `
This message was created automatically by mail delivery software.

A message that you sent could not be delivered to all of its recipients.
This is a permanent error. The following address(es) failed:

test@testinvalid
`

func bounceUnit() plugin.Unit {
	return unit("bounce", plugin.Test{
		ID:          "bounce",
		Name:        "Bounce-like mail",
		Description: "Mail with empty envelope",
		Active:      true,
		Generate: func(plugin.Env) iter.Seq[*message.Message] {
			return yieldAll(text(bounceBody, "plain",
				"Subject", "Mail Delivery System",
				"From", "<>",
			))
		},
	})
}
