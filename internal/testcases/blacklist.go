package testcases

import (
	"iter"
	"strings"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

// blacklistDomainPrefix is the local part used for blacklisted domains.
const blacklistDomainPrefix = "test"

func blacklistUnit() plugin.Unit {
	return unit("blacklist", plugin.Test{
		ID:          "sender_blacklist",
		Name:        "Blacklisted Senders",
		Description: "Send mails with addresses from a black list (--blacklist)",
		Active:      true,
		Generate: func(env plugin.Env) iter.Seq[*message.Message] {
			return func(yield func(*message.Message) bool) {
				for _, addr := range env.Options.Blacklist {
					if strings.HasPrefix(addr, "@") {
						addr = blacklistDomainPrefix + addr
					}
					msg := text("The sender is blacklisted and the mail should be filtered", "plain",
						"From", addr,
						"Subject", "Blacklisted Sender",
					)
					if !yield(msg) {
						return
					}
				}
			}
		},
	})
}
