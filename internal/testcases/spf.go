package testcases

import (
	"iter"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

// spfDomains publish strict SPF records with high probability.
var spfDomains = []string{"gmail.com", "microsoft.com", "facebook.com"}

func spfUnit() plugin.Unit {
	return unit("spf", plugin.Test{
		ID:          "spf",
		Name:        "Spoofed SPF-enabled domain",
		Description: "Mails spoofed from domains with valid SPF configuration",
		Active:      true,
		Generate: func(plugin.Env) iter.Seq[*message.Message] {
			return func(yield func(*message.Message) bool) {
				for _, domain := range spfDomains {
					msg := text("This is a SPF verification check.", "plain",
						"Subject", "SPF Check - "+domain,
						"From", "spf-test@"+domain,
					)
					if !yield(msg) {
						return
					}
				}
			}
		},
	})
}
