package testcases

import (
	"fmt"
	"iter"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

var badReplyToDomains = []string{"secureserver.net", "gmail.com"}

var homographDomains = []struct {
	desc, domain string
}{
	{"plain cyrillic e", "thyssєnkrupp.com"},
	{"Punycode cyrillic e", "xn--thyssnkrupp-fvj.com"},
	{"Plain cyrillic o", "gооgle.com"},
	{"Punycode cyrillic o", "xn--ggle-55da.com"},
}

const homographLinkHTML = `
<html>
<body>
Please login <a href="https://login.%s">here</a>.
</body>
</html>
`

func impostorUnit() plugin.Unit {
	homographSender := func(plugin.Env) iter.Seq[*message.Message] {
		return func(yield func(*message.Message) bool) {
			for _, h := range homographDomains {
				msg := text("This is a test mail.", "plain",
					"Subject", "Homograph sender address - "+h.desc,
					"From", "impostor@"+h.domain,
				)
				if !yield(msg) {
					return
				}
			}
		}
	}

	return unit("impostor",
		plugin.Test{
			ID:          "bad_replyto",
			Name:        "Bad Reply-To addresses",
			Description: "Known bad reply to domains",
			Active:      true,
			Generate: func(plugin.Env) iter.Seq[*message.Message] {
				return func(yield func(*message.Message) bool) {
					for _, domain := range badReplyToDomains {
						msg := text("Bad Reply-To test mail", "plain",
							"Reply-To", "impostor@"+domain,
							"Subject", "Bad Reply-To - "+domain,
						)
						if !yield(msg) {
							return
						}
					}
				}
			},
		},
		plugin.Test{
			ID:          "homograph-link",
			Name:        "HTML link URL homograph attacks",
			Description: "Obfuscation of faked domains by IDN homographs in HTML link",
			Active:      true,
			Generate: func(plugin.Env) iter.Seq[*message.Message] {
				return func(yield func(*message.Message) bool) {
					for _, h := range homographDomains {
						msg := text(fmt.Sprintf(homographLinkHTML, h.domain), "html",
							"Subject", "Homograph HTML Link - "+h.desc,
						)
						if !yield(msg) {
							return
						}
					}
				}
			},
		},
		plugin.Test{
			ID:          "homograph-sender",
			Name:        "Sender address homograph attacks",
			Description: "Obfuscation of faked domains by IDN homographs in sender address",
			Active:      true,
			Generate:    homographSender,
		},
		plugin.Test{
			ID:             "homograph-sender-smtp",
			Name:           "Sender address homograph attacks",
			Description:    "Obfuscation of faked domains by IDN homographs in sender address with explicit sender in SMTP dialog",
			Active:         true,
			ExplicitSender: true,
			Generate:       homographSender,
		},
		plugin.Test{
			ID:          "sender_spoofing",
			Name:        "Spoofed Sender Address",
			Description: "Mail with internal sender address sent from the Internet",
			Active:      true,
			Generate: func(env plugin.Env) iter.Seq[*message.Message] {
				return func(yield func(*message.Message) bool) {
					for _, sender := range spoofedSenders(env) {
						msg := text("This is a test mail with spoofed sender address", "plain",
							"Subject", "Spoofed Sender from "+sender,
							"From", sender,
						)
						if !yield(msg) {
							return
						}
					}
				}
			},
		},
	)
}

// spoofedSenders prefers the single spoofed sender over the list and falls
// back to the recipient itself.
func spoofedSenders(env plugin.Env) []string {
	switch {
	case env.Options.SpoofedSender != "":
		return []string{env.Options.SpoofedSender}
	case len(env.Options.SpoofedSenders) > 0:
		return env.Options.SpoofedSenders
	default:
		return []string{env.Recipient.String()}
	}
}
