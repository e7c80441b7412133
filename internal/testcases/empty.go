package testcases

import (
	"iter"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

func emptyUnit() plugin.Unit {
	return unit("empty",
		plugin.Test{
			ID:          "empty_no_mime",
			Name:        "Empty mail without mime header",
			Description: "Minimal mail without any content and mime header",
			Active:      true,
			Generate: func(plugin.Env) iter.Seq[*message.Message] {
				return yieldAll(message.New(message.Bare()))
			},
		},
		plugin.Test{
			ID:          "empty_no_mime_subject",
			Name:        "Empty mail without mime header, but with a subject header",
			Description: "Minimal mail without any content and mime header, but with a subject header",
			Active:      true,
			Generate: func(plugin.Env) iter.Seq[*message.Message] {
				msg := message.New(message.Bare())
				msg.Header.Add("Subject", "")
				return yieldAll(msg)
			},
		},
		plugin.Test{
			ID:          "empty_mime_no_subject_subject",
			Name:        "Empty mail with mime header, but without a subject header",
			Description: "Minimal mail without any content and subject header, but with mime header",
			Active:      true,
			Generate: func(plugin.Env) iter.Seq[*message.Message] {
				return yieldAll(text("", "plain"))
			},
		},
		plugin.Test{
			ID:          "empty",
			Name:        "Empty Mail",
			Description: "Minimal mail without any content",
			Active:      true,
			Generate: func(plugin.Env) iter.Seq[*message.Message] {
				return yieldAll(
					text("", "plain"),
					text("", "plain", "Subject", ""),
				)
			},
		},
		plugin.Test{
			ID:          "almost_empty",
			Name:        "Almost Empty Mail",
			Description: "Minimal mail without any content but with subject",
			Active:      true,
			Generate: func(plugin.Env) iter.Seq[*message.Message] {
				return yieldAll(text("", "plain", "Subject", "Mail without content"))
			},
		},
	)
}
