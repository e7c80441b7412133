package testcases

import (
	"iter"
	"log/slog"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

func spamUnit() plugin.Unit {
	return unit("spam", plugin.Test{
		ID:          "spam",
		Name:        "Spam Mails",
		Description: "Spam messages (.eml) from folders given by --spam-folder parameter",
		Active:      true,
		Generate: func(env plugin.Env) iter.Seq[*message.Message] {
			return func(yield func(*message.Message) bool) {
				for f := range folderFiles(env.Options.SpamFolders, "*.eml") {
					msg, err := message.Parse(f.data)
					if err != nil {
						slog.Warn("failed to parse spam sample", "file", f.filename, "error", err)
						continue
					}
					msg.Header.Del("To")
					if !yield(msg) {
						return
					}
				}
			}
		},
	})
}

