package testcases

import (
	"fmt"
	"iter"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

var iframeTargets = []struct {
	desc, url string
}{
	{"HTTPS URL", "https://www.thyssenkrupp.com"},
	{"about:blank URL", "about:blank"},
	{"File URL", "file:///etc/passwd"},
	{"Data URL", "data:text/plain;charset=utf-8;base64,Q29udGVudCBmcm9tIGRhdGEgVVJM"},
}

const iframeHTML = `
<html>
<body>
<iframe src="%s"></iframe>
</body>
</html>
`

func iframeUnit() plugin.Unit {
	return unit("iframe", plugin.Test{
		ID:          "iframe",
		Name:        "HTML with frames",
		Description: "HTML mails containing iFrames with different targets",
		Active:      true,
		Generate: func(plugin.Env) iter.Seq[*message.Message] {
			return func(yield func(*message.Message) bool) {
				for _, target := range iframeTargets {
					msg := text(fmt.Sprintf(iframeHTML, target.url), "html",
						"Subject", "Testmail with frame - "+target.desc,
					)
					if !yield(msg) {
						return
					}
				}
			}
		},
	})
}
