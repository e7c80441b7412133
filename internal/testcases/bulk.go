package testcases

import (
	"iter"

	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/plugin"
)

var mailingListHeaders = []string{
	"List-Id", "<foobar.test.invalid>",
	"List-Unsubscribe", "<http://test.invalid/unsubscribe>",
	"List-Unsubscribe-Post", "List-Unsubscribe=One-Click",
	"X-ulpe", "foobar@test.invalid",
	"DKIM-Signature", "v=1; a=rsa-sha256; c=relaxed; s=mailing; d=test.invalid; " +
		"h=Date:From:Reply-To:To:Message-ID:Subject:MIME-Version:Content-Type:List-Id: " +
		"X-CSA-Complaints:List-Unsubscribe:List-Unsubscribe-Post:X-ulpe:Feedback-ID; " +
		"bh=Zm9vYmFyCg==; b=Zm9vYmFyCg==",
}

func bulkUnit() plugin.Unit {
	return unit("bulk", plugin.Test{
		ID:          "mailinglist",
		Name:        "Mailing list headers",
		Description: "Mails that contain mailing list headers (List-*)",
		Active:      true,
		Generate: func(plugin.Env) iter.Seq[*message.Message] {
			fields := append([]string{"Subject", "Mailing List"}, mailingListHeaders...)
			return yieldAll(text("Mailing list header test", "plain", fields...))
		},
	})
}
