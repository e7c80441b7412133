package stdout

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/parser"
)

func attempt() delivery.Attempt {
	return delivery.Attempt{Test: "bad_filetypes", Case: 7, Recipient: message.Single("alice@example.com"), RecipientIndex: 1}
}

func TestDeliver_BasicMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewWithWriter(&buf)

	msg := message.NewText("Please find the report attached.", "plain")
	msg.Header.Add("Subject", "Monthly Report")
	msg.Finalize("sender@example.com", message.Group([]string{"alice@example.com", "bob@example.com"}))

	if out := c.Deliver(context.Background(), msg, attempt()); out != nil {
		t.Errorf("console delivery returned outcomes: %+v", out)
	}

	output := buf.String()

	for _, want := range []string{
		"Test: bad_filetypes #7 -> alice@example.com",
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Subject: Monthly Report",
		"Please find the report attached.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(output, "Attachment:") {
		t.Error("output should not contain Attachment lines when there are none")
	}
	if !strings.HasPrefix(output, separator) {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, separator) {
		t.Error("output should end with separator line")
	}
}

func TestDeliver_WithAttachment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewWithWriter(&buf)

	att := message.Application([]byte(strings.Repeat("foobar ", 100)))
	att.Header.Add("Content-Disposition", `attachment; filename="badsuffix.exe"`)
	msg := message.New(message.Multipart("mixed", message.Text("see attachment", "plain"), att))
	msg.Finalize("sender@example.com", message.Single("alice@example.com"))

	c.Deliver(context.Background(), msg, attempt())

	output := buf.String()
	if !strings.Contains(output, "Attachment: badsuffix.exe application/octet-stream (700 B)") {
		t.Errorf("output missing attachment line:\n%s", output)
	}
	if !strings.Contains(output, `Content-Disposition: attachment; filename="badsuffix.exe"`) {
		t.Error("output missing raw Content-Disposition")
	}
}

func TestFormat_HTMLBodyFallback(t *testing.T) {
	t.Parallel()

	out := Format(&parser.Summary{HTMLBody: "<p>Hello</p>", Cc: []string{"carol@example.com"}}, attempt())
	if !strings.Contains(out, "<p>Hello</p>") {
		t.Error("output should fall back to HTML body")
	}
	if !strings.Contains(out, "Cc: carol@example.com") {
		t.Error("output missing Cc line")
	}
}

func TestFormat_UnnamedAttachmentAndProblems(t *testing.T) {
	t.Parallel()

	out := Format(&parser.Summary{
		Attachments: []parser.Attachment{{ContentType: "application/zip", Size: 2048}},
		Problems:    []string{"part [1]: bad boundary"},
	}, attempt())

	if !strings.Contains(out, "Attachment: (unnamed) application/zip (2.0 KB)") {
		t.Errorf("unexpected attachment rendering:\n%s", out)
	}
	if !strings.Contains(out, "Problem: part [1]: bad boundary") {
		t.Error("output missing problem line")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	c := New()
	if c.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", c.Name(), "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
