package message

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// EnvelopeSender derives MAIL FROM from the Sender header, falling back to
// From. A header holding only "<>" yields the null sender.
func (m *Message) EnvelopeSender() string {
	raw := m.Header.Get("Sender")
	if raw == "" {
		raw = m.Header.Get("From")
	}
	addrs := parseAddresses(raw)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// EnvelopeRecipients derives RCPT TO from the To, Cc and Bcc headers.
func (m *Message) EnvelopeRecipients() []string {
	var out []string
	for _, key := range []string{"To", "Cc", "Bcc"} {
		out = append(out, parseAddresses(m.Header.Get(key))...)
	}
	return out
}

// NeedsUTF8 reports whether delivering the message with the given envelope
// requires the SMTPUTF8 extension.
func (m *Message) NeedsUTF8(from string, to []string) bool {
	if !isASCII(from) {
		return true
	}
	for _, rcpt := range to {
		if !isASCII(rcpt) {
			return true
		}
	}
	return !isASCII(string(m.HeaderBytes()))
}

// parseAddresses extracts bare addresses from a header value. Generated test
// messages frequently carry malformed addresses on purpose, so values the
// RFC 5322 parser rejects are split on commas instead.
func parseAddresses(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if list, err := mail.ParseAddressList(raw); err == nil {
		out := make([]string, 0, len(list))
		for _, addr := range list {
			if addr.Address != "" {
				out = append(out, addr.Address)
			}
		}
		return out
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if i := strings.LastIndex(p, "<"); i >= 0 {
			p = p[i+1:]
		}
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), ">"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
