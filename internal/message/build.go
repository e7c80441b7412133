package message

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"mime"
	"strings"
	"unicode/utf8"
)

// Text builds a text/<subtype> leaf. ASCII content is sent as 7bit us-ascii,
// anything else as base64 encoded utf-8.
func Text(body, subtype string) *Entity {
	if subtype == "" {
		subtype = "plain"
	}

	e := &Entity{}
	e.Header.Add("Content-Transfer-Encoding", "7bit")
	e.Header.Add("MIME-Version", "1.0")

	charset := "us-ascii"
	content := []byte(body)
	if !isASCII(body) {
		charset = "utf-8"
		e.Header.Set("Content-Transfer-Encoding", "base64")
		content = []byte(EncodeBase64(content))
	}

	e.Header.Add("Content-Type", mime.FormatMediaType("text/"+subtype, map[string]string{"charset": charset}))
	e.Body = content
	return e
}

// NewText builds a message consisting of a single text part.
func NewText(body, subtype string) *Message {
	return New(Text(body, subtype))
}

// Application builds a base64 encoded application/octet-stream leaf.
func Application(data []byte) *Entity {
	e := &Entity{}
	e.Header.Add("Content-Transfer-Encoding", "base64")
	e.Header.Add("MIME-Version", "1.0")
	e.Header.Add("Content-Type", "application/octet-stream")
	e.Body = []byte(EncodeBase64(data))
	return e
}

// Multipart builds a multipart/<subtype> entity with a fresh boundary.
func Multipart(subtype string, parts ...*Entity) *Entity {
	if subtype == "" {
		subtype = "mixed"
	}

	e := &Entity{Parts: parts}
	e.Header.Add("MIME-Version", "1.0")
	e.Header.Add("Content-Type", mime.FormatMediaType("multipart/"+subtype, map[string]string{
		"boundary": newBoundary(),
	}))
	return e
}

// Bare returns an entity without any header field, used for messages that
// deliberately lack MIME structure.
func Bare() *Entity {
	return &Entity{}
}

// EncodeBase64 encodes data to base64 with 76-character line breaks per RFC 2045.
func EncodeBase64(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func newBoundary() string {
	var b [15]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("message: failed to read random boundary: " + err.Error())
	}
	return "===============" + hex.EncodeToString(b[:]) + "=="
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
