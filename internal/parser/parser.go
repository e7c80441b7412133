// Package parser summarizes raw RFC 5322 messages for display. Parts that fail
// to parse are listed as problems instead of failing the whole message.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxExcerpt bounds the body text kept in a Summary.
const maxExcerpt = 4096

// Summary is the human-readable view of a message.
type Summary struct {
	From      string
	To        []string
	Cc        []string
	Subject   string
	MessageID string

	// ContentType is the media type of the top-level entity.
	ContentType string

	TextBody string
	HTMLBody string

	Attachments []Attachment

	// Problems lists parts that could not be decoded.
	Problems []string

	// Size is the size of the raw message in bytes.
	Size int
}

// Attachment describes a non-text part. Disposition is the raw header value,
// which may be deliberately broken.
type Attachment struct {
	Filename    string
	ContentType string
	Disposition string
	Size        int
}

// Parse summarizes a raw message. Only an unreadable header is an error.
func Parse(raw []byte) (*Summary, error) {
	s := &Summary{Size: len(raw)}
	if len(bytes.TrimSpace(raw)) == 0 {
		return s, nil
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isTolerable(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	h := mail.Header{Header: entity.Header}
	s.From = entity.Header.Get("From")
	s.Subject = decoded(h.Subject, entity.Header.Get("Subject"))
	s.MessageID = entity.Header.Get("Message-Id")
	s.To = addressList(h, "To")
	s.Cc = addressList(h, "Cc")

	if mediaType, _, err := entity.Header.ContentType(); err == nil {
		s.ContentType = mediaType
	} else {
		s.ContentType = entity.Header.Get("Content-Type")
	}
	if s.ContentType == "" {
		s.ContentType = "text/plain"
	}

	werr := entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil && !isTolerable(err) {
			s.Problems = append(s.Problems, fmt.Sprintf("part %v: %v", path, err))
			return nil
		}
		s.addPart(part)
		return nil
	})
	if werr != nil {
		slog.Warn("incomplete MIME walk", "error", werr)
		s.Problems = append(s.Problems, werr.Error())
	}

	return s, nil
}

func (s *Summary) addPart(part *message.Entity) {
	mediaType, params, err := part.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		return
	}

	content, err := io.ReadAll(part.Body)
	if err != nil {
		s.Problems = append(s.Problems, fmt.Sprintf("%s: %v", mediaType, err))
		return
	}

	rawDisposition := part.Header.Get("Content-Disposition")
	disposition, dparams, _ := part.Header.ContentDisposition()
	filename := dparams["filename"]
	if filename == "" {
		filename = params["name"]
	}

	isText := mediaType == "text/plain" || mediaType == "text/html"
	if disposition == "attachment" || filename != "" || !isText {
		s.Attachments = append(s.Attachments, Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Disposition: rawDisposition,
			Size:        len(content),
		})
		return
	}

	switch mediaType {
	case "text/html":
		if s.HTMLBody == "" {
			s.HTMLBody = excerpt(content)
		}
	default:
		if s.TextBody == "" {
			s.TextBody = excerpt(content)
		}
	}
}

// isTolerable reports errors after which the entity is still usable.
func isTolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func decoded(fn func() (string, error), fallback string) string {
	v, err := fn()
	if err != nil {
		return fallback
	}
	return v
}

// addressList parses an address header, falling back to a comma split when
// the value is not RFC 5322 compliant.
func addressList(h mail.Header, key string) []string {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, addr.Address)
	}
	return out
}

func excerpt(content []byte) string {
	if len(content) > maxExcerpt {
		return string(content[:maxExcerpt]) + "..."
	}
	return string(content)
}
