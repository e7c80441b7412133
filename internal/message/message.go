// Package message defines the test message artifacts produced by the test case
// generators and consumed by the delivery channels.
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// Entity is a single MIME node. Body holds the already transfer-encoded
// content of a leaf; a multipart entity renders Parts instead, separated by
// the boundary parameter of its Content-Type header.
type Entity struct {
	Header textproto.Header
	Body   []byte
	Parts  []*Entity
}

// Message is a generated test case. It is the root entity plus the envelope
// opt-ins that tell network channels to put the run sender into MAIL FROM or
// the run recipient into RCPT TO instead of deriving them from the headers.
type Message struct {
	Entity

	ExplicitSender    bool
	ExplicitRecipient bool
}

// New wraps a root entity into a Message.
func New(root *Entity) *Message {
	if root == nil {
		root = &Entity{}
	}
	return &Message{Entity: *root}
}

// Finalize completes a generated message for delivery: a missing From header
// is filled with the run sender and a missing To header with the recipient.
func (m *Message) Finalize(sender string, to Recipient) *Message {
	if !m.Header.Has("From") {
		m.Header.Add("From", sender)
	}
	if !m.Header.Has("To") {
		m.Header.Add("To", to.String())
	}
	return m
}

// Bytes serializes the message into its wire representation.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SubmissionBytes serializes the message as it is handed to a mail server.
// Bcc addresses belong to the envelope only and are left out.
func (m *Message) SubmissionBytes() ([]byte, error) {
	if !m.Header.Has("Bcc") {
		return m.Bytes()
	}
	c := *m
	c.Header = m.Header.Copy()
	c.Header.Del("Bcc")
	return c.Bytes()
}

// Parse reads a serialized message back. The header is parsed; everything
// after the blank line that terminates it is kept verbatim as the body.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return New(nil), nil
	}

	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return New(&Entity{Header: header, Body: body}), nil
}

// WriteTo writes the entity including its header to w.
func (e *Entity) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if err := textproto.WriteHeader(cw, e.Header); err != nil {
		return cw.n, fmt.Errorf("failed to write header: %w", err)
	}
	if err := e.writeBody(cw); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// HeaderBytes returns the serialized header block.
func (e *Entity) HeaderBytes() []byte {
	var buf bytes.Buffer
	// Writing into a bytes.Buffer cannot fail.
	_ = textproto.WriteHeader(&buf, e.Header)
	return buf.Bytes()
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		Header: e.Header.Copy(),
		Body:   append([]byte(nil), e.Body...),
	}
	for _, p := range e.Parts {
		c.Parts = append(c.Parts, p.Clone())
	}
	return c
}

// IsMultipart reports whether the entity renders child parts.
func (e *Entity) IsMultipart() bool {
	return len(e.Parts) > 0
}

func (e *Entity) writeBody(w io.Writer) error {
	if !e.IsMultipart() {
		if _, err := w.Write(e.Body); err != nil {
			return fmt.Errorf("failed to write body: %w", err)
		}
		return nil
	}

	boundary, err := e.boundary()
	if err != nil {
		return err
	}

	mw := textproto.NewMultipartWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return fmt.Errorf("invalid boundary %q: %w", boundary, err)
	}

	for i, part := range e.Parts {
		pw, err := mw.CreatePart(part.Header)
		if err != nil {
			return fmt.Errorf("failed to create part %d: %w", i, err)
		}
		if err := part.writeBody(pw); err != nil {
			return fmt.Errorf("failed to write part %d: %w", i, err)
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}
	return nil
}

func (e *Entity) boundary() (string, error) {
	_, params, err := mime.ParseMediaType(e.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("multipart entity has unparseable content type: %w", err)
	}
	b := strings.TrimSpace(params["boundary"])
	if b == "" {
		return "", fmt.Errorf("multipart entity is missing a boundary")
	}
	return b, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
