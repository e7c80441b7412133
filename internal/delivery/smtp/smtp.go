// Package smtp implements a Channel that delivers test messages to the mail
// filter under test over SMTP.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/result"
)

// defaultPort is used when the configured server has no port.
const defaultPort = "25"

// errNotSupported is returned when a message or the session needs an
// extension the server does not offer.
var errNotSupported = errors.New("not supported by server")

// errNoRecipients is returned when neither headers nor the run provide an
// envelope recipient.
var errNoRecipients = errors.New("message has no envelope recipients")

// Config holds the configuration for creating a Channel.
type Config struct {
	// Addr is the server under test, host or host:port.
	Addr string

	// HeloName is sent in EHLO. Empty means "localhost".
	HeloName string

	// StartTLS upgrades every session before the first transaction.
	StartTLS bool

	// TLSConfig is used for STARTTLS.
	TLSConfig *tls.Config

	// Sender is the run sender, used as MAIL FROM for messages that ask for
	// an explicit envelope sender.
	Sender string
}

// session is the part of the go-smtp client the channel drives.
type session interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	Mail(from string, opts *gosmtp.MailOptions) error
	Rcpt(to string, opts *gosmtp.RcptOptions) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
	Close() error
}

type dialFunc func(ctx context.Context, cfg Config) (session, error)

// dialClient opens a session. With StartTLS the connection is upgraded
// before the caller's EHLO; go-smtp greets as "localhost" for the plaintext
// part.
func dialClient(_ context.Context, cfg Config) (session, error) {
	if !cfg.StartTLS {
		c, err := gosmtp.Dial(cfg.Addr)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	c, err := gosmtp.DialStartTLS(cfg.Addr, cfg.TLSConfig)
	if err != nil {
		if isTransport(err) {
			return nil, err
		}
		return nil, fmt.Errorf("STARTTLS %w: %v", errNotSupported, err)
	}
	return c, nil
}

// Channel sends each test message in its own SMTP transaction over a
// long-lived session, reconnecting transparently when the server hangs up.
type Channel struct {
	cfg  Config
	dial dialFunc
	sess session
}

// New connects to the server under test.
func New(ctx context.Context, cfg Config) (*Channel, error) {
	return newWithDialer(ctx, cfg, dialClient)
}

func newWithDialer(ctx context.Context, cfg Config, dial dialFunc) (*Channel, error) {
	cfg.Addr = withDefaultPort(cfg.Addr)
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}

	c := &Channel{cfg: cfg, dial: dial}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "smtp"
}

// Deliver runs one SMTP transaction for msg and classifies the result.
func (c *Channel) Deliver(ctx context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	if c.sess == nil {
		if err := c.connect(ctx); err != nil {
			slog.Warn("not connected to server under test", "addr", c.cfg.Addr, "error", err)
			code := result.CodeDisconnected
			if errors.Is(err, errNotSupported) {
				code = result.CodeNotSupported
			}
			return []result.Outcome{result.Failure(a.Test, a.Case, a.Recipient.String(), code, err.Error())}
		}
	}

	from, to := c.envelope(msg, a.Recipient)

	refused, err := c.transaction(msg, from, to)

	outcomes := make([]result.Outcome, 0, len(refused)+1)
	for _, r := range refused {
		slog.Warn("recipient refused",
			"test", a.Test,
			"case", a.Case,
			"recipient", r.rcpt,
			"code", r.err.Code,
			"message", r.err.Message,
		)
		outcomes = append(outcomes, result.Failure(a.Test, a.Case, r.rcpt, r.err.Code, r.err.Message))
	}

	if errors.Is(err, errAllRefused) {
		c.recover(ctx, err)
		return outcomes
	}
	if err != nil {
		o := c.failure(a, a.Recipient.String(), err)
		slog.Warn("delivery failed",
			"test", a.Test,
			"case", a.Case,
			"code", o.Code,
			"error", err,
		)
		outcomes = append(outcomes, o)
		c.recover(ctx, err)
		return outcomes
	}

	if len(refused) == 0 {
		return []result.Outcome{result.Success(a.Test, a.Case, a.Recipient.String())}
	}
	return outcomes
}

// Close terminates the session gracefully.
func (c *Channel) Close() error {
	if c.sess == nil {
		return nil
	}
	s := c.sess
	c.sess = nil

	if err := s.Quit(); err != nil {
		slog.Debug("QUIT failed, closing connection", "error", err)
		if cerr := s.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			return fmt.Errorf("failed to close SMTP session: %w", cerr)
		}
	}
	return nil
}

// refusal is a recipient the server did not accept.
type refusal struct {
	rcpt string
	err  *gosmtp.SMTPError
}

// errAllRefused ends a transaction in which no recipient was accepted. It
// carries no outcome of its own: the refusals are the outcomes.
var errAllRefused = errors.New("all recipients refused")

// transaction runs MAIL, RCPT and DATA. Refused recipients are returned
// alongside any error that ended the transaction early.
func (c *Channel) transaction(msg *message.Message, from string, to []string) ([]refusal, error) {
	if len(to) == 0 {
		return nil, errNoRecipients
	}

	raw, err := msg.SubmissionBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	opts := &gosmtp.MailOptions{}
	if msg.NeedsUTF8(from, to) {
		if ok, _ := c.sess.Extension("SMTPUTF8"); !ok {
			return nil, fmt.Errorf("SMTPUTF8 %w", errNotSupported)
		}
		opts.UTF8 = true
	}
	if !isASCII(raw) {
		if ok, _ := c.sess.Extension("8BITMIME"); ok {
			opts.Body = gosmtp.Body8BitMIME
		}
	}

	if err := c.sess.Mail(from, opts); err != nil {
		return nil, err
	}

	var refused []refusal
	for _, rcpt := range to {
		err := c.sess.Rcpt(rcpt, nil)
		if err == nil {
			continue
		}
		var smtpErr *gosmtp.SMTPError
		if !errors.As(err, &smtpErr) {
			return refused, err
		}
		refused = append(refused, refusal{rcpt: rcpt, err: smtpErr})
	}
	if len(refused) == len(to) {
		return refused, errAllRefused
	}

	w, err := c.sess.Data()
	if err != nil {
		return refused, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return refused, err
	}
	if err := w.Close(); err != nil {
		return refused, err
	}
	return refused, nil
}

// failure classifies an error that ended an attempt.
func (c *Channel) failure(a delivery.Attempt, rcpt string, err error) result.Outcome {
	var smtpErr *gosmtp.SMTPError
	switch {
	case errors.Is(err, errNotSupported):
		return result.Failure(a.Test, a.Case, rcpt, result.CodeNotSupported, err.Error())
	case errors.Is(err, errNoRecipients):
		return result.Failure(a.Test, a.Case, rcpt, result.CodeIOError, err.Error())
	case errors.As(err, &smtpErr):
		return result.Failure(a.Test, a.Case, rcpt, smtpErr.Code, smtpErr.Message)
	case isTransport(err):
		return result.Failure(a.Test, a.Case, rcpt, result.CodeDisconnected, err.Error())
	default:
		return result.Failure(a.Test, a.Case, rcpt, result.CodeIOError, err.Error())
	}
}

// isTransport reports whether err means the connection is unusable.
// Everything else that is not a server reply is a local client error.
func isTransport(err error) bool {
	var (
		netErr   net.Error
		protoErr textproto.ProtocolError
	)
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr) ||
		errors.As(err, &protoErr)
}

// recover brings the session back into a state that accepts the next
// transaction: RSET after a refused transaction or a local client error, a
// fresh connection after a transport failure or a 421 reply.
func (c *Channel) recover(ctx context.Context, err error) {
	if errors.Is(err, errNotSupported) || errors.Is(err, errNoRecipients) {
		return
	}

	var smtpErr *gosmtp.SMTPError
	isReply := errors.As(err, &smtpErr)
	if errors.Is(err, errAllRefused) || (isReply && smtpErr.Code != 421) || (!isReply && !isTransport(err)) {
		rerr := c.sess.Reset()
		if rerr == nil {
			return
		}
		slog.Debug("RSET failed, reconnecting", "error", rerr)
	}

	c.reconnect(ctx)
}

// reconnect drops the current session and dials a new one. When dialing
// fails the next delivery tries again.
func (c *Channel) reconnect(ctx context.Context) {
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}

	slog.Info("reconnecting to server under test", "addr", c.cfg.Addr)
	if err := c.connect(ctx); err != nil {
		slog.Warn("reconnect failed, retrying before next delivery", "addr", c.cfg.Addr, "error", err)
	}
}

func (c *Channel) connect(ctx context.Context) error {
	s, err := c.dial(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.Addr, err)
	}

	if err := s.Hello(c.cfg.HeloName); err != nil {
		s.Close()
		return fmt.Errorf("EHLO failed: %w", err)
	}

	c.sess = s
	return nil
}

// envelope decides MAIL FROM and RCPT TO. Headers are used unless the
// message opts in to the run's sender or recipient.
func (c *Channel) envelope(msg *message.Message, rcpt message.Recipient) (string, []string) {
	from := msg.EnvelopeSender()
	if msg.ExplicitSender {
		from = c.cfg.Sender
	}

	to := msg.EnvelopeRecipients()
	if msg.ExplicitRecipient {
		to = rcpt.Addresses
	}
	return from, to
}

// withDefaultPort appends the SMTP port when addr has none.
func withDefaultPort(addr string) string {
	if addr == "" {
		return net.JoinHostPort("localhost", defaultPort)
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultPort)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}
