package sink

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// SessionConfig is shared by all sessions of a server.
type SessionConfig struct {
	Hostname  string
	TLSConfig *tls.Config
	Auth      *Authenticator
	Handler   Handler
	Rules     Rules

	// MaxMessageSize is advertised with SIZE and enforced on DATA.
	MaxMessageSize int64

	// SMTPUTF8 advertises and accepts internationalized addresses.
	SMTPUTF8 bool
}

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int
	cfg    SessionConfig

	tlsActive bool

	// Current transaction
	env        Envelope
	dropOnData bool
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("", "")
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateConnected,
		cfg:    cfg,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects, a rule drops the connection or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP mailprobe sink", s.cfg.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		return s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.cfg.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.cfg.Hostname, arg)
	if s.cfg.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.cfg.Auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	if s.cfg.SMTPUTF8 {
		s.writeLine("250-SMTPUTF8")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250 SIZE %d", s.cfg.MaxMessageSize)
}

// handleSTARTTLS upgrades the connection to TLS. A failed handshake ends the
// session.
func (s *Session) handleSTARTTLS() bool {
	if s.cfg.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return false
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return false
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.cfg.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.resetTransaction()
	s.state = stateConnected
	return false
}

// handleAUTH processes AUTH commands (PLAIN and LOGIN mechanisms).
func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.cfg.Auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		s.handleAuthPlain(initial)
	case "LOGIN":
		s.handleAuthLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
	}
}

// handleAuthPlain processes AUTH PLAIN with or without an initial response.
func (s *Session) handleAuthPlain(encoded string) {
	if encoded == "" {
		var ok bool
		if encoded, ok = s.challenge("334"); !ok {
			return
		}
	}
	s.finishAuth(s.cfg.Auth.VerifyPlain(encoded))
}

// handleAuthLogin processes AUTH LOGIN via challenge-response.
func (s *Session) handleAuthLogin() {
	user, ok := s.challenge("334 VXNlcm5hbWU6")
	if !ok {
		return
	}
	pass, ok := s.challenge("334 UGFzc3dvcmQ6")
	if !ok {
		return
	}
	s.finishAuth(s.cfg.Auth.VerifyLogin(user, pass))
}

// challenge sends an AUTH challenge and returns the client's answer. A
// cancelled exchange or a read error returns false.
func (s *Session) challenge(prompt string) (string, bool) {
	s.writeLine("%s", prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		slog.Error("failed to read AUTH response", "error", err)
		return "", false
	}
	answer := strings.TrimRight(line, "\r\n")
	if answer == "*" {
		s.writeLine("501 Authentication cancelled")
		return "", false
	}
	return answer, true
}

func (s *Session) finishAuth(err error) {
	if err != nil {
		slog.Info("sink authentication failed", "error", err)
		s.writeLine("535 Authentication failed")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

// handleMAIL processes MAIL FROM, including the null sender and the
// SMTPUTF8 and BODY parameters.
func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.cfg.Auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addrPart, params := splitParams(arg[5:])
	addr := extractAddress(addrPart)
	if addr == "" && strings.TrimSpace(addrPart) != "<>" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	utf8 := false
	for _, p := range params {
		key, _, _ := strings.Cut(strings.ToUpper(p), "=")
		switch key {
		case "SMTPUTF8":
			if !s.cfg.SMTPUTF8 {
				s.writeLine("555 SMTPUTF8 not supported")
				return
			}
			utf8 = true
		case "BODY", "SIZE":
		default:
			s.writeLine("555 Unsupported parameter %s", p)
			return
		}
	}

	s.resetTransaction()
	s.env = Envelope{From: addr, UTF8: utf8}
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

// handleRCPT processes RCPT TO and applies the first matching rule. It
// returns true when a rule hangs up.
func (s *Session) handleRCPT(arg string) bool {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return false
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return false
	}

	addrPart, _ := splitParams(arg[3:])
	addr := extractAddress(addrPart)
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return false
	}

	if rule, ok := s.cfg.Rules.Match(addr); ok {
		switch rule.Action {
		case ActionDropRcpt:
			slog.Info("dropping connection on RCPT", "recipient", addr)
			return true
		case ActionDropData:
			s.dropOnData = true
		case ActionReply:
			s.writeLine("%d %s", rule.Code, rule.Text)
			if rule.Code >= 300 {
				return false
			}
			s.accept(addr)
			return false
		}
	}

	s.accept(addr)
	s.writeLine("250 OK")
	return false
}

func (s *Session) accept(addr string) {
	s.env.To = append(s.env.To, addr)
	s.state = stateRcptTo
}

// handleDATA receives the message and hands it to the handler. It returns
// true when a rule hangs up.
func (s *Session) handleDATA(ctx context.Context) bool {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return false
	}
	if s.dropOnData {
		slog.Info("dropping connection on DATA", "recipients", s.env.To)
		return true
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, tooLarge, err := s.readData()
	if err != nil {
		slog.Error("error reading DATA", "error", err)
		return true
	}
	if tooLarge {
		s.writeLine("552 Message size exceeds fixed maximum message size")
		s.resetTransaction()
		return false
	}

	if s.cfg.Handler != nil {
		if err := s.cfg.Handler.Handle(ctx, s.env, raw); err != nil {
			slog.Error("failed to store captured message", "error", err)
			s.writeLine("451 Temporary failure, please try again later")
			s.resetTransaction()
			return false
		}
	}

	s.writeLine("250 OK message captured")
	s.resetTransaction()
	return false
}

// readData reads until the dot terminator, undoing dot-stuffing. Content
// beyond MaxMessageSize is read and discarded.
func (s *Session) readData() ([]byte, bool, error) {
	var buf strings.Builder
	tooLarge := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, false, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}

		if s.cfg.MaxMessageSize > 0 && int64(buf.Len()+len(line)) > s.cfg.MaxMessageSize {
			tooLarge = true
			continue
		}
		buf.WriteString(line)
	}
	return []byte(buf.String()), tooLarge, nil
}

// resetTransaction clears the current mail transaction state without
// affecting the session state (greeting, auth).
func (s *Session) resetTransaction() {
	s.env = Envelope{}
	s.dropOnData = false

	if s.cfg.Auth.Enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// splitParams separates the path of MAIL and RCPT from ESMTP parameters.
func splitParams(s string) (string, []string) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		if end := strings.Index(s, ">"); end >= 0 {
			return s[:end+1], strings.Fields(s[end+1:])
		}
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}
