package sink

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingHandler keeps every captured message.
type recordingHandler struct {
	mu   sync.Mutex
	envs []Envelope
	raws []string
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, env Envelope, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.envs = append(h.envs, env)
	h.raws = append(h.raws, string(raw))
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.envs)
}

// connPair creates a connected pair of net.Conn for testing SMTP sessions.
func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		done <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	server = <-done
	return client, server
}

// startSession runs a session for cfg and returns the client side with the
// greeting already consumed.
func startSession(t *testing.T, cfg SessionConfig) (net.Conn, *bufio.Reader) {
	t.Helper()

	client, server := connPair(t)
	t.Cleanup(func() { client.Close() })

	if cfg.Hostname == "" {
		cfg.Hostname = "mail.test.com"
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1 << 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	go NewSession(server, cfg).Handle(ctx)

	reader := bufio.NewReader(client)
	if greeting := readLine(t, reader); !strings.HasPrefix(greeting, "220 ") {
		t.Fatalf("greeting: got %q, want prefix '220 '", greeting)
	}
	return client, reader
}

// readLine reads a line from a buffered reader.
func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// sendCmd sends a command to the SMTP session.
func sendCmd(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

// expect sends cmd and checks the reply prefix.
func expect(t *testing.T, conn net.Conn, reader *bufio.Reader, cmd, prefix string) string {
	t.Helper()
	sendCmd(t, conn, cmd)
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, prefix) {
		t.Errorf("%s: got %q, want prefix %q", cmd, resp, prefix)
	}
	return resp
}

// ehlo greets and returns the capability lines.
func ehlo(t *testing.T, conn net.Conn, reader *bufio.Reader) []string {
	t.Helper()
	sendCmd(t, conn, "EHLO client.test.com")
	var lines []string
	for {
		line := readLine(t, reader)
		lines = append(lines, line)
		if !strings.HasPrefix(line, "250-") {
			return lines
		}
	}
}

// expectHangup checks that the server closed the connection.
func expectHangup(t *testing.T, reader *bufio.Reader) {
	t.Helper()
	line, err := reader.ReadString('\n')
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected connection to be closed, got %q, %v", line, err)
	}
}

func TestSession_Greeting(t *testing.T) {
	t.Parallel()

	client, server := connPair(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go NewSession(server, SessionConfig{Hostname: "mail.test.com"}).Handle(ctx)

	greeting := readLine(t, bufio.NewReader(client))
	if !strings.HasPrefix(greeting, "220 ") {
		t.Errorf("greeting: got %q, want prefix '220 '", greeting)
	}
	if !strings.Contains(greeting, "mail.test.com") {
		t.Errorf("greeting should contain hostname, got %q", greeting)
	}
}

func TestSession_EHLO_Capabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     SessionConfig
		want    []string
		notWant []string
	}{
		{
			name:    "plain",
			cfg:     SessionConfig{},
			want:    []string{"8BITMIME", "SIZE 1048576"},
			notWant: []string{"AUTH", "SMTPUTF8", "STARTTLS"},
		},
		{
			name: "auth and smtputf8",
			cfg:  SessionConfig{Auth: NewAuthenticator("user", "pass"), SMTPUTF8: true},
			want: []string{"AUTH PLAIN LOGIN", "SMTPUTF8", "8BITMIME"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, reader := startSession(t, tt.cfg)
			caps := strings.Join(ehlo(t, client, reader), "\n")
			for _, w := range tt.want {
				if !strings.Contains(caps, w) {
					t.Errorf("EHLO response missing %q:\n%s", w, caps)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(caps, w) {
					t.Errorf("EHLO response unexpectedly contains %q:\n%s", w, caps)
				}
			}
		})
	}
}

func TestSession_SimpleCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd    string
		prefix string
	}{
		{"HELO client.test.com", "250 "},
		{"NOOP", "250 "},
		{"INVALID", "500 "},
		{"EHLO", "501 "},
		{"QUIT", "221 "},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			t.Parallel()
			client, reader := startSession(t, SessionConfig{})
			expect(t, client, reader, tt.cmd, tt.prefix)
		})
	}
}

func TestSession_MailTransaction(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	client, reader := startSession(t, SessionConfig{Handler: h})

	ehlo(t, client, reader)
	expect(t, client, reader, "MAIL FROM:<sender@example.com> BODY=8BITMIME", "250 ")
	expect(t, client, reader, "RCPT TO:<a@example.com>", "250 ")
	expect(t, client, reader, "RCPT TO:<b@example.com>", "250 ")
	expect(t, client, reader, "DATA", "354 ")

	data := strings.Join([]string{
		"From: sender@example.com",
		"Subject: Test Email",
		"",
		"..leading dot",
		".",
	}, "\r\n")
	expect(t, client, reader, data, "250 ")

	if h.count() != 1 {
		t.Fatalf("handler got %d messages, want 1", h.count())
	}
	env := h.envs[0]
	if env.From != "sender@example.com" || strings.Join(env.To, ",") != "a@example.com,b@example.com" {
		t.Errorf("envelope: got %+v", env)
	}
	if !strings.Contains(h.raws[0], "\r\n.leading dot\r\n") {
		t.Errorf("dot-stuffing not undone: %q", h.raws[0])
	}
}

func TestSession_NullSender(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	client, reader := startSession(t, SessionConfig{Handler: h})

	ehlo(t, client, reader)
	expect(t, client, reader, "MAIL FROM:<>", "250 ")
	expect(t, client, reader, "RCPT TO:<a@example.com>", "250 ")
	expect(t, client, reader, "DATA", "354 ")
	expect(t, client, reader, "Subject: bounce\r\n\r\nbody\r\n.", "250 ")

	if h.count() != 1 || h.envs[0].From != "" {
		t.Errorf("null sender not captured: %+v", h.envs)
	}
}

func TestSession_SMTPUTF8(t *testing.T) {
	t.Parallel()

	t.Run("not advertised", func(t *testing.T) {
		t.Parallel()
		client, reader := startSession(t, SessionConfig{})
		ehlo(t, client, reader)
		expect(t, client, reader, "MAIL FROM:<impostor@gооgle.com> SMTPUTF8", "555 ")
	})

	t.Run("advertised", func(t *testing.T) {
		t.Parallel()
		h := &recordingHandler{}
		client, reader := startSession(t, SessionConfig{SMTPUTF8: true, Handler: h})
		ehlo(t, client, reader)
		expect(t, client, reader, "MAIL FROM:<impostor@gооgle.com> SMTPUTF8", "250 ")
		expect(t, client, reader, "RCPT TO:<a@example.com>", "250 ")
		expect(t, client, reader, "DATA", "354 ")
		expect(t, client, reader, "Subject: x\r\n\r\n.", "250 ")
		if h.count() != 1 || !h.envs[0].UTF8 {
			t.Errorf("UTF8 envelope not captured: %+v", h.envs)
		}
	})
}

func TestSession_RSET(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, SessionConfig{})

	ehlo(t, client, reader)
	expect(t, client, reader, "MAIL FROM:<sender@example.com>", "250 ")
	expect(t, client, reader, "RSET", "250 ")

	// RCPT TO should fail without MAIL FROM
	expect(t, client, reader, "RCPT TO:<recipient@example.com>", "503 ")
}

func TestSession_StateOrderEnforcement(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, SessionConfig{Auth: NewAuthenticator("user", "pass")})

	expect(t, client, reader, "MAIL FROM:<sender@example.com>", "503 ")
	expect(t, client, reader, "AUTH PLAIN "+b64("\x00user\x00pass"), "503 ")

	ehlo(t, client, reader)

	expect(t, client, reader, "MAIL FROM:<sender@example.com>", "530 ")
	expect(t, client, reader, "RCPT TO:<recipient@example.com>", "503 ")
	expect(t, client, reader, "DATA", "503 ")
}

func TestSession_AuthPlain(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, SessionConfig{Auth: NewAuthenticator("user", "pass")})
	ehlo(t, client, reader)

	expect(t, client, reader, "AUTH PLAIN "+b64("\x00user\x00wrong"), "535 ")
	expect(t, client, reader, "AUTH PLAIN", "334")
	expect(t, client, reader, b64("\x00user\x00pass"), "235 ")
	expect(t, client, reader, "MAIL FROM:<sender@example.com>", "250 ")
}

func TestSession_AuthLogin(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, SessionConfig{Auth: NewAuthenticator("user", "pass")})
	ehlo(t, client, reader)

	expect(t, client, reader, "AUTH LOGIN", "334 VXNlcm5hbWU6")
	expect(t, client, reader, b64("user"), "334 UGFzc3dvcmQ6")
	expect(t, client, reader, "*", "501 ")

	expect(t, client, reader, "AUTH LOGIN", "334 ")
	expect(t, client, reader, b64("user"), "334 ")
	expect(t, client, reader, b64("pass"), "235 ")
	expect(t, client, reader, "AUTH CRAM-MD5", "504 ")
}

func TestSession_RuleReplies(t *testing.T) {
	t.Parallel()

	rules, err := ParseRules([]string{"deny@*=550 no such user", "busy@*=451 try later"})
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}

	h := &recordingHandler{}
	client, reader := startSession(t, SessionConfig{Rules: rules, Handler: h})
	ehlo(t, client, reader)

	expect(t, client, reader, "MAIL FROM:<sender@example.com>", "250 ")
	if resp := expect(t, client, reader, "RCPT TO:<deny@example.com>", "550 "); resp != "550 no such user" {
		t.Errorf("rule reply: got %q", resp)
	}
	expect(t, client, reader, "RCPT TO:<busy@example.com>", "451 ")
	expect(t, client, reader, "DATA", "503 ")

	expect(t, client, reader, "RCPT TO:<ok@example.com>", "250 ")
	expect(t, client, reader, "DATA", "354 ")
	expect(t, client, reader, "Subject: x\r\n\r\n.", "250 ")

	if h.count() != 1 || strings.Join(h.envs[0].To, ",") != "ok@example.com" {
		t.Errorf("refused recipients must not be captured: %+v", h.envs)
	}
}

func TestSession_DropRules(t *testing.T) {
	t.Parallel()

	rules, err := ParseRules([]string{"gone@*=drop-rcpt", "late@*=drop-data"})
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}

	t.Run("rcpt", func(t *testing.T) {
		t.Parallel()
		client, reader := startSession(t, SessionConfig{Rules: rules})
		ehlo(t, client, reader)
		expect(t, client, reader, "MAIL FROM:<sender@example.com>", "250 ")
		sendCmd(t, client, "RCPT TO:<gone@example.com>")
		expectHangup(t, reader)
	})

	t.Run("data", func(t *testing.T) {
		t.Parallel()
		h := &recordingHandler{}
		client, reader := startSession(t, SessionConfig{Rules: rules, Handler: h})
		ehlo(t, client, reader)
		expect(t, client, reader, "MAIL FROM:<sender@example.com>", "250 ")
		expect(t, client, reader, "RCPT TO:<late@example.com>", "250 ")
		sendCmd(t, client, "DATA")
		expectHangup(t, reader)
		if h.count() != 0 {
			t.Error("dropped message must not be captured")
		}
	})
}

func TestSession_MessageTooLarge(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	client, reader := startSession(t, SessionConfig{Handler: h, MaxMessageSize: 64})
	ehlo(t, client, reader)

	expect(t, client, reader, "MAIL FROM:<sender@example.com>", "250 ")
	expect(t, client, reader, "RCPT TO:<a@example.com>", "250 ")
	expect(t, client, reader, "DATA", "354 ")
	expect(t, client, reader, "Subject: big\r\n\r\n"+strings.Repeat("x", 100)+"\r\n.", "552 ")

	if h.count() != 0 {
		t.Error("oversized message must not be captured")
	}
}

func TestSession_HandlerFailure(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{err: errors.New("disk full")}
	client, reader := startSession(t, SessionConfig{Handler: h})
	ehlo(t, client, reader)

	expect(t, client, reader, "MAIL FROM:<sender@example.com>", "250 ")
	expect(t, client, reader, "RCPT TO:<a@example.com>", "250 ")
	expect(t, client, reader, "DATA", "354 ")
	expect(t, client, reader, "Subject: x\r\n\r\n.", "451 ")
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		wantCmd string
		wantArg string
	}{
		{"EHLO client.test.com", "EHLO", "client.test.com"},
		{"MAIL FROM:<user@example.com>", "MAIL", "FROM:<user@example.com>"},
		{"RCPT TO:<user@example.com>", "RCPT", "TO:<user@example.com>"},
		{"DATA", "DATA", ""},
		{"ehlo client.test.com", "EHLO", "client.test.com"},
		{"AUTH PLAIN dGVzdA==", "AUTH", "PLAIN dGVzdA=="},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			cmd, arg := parseCommand(tt.input)
			if cmd != tt.wantCmd {
				t.Errorf("command: got %q, want %q", cmd, tt.wantCmd)
			}
			if arg != tt.wantArg {
				t.Errorf("arg: got %q, want %q", arg, tt.wantArg)
			}
		})
	}
}

func TestSplitParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		path   string
		params string
	}{
		{"<user@example.com>", "<user@example.com>", ""},
		{"<user@example.com> SMTPUTF8 BODY=8BITMIME", "<user@example.com>", "SMTPUTF8|BODY=8BITMIME"},
		{"<> BODY=8BITMIME", "<>", "BODY=8BITMIME"},
		{"user@example.com SIZE=10", "user@example.com", "SIZE=10"},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			path, params := splitParams(tt.input)
			if path != tt.path || strings.Join(params, "|") != tt.params {
				t.Errorf("splitParams(%q): got %q %v", tt.input, path, params)
			}
		})
	}
}

func TestExtractAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"<user@example.com>", "user@example.com"},
		{"  <user@example.com>  ", "user@example.com"},
		{"user@example.com", "user@example.com"},
		{"<>", ""},
		{"<broken", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := extractAddress(tt.input); got != tt.want {
				t.Errorf("extractAddress(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
