// Package graph implements a Channel that submits test messages as raw MIME
// through the Microsoft Graph sendMail API.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/mailprobe/internal/delivery"
	"github.com/shineum/mailprobe/internal/message"
	"github.com/shineum/mailprobe/internal/result"
)

// Reply codes HTTP failures are mapped to.
const (
	codeTransient = 451
	codeRejected  = 550
)

// Config holds the configuration for creating a Channel.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox the messages are sent as.
	Sender string
}

// Channel sends test messages via the Microsoft Graph API using OAuth2
// client credentials authentication. Graph always sends as the configured
// mailbox; recipients are taken from the message headers.
type Channel struct {
	graphURL   string
	httpClient *http.Client
	token      *tokenSource
}

// New creates a new Channel with the given configuration.
func New(cfg Config) *Channel {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)

	client := &http.Client{Timeout: 30 * time.Second}

	return &Channel{
		graphURL:   fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender)),
		httpClient: client,
		token:      newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// newWithOverrides creates a Channel with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Channel {
	return &Channel{
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Deliver uploads msg as base64 MIME. A 401 triggers one token refresh and
// one more attempt; every other failure becomes an outcome right away.
func (c *Channel) Deliver(ctx context.Context, msg *message.Message, a delivery.Attempt) []result.Outcome {
	rcpt := a.Recipient.String()

	raw, err := msg.Bytes()
	if err != nil {
		return []result.Outcome{result.Failure(a.Test, a.Case, rcpt, result.CodeIOError, err.Error())}
	}
	body := []byte(base64.StdEncoding.EncodeToString(raw))

	err = c.send(ctx, body, false)

	var sendErr *sendError
	if errors.As(err, &sendErr) && sendErr.statusCode == http.StatusUnauthorized {
		slog.Info("refreshing Graph API token after 401")
		err = c.send(ctx, body, true)
	}

	if err != nil {
		code, text := classify(err)
		slog.Warn("Graph API error",
			"test", a.Test,
			"case", a.Case,
			"code", code,
			"error", err,
		)
		return []result.Outcome{result.Failure(a.Test, a.Case, rcpt, code, text)}
	}
	return []result.Outcome{result.Success(a.Test, a.Case, rcpt)}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "graph"
}

// Close releases idle HTTP connections.
func (c *Channel) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// send performs a single HTTP request to the sendMail endpoint.
func (c *Channel) send(ctx context.Context, body []byte, refresh bool) error {
	token, err := c.token.Token(ctx, refresh)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	e := &sendError{
		statusCode: resp.StatusCode,
		message:    string(respBody),
		retryAfter: resp.Header.Get("Retry-After"),
	}
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		e.message = graphErrResp.Error.Message
	}
	return e
}

// graphErrorResponse is the error body of a Graph API response.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError is a non-success HTTP response from the Graph API.
type sendError struct {
	message    string
	statusCode int
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classify maps a send failure to a reply code and message. Throttling and
// server faults are transient so that they slow down delivery.
func classify(err error) (int, string) {
	var e *sendError
	if !errors.As(err, &e) {
		return result.CodeDisconnected, err.Error()
	}

	text := fmt.Sprintf("HTTP %d: %s", e.statusCode, e.message)
	switch {
	case e.statusCode == http.StatusTooManyRequests || e.statusCode == http.StatusServiceUnavailable:
		if e.retryAfter != "" {
			text += " (Retry-After: " + e.retryAfter + ")"
		}
		return codeTransient, text
	case e.statusCode >= 500:
		return codeTransient, text
	default:
		return codeRejected, text
	}
}
