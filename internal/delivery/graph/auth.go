package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// expiryMargin is subtracted from the token lifetime. Lifetimes shorter
	// than twice the margin are halved instead.
	expiryMargin = 5 * time.Minute
)

// tokenResponse is the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`

	Error       string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// tokenSource hands out client credentials tokens for the run's mailbox.
// Deliveries are sequential, the mutex only keeps the source safe to share.
type tokenSource struct {
	endpoint string
	form     url.Values
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(endpoint, clientID, clientSecret string, client *http.Client) *tokenSource {
	return &tokenSource{
		endpoint: endpoint,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		client: client,
		now:    time.Now,
	}
}

// Token returns the cached token, or a new one when it is expired or force
// is set.
func (ts *tokenSource) Token(ctx context.Context, force bool) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !force && ts.token != "" && ts.now().Before(ts.expires) {
		return ts.token, nil
	}
	ts.token = ""

	resp, err := ts.fetch(ctx)
	if err != nil {
		return "", err
	}

	ts.token = resp.AccessToken
	ts.expires = ts.now().Add(lifetime(resp.ExpiresIn))
	return ts.token, nil
}

func (ts *tokenSource) fetch(ctx context.Context) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint, strings.NewReader(ts.form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	jsonErr := json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK {
		if jsonErr == nil && tr.Error != "" {
			return nil, fmt.Errorf("token endpoint returned %d: %s: %s", resp.StatusCode, tr.Error, tr.Description)
		}
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", jsonErr)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &tr, nil
}

// lifetime converts expires_in into the time the token is reused for.
func lifetime(expiresIn int64) time.Duration {
	d := time.Duration(expiresIn) * time.Second
	if d < 2*expiryMargin {
		return d / 2
	}
	return d - expiryMargin
}
