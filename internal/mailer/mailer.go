// Package mailer is the HTTP client for the email dispatcher collaborator.
// The dispatcher owns templates and delivery; this layer only hands it
// (address, token) pairs.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// internalKeyHeader authenticates gateway-to-service calls.
const internalKeyHeader = "x-internal-api-key"

// Client dispatches verification and reset tokens via the mail service.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	internalKey string
}

// New creates a mail client for the service at baseURL, authenticating with
// the internal service key.
func New(baseURL, internalKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		internalKey: internalKey,
	}
}

// SendVerification asks the mail service to deliver an email verification
// token.
func (c *Client) SendVerification(ctx context.Context, address, token string) error {
	return c.post(ctx, "/api/mail/verification", address, token)
}

// SendPasswordReset asks the mail service to deliver a password reset token.
func (c *Client) SendPasswordReset(ctx context.Context, address, token string) error {
	return c.post(ctx, "/api/mail/password-reset", address, token)
}

func (c *Client) post(ctx context.Context, path, address, token string) error {
	body, err := json.Marshal(map[string]string{
		"address": address,
		"token":   token,
	})
	if err != nil {
		return errors.Wrap(err, "encode mail request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build mail request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalKeyHeader, c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "call mail service")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Do not echo the response body: it is an internal service detail.
		return errors.Errorf("mail service returned status %d", resp.StatusCode)
	}
	return nil
}
