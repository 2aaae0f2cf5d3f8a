// Package mailstream is a small client for the mailstream HTTP API.
package mailstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the configuration for the mailstream client.
type Config struct {
	// BaseURL is the root URL of the mailstream server.
	// Example: "https://mail.internal.example.com"
	BaseURL string

	// ServiceToken is sent in the X-Service-Token header.
	ServiceToken string

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 30s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Client calls the mailstream API.
type Client struct {
	cfg Config
}

// NewClient creates a new mailstream client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// Send delivers an email synchronously. A duplicate is not an error; check
// SendResult.Duplicate.
func (c *Client) Send(ctx context.Context, email *Email) (*SendResult, error) {
	var out SendResult
	if err := c.post(ctx, "/email/send", email, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enqueue places an email on the stream for background delivery.
func (c *Client) Enqueue(ctx context.Context, email *Email) (*EnqueueResult, error) {
	var out EnqueueResult
	if err := c.post(ctx, "/email/enqueue", email, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendBulk sends one email per row.
func (c *Client) SendBulk(ctx context.Context, req *BulkRequest) (*BulkSummary, error) {
	var out BulkSummary
	if err := c.post(ctx, "/email/bulk-template", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("mailstream: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailstream: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.ServiceToken != "" {
		req.Header.Set("X-Service-Token", c.cfg.ServiceToken)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailstream: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mailstream: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return parseAPIError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mailstream: failed to parse response: %w", err)
	}
	return nil
}
