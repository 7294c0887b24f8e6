// Package upstream talks to the real charging backend. Every request carries
// the static API key; nothing else in the system ever holds it.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "X-API-Key"

// Client re-issues relay requests against the upstream backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	// streamClient has no timeout; event streams are long-lived.
	streamClient *http.Client
}

// New returns a configured upstream client.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// Do executes a request and returns status and body.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// Stream opens a long-lived response the caller must close.
func (c *Client) Stream(ctx context.Context, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", accept)
	req.Header.Set("Cache-Control", "no-cache")
	return c.streamClient.Do(req)
}
