// Package fetch reads feed payloads from http(s) URLs or local file paths.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBytes bounds a single payload.
const DefaultMaxBytes = 512 << 20

// Fetcher returns the raw bytes behind a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// StatusError is returned for a non-200 HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Code, e.URL)
}

// Client fetches from HTTP URLs or local file paths.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
}

// New creates a Client whose HTTP requests time out after timeout (0 for none).
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes: DefaultMaxBytes,
	}
}

// IsURL reports whether location is fetched over HTTP.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Fetch fetches a single payload from a URL or file path.
// Returns nil if location is empty (allows optional feeds).
func (c *Client) Fetch(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, nil
	}

	if !IsURL(location) {
		return os.ReadFile(location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", location, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: location, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("payload from %s exceeds %d bytes", location, c.maxBytes)
	}
	return body, nil
}
