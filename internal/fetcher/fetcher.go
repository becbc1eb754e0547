// Package fetcher downloads raw feed documents over HTTP.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a single feed download.
	DefaultTimeout = 15 * time.Second

	// DefaultUserAgent is sent when none is configured.
	DefaultUserAgent = "rssel/1.0"

	maxBodySize = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads feeds with one best-effort attempt per call.
type Fetcher struct {
	client    HTTPClient
	timeout   time.Duration
	userAgent string
}

// New creates a Fetcher with the given HTTP client and default settings.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:    client,
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}
}

// WithTimeout returns a copy of f using timeout per request.
func (f *Fetcher) WithTimeout(timeout time.Duration) *Fetcher {
	cp := *f
	if timeout > 0 {
		cp.timeout = timeout
	}
	return &cp
}

// WithUserAgent returns a copy of f sending ua.
func (f *Fetcher) WithUserAgent(ua string) *Fetcher {
	cp := *f
	if ua != "" {
		cp.userAgent = ua
	}
	return &cp
}

// Fetch downloads the document at url. The body is capped at 5 MiB and
// any status other than 200 is an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
