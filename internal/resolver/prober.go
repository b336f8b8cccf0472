package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrProbeFailed is returned when an existence check gets an unexpected answer.
var ErrProbeFailed = errors.New("resolver: existence probe failed")

// Prober checks whether an asset URI exists.
type Prober interface {
	Exists(ctx context.Context, uri string) (bool, error)
}

// HTTPProber checks http(s) URIs with a HEAD request and everything else on
// the local filesystem.
type HTTPProber struct {
	httpClient *http.Client
	baseURL    string
}

// ProberOption configures an HTTPProber.
type ProberOption func(*HTTPProber)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *HTTPProber) {
		p.httpClient = c
	}
}

// WithBaseURL resolves relative URIs against base before probing.
func WithBaseURL(base string) ProberOption {
	return func(p *HTTPProber) {
		p.baseURL = base
	}
}

// NewHTTPProber creates a prober.
func NewHTTPProber(opts ...ProberOption) *HTTPProber {
	p := &HTTPProber{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Exists reports whether uri can be fetched. A missing asset is not an error.
func (p *HTTPProber) Exists(ctx context.Context, uri string) (bool, error) {
	target, err := p.resolve(uri)
	if err != nil {
		return false, err
	}
	if !isHTTP(target) {
		_, err := os.Stat(target)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, os.ErrNotExist):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %w", ErrProbeFailed, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return false, nil
	default:
		return false, fmt.Errorf("%w: status %d", ErrProbeFailed, resp.StatusCode)
	}
}

func (p *HTTPProber) resolve(uri string) (string, error) {
	if p.baseURL == "" || isHTTP(uri) {
		return uri, nil
	}
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse asset URI: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func isHTTP(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// Verify interface implementation at compile time.
var _ Prober = (*HTTPProber)(nil)
