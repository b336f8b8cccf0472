package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/slidecast/internal/unit"
)

// Static errors for batch fetches.
var (
	// ErrFetchFailed is returned when an item of a batch cannot be downloaded.
	ErrFetchFailed = errors.New("archive: fetch failed")
	// ErrServerError is returned when the source answers with a 5xx status.
	ErrServerError = errors.New("archive: server error")
	// ErrRateLimited is returned when the source answers with 429.
	ErrRateLimited = errors.New("archive: rate limited")
	// ErrRequestFailed is returned for any other non-2xx status.
	ErrRequestFailed = errors.New("archive: request failed")
)

// Item is one remote payload to archive under its unit's name.
type Item struct {
	Address unit.Address
	URL     string
}

// Publisher makes a finished container available and returns its location.
type Publisher interface {
	Publish(ctx context.Context, name string, data io.Reader) (string, error)
}

// Progress is told how many items of a batch are stored.
type Progress func(done, total int)

// Result describes a published batch.
type Result struct {
	Name    string
	URL     string
	Entries int
}

// Fetcher downloads batches one item at a time.
type Fetcher struct {
	httpClient *http.Client
	publisher  Publisher
	logger     *slog.Logger
	maxSize    int64
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithMaxSize limits the size of a single payload.
func WithMaxSize(n int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxSize = n
	}
}

// NewFetcher creates a fetcher that publishes finished archives through p.
func NewFetcher(p Publisher, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		publisher:  p,
		logger:     logger,
		maxSize:    64 << 20,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads items in order into a, naming each entry after its unit
// and detected payload type, then finalizes a and publishes it as name.
// The first failure stops the batch: entries already stored stay in a, and
// nothing is finalized or published. Failed items are never retried here;
// a new batch is the caller's decision.
func (f *Fetcher) Fetch(ctx context.Context, a *Archive, name string, items []Item, progress Progress) (Result, error) {
	for i, it := range items {
		data, err := f.get(ctx, it.URL)
		if err != nil {
			f.logger.Warn("batch fetch aborted",
				slog.String("unit", it.Address.String()),
				slog.String("url", it.URL),
				slog.Int("stored", i),
				slog.String("error", err.Error()),
			)
			return Result{}, fmt.Errorf("%w: %s: %w", ErrFetchFailed, it.Address, err)
		}

		entry := it.Address.Filename(mimetype.Detect(data).Extension())
		if err := a.Put(entry, data); err != nil {
			return Result{}, err
		}
		f.logger.Debug("batch item stored",
			slog.String("entry", entry),
			slog.Int("size", len(data)),
		)
		if progress != nil {
			progress(i+1, len(items))
		}
	}

	entries := a.Len()
	container, err := a.Finalize()
	if err != nil {
		return Result{}, err
	}
	url, err := f.publisher.Publish(ctx, name, bytes.NewReader(container))
	if err != nil {
		return Result{}, fmt.Errorf("publish archive: %w", err)
	}

	f.logger.Info("batch archive published",
		slog.String("name", name),
		slog.String("url", url),
		slog.Int("entries", entries),
	)
	return Result{Name: name, URL: url, Entries: entries}, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(body))
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, string(body))
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("payload exceeds %d bytes", f.maxSize)
	}
	return data, nil
}
