package imageref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// ReferenceFetchTimeout bounds downloads of user supplied references.
	ReferenceFetchTimeout = 60 * time.Second
	// ResultFetchTimeout bounds downloads of images named in a model reply.
	ResultFetchTimeout = 30 * time.Second

	maxImageBytes = 32 << 20
)

var (
	ErrEmptyBody = errors.New("image host returned an empty body")
	ErrTooLarge  = errors.New("image exceeds the download size limit")
)

type ErrBadStatus struct {
	URL        string
	StatusCode int
}

func (e *ErrBadStatus) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}

type Fetched struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads images with browser-like headers.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, maxBytes: maxImageBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*Fetched, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	applyBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ErrBadStatus{URL: rawURL, StatusCode: resp.StatusCode}
	}

	// One byte past the limit tells a full-size image from a truncated one.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, ErrTooLarge)
	}
	if len(data) == 0 {
		return nil, ErrEmptyBody
	}

	return &Fetched{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
