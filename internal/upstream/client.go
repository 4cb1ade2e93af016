// Package upstream is a typed client for the OpenAI-compatible endpoint the
// tools call. Replies are decoded into the structures in models.go at this
// boundary and nowhere else.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/pkg/errors"
)

const (
	// ChatTimeout bounds a buffered chat call, an image generation call and
	// the wait for the response headers of a streamed chat.
	ChatTimeout = 60 * time.Second

	maxErrorBody = 2048
)

// APIError is returned for any non-2xx reply.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	logger     *slog.Logger
	apiRoot    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics

	// firstByte bounds the wait for a streamed reply's headers. It is
	// enforced on the request context so an injected client keeps it.
	firstByte time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default client and its transport. Call
// timeouts are carried on request contexts and still apply.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a client for apiRoot, which already carries the /v1 suffix.
func New(logger *slog.Logger, apiRoot, apiKey string, opts ...Option) *Client {
	c := &Client{
		logger:    logger.WithGroup("upstream"),
		apiRoot:   strings.TrimRight(apiRoot, "/"),
		apiKey:    apiKey,
		firstByte: ChatTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: ChatTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %s body", path)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiRoot+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// do sends req and returns the response when it is 2xx. The caller owns
// the body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("received non-2xx status code", "method", req.Method, "path", req.URL.Path, "status_code", resp.StatusCode)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, target any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return errors.Wrapf(err, "decode %s response", req.URL.Path)
	}
	return nil
}

// ChatCompletion performs a buffered chat call. Stream is forced off.
func (c *Client) ChatCompletion(ctx context.Context, in ChatCompletionRequest) (*ChatCompletionResponse, error) {
	defer c.metrics.ObserveUpstream("chat", time.Now())

	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	in.Stream = false
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", in)
	if err != nil {
		return nil, err
	}
	var out ChatCompletionResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamChatCompletion performs a streaming chat call, invoking onDelta for
// every content fragment in arrival order, and returns the assembled text.
// An error from onDelta stops the read and is returned.
func (c *Client) StreamChatCompletion(ctx context.Context, in ChatCompletionRequest, onDelta func(string) error) (string, error) {
	defer c.metrics.ObserveUpstream("chat_stream", time.Now())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in.Stream = true
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", in)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	timer := time.AfterFunc(c.firstByte, cancel)
	resp, err := c.do(req)
	if !timer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		return "", fmt.Errorf("no response headers within %s: %w", c.firstByte, context.DeadlineExceeded)
	}
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return ReadStream(c.logger, resp.Body, onDelta)
}

func (c *Client) GenerateImages(ctx context.Context, in ImageGenerationRequest) (*ImageGenerationResponse, error) {
	defer c.metrics.ObserveUpstream("images", time.Now())

	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/images/generations", in)
	if err != nil {
		return nil, err
	}
	var out ImageGenerationResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListModels(ctx context.Context) (*ModelList, error) {
	defer c.metrics.ObserveUpstream("models", time.Now())

	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	var out ModelList
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
