package imageref

import (
	"context"
	"errors"
	"log/slog"

	"github.com/InsulaLabs/txt2img/internal/metrics"
)

var ErrNotAnImage = errors.New("content is not a recognised image")

// Uploader stores validated image bytes and returns their public URL.
type Uploader interface {
	Persist(ctx context.Context, logger *slog.Logger, data []byte, mimeType string) (string, error)
}

// Resolver turns the references attached to a turn into URLs the edit
// model can load. Anything that goes wrong leaves the original URL in place.
type Resolver struct {
	fetcher  *Fetcher
	uploader Uploader
	metrics  *metrics.Metrics
}

// NewResolver returns a resolver. With a nil uploader every reference is
// passed through untouched.
func NewResolver(fetcher *Fetcher, uploader Uploader, m *metrics.Metrics) *Resolver {
	if fetcher == nil {
		fetcher = NewFetcher(nil)
	}
	return &Resolver{fetcher: fetcher, uploader: uploader, metrics: m}
}

// Resolve processes urls in order. The result has the same length and order.
func (r *Resolver) Resolve(ctx context.Context, logger *slog.Logger, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if IsImageURL(u) {
			out = append(out, u)
			continue
		}
		out = append(out, r.persist(ctx, logger, u))
	}
	return out
}

func (r *Resolver) persist(ctx context.Context, logger *slog.Logger, original string) string {
	if r.uploader == nil {
		return original
	}
	logger = logger.With("url", original)

	fetched, err := r.fetcher.Fetch(ctx, original, ReferenceFetchTimeout)
	if err != nil {
		logger.Warn("could not download reference, keeping original url", "error", err)
		r.metrics.SoftFailure(metrics.StageFetch)
		return original
	}

	mimeType, ok := DetectImageType(fetched.Data)
	if !ok {
		logger.Warn("reference is not a supported image, keeping original url",
			"error", ErrNotAnImage, "content_type", fetched.ContentType, "size", len(fetched.Data))
		r.metrics.SoftFailure(metrics.StageValidate)
		return original
	}

	stored, err := r.uploader.Persist(ctx, logger, fetched.Data, mimeType)
	if err != nil {
		logger.Warn("could not store reference, keeping original url", "error", err)
		r.metrics.SoftFailure(metrics.StageUpload)
		return original
	}
	logger.Info("reference stored", "stored_url", stored, "mime_type", mimeType)
	return stored
}
