package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/InsulaLabs/txt2img/internal/imageref"
	"github.com/InsulaLabs/txt2img/internal/metrics"
)

// Bucket is the slice of an object store the edit tool needs.
type Bucket interface {
	// Exists reports false with a nil error when key is absent.
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(key string) string
}

// ContentKey derives the object key for data: <namespace>/<sha256>.<ext>.
func ContentKey(namespace string, data []byte, mimeType string) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s/%s.%s", namespace, hex.EncodeToString(sum[:]), imageref.ExtForMime(mimeType))
}

// Persister stores image bytes under their content address, uploading
// only when the object is not already present.
type Persister struct {
	bucket    Bucket
	namespace string
	metrics   *metrics.Metrics
}

var _ imageref.Uploader = &Persister{}

func NewPersister(bucket Bucket, namespace string, m *metrics.Metrics) *Persister {
	return &Persister{bucket: bucket, namespace: namespace, metrics: m}
}

func (p *Persister) Persist(ctx context.Context, logger *slog.Logger, data []byte, mimeType string) (string, error) {
	key := ContentKey(p.namespace, data, mimeType)
	logger = logger.With("object_key", key)

	exists, err := p.bucket.Exists(ctx, key)
	if err != nil {
		// an unreliable existence check should not block the upload itself
		logger.Warn("object existence check failed, uploading anyway", "error", err)
		p.metrics.SoftFailure(metrics.StageExists)
	}
	if exists {
		logger.Debug("object already stored")
		p.metrics.Upload(metrics.UploadDeduplicated)
		return p.bucket.URL(key), nil
	}

	if err := p.bucket.Put(ctx, key, data, mimeType); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	p.metrics.Upload(metrics.UploadStored)
	return p.bucket.URL(key), nil
}
