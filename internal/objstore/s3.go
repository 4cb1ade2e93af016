package objstore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Bucket    string
	Endpoint  string // host or URL, e.g. tos-s3-cn-beijing.volces.com
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 is a bucket on any S3 compatible service.
type S3 struct {
	client *minio.Client
	bucket string
	host   string
}

var _ Bucket = &S3{}

func NewS3(cfg S3Config) (*S3, error) {
	host, secure, err := endpointHost(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupDNS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", host, err)
	}

	return &S3{client: client, bucket: cfg.Bucket, host: host}, nil
}

// endpointHost accepts either a bare host or a URL and returns the host.
// A scheme in the endpoint wins over the useSSL flag.
func endpointHost(endpoint string, useSSL bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("object store endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parsing object store endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("object store endpoint %q has no host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// URL is the virtual-hosted style public address of key.
func (s *S3) URL(key string) string {
	return PublicURL(s.bucket, s.host, key)
}

func PublicURL(bucket, host, key string) string {
	return fmt.Sprintf("https://%s.%s/%s", bucket, host, key)
}
