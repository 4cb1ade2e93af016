// Package provider validates the credentials the tools run with.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/InsulaLabs/txt2img/internal/upstream"
	"github.com/jellydator/ttlcache/v3"
)

const DefaultValidationTTL = 10 * time.Minute

var (
	ErrAPIKeyMissing      = errors.New("OpenAI API key is required")
	ErrBaseURLMissing     = errors.New("OpenAI base URL is required")
	ErrBaseURLHasVersion  = errors.New("OpenAI base URL must not end with /v1")
	ErrBaseURLInvalid     = errors.New("OpenAI base URL is not a valid http(s) URL")
	ErrObjectStoreMissing = errors.New("object store credentials are incomplete")
)

// Credentials is the credential set a tool invocation runs with.
type Credentials struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ObjectStore   ObjectStore
}

type ObjectStore struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func (o ObjectStore) Complete() bool {
	return o.Bucket != "" && o.Endpoint != "" && o.Region != "" && o.AccessKey != "" && o.SecretKey != ""
}

// CredentialValidationError wraps whatever made a credential set unusable.
type CredentialValidationError struct {
	Err error
}

func (e *CredentialValidationError) Error() string {
	return fmt.Sprintf("credential validation failed: %v", e.Err)
}

func (e *CredentialValidationError) Unwrap() error {
	return e.Err
}

// Check validates the openai fields without touching the network.
func (c Credentials) Check() error {
	if c.OpenAIAPIKey == "" {
		return &CredentialValidationError{Err: ErrAPIKeyMissing}
	}
	if c.OpenAIBaseURL == "" {
		return &CredentialValidationError{Err: ErrBaseURLMissing}
	}
	u, err := url.Parse(c.OpenAIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &CredentialValidationError{Err: ErrBaseURLInvalid}
	}
	if strings.HasSuffix(u.Path, "/v1") {
		return &CredentialValidationError{Err: ErrBaseURLHasVersion}
	}
	return nil
}

// CheckObjectStore validates presence of the object store fields.
func (c Credentials) CheckObjectStore() error {
	if !c.ObjectStore.Complete() {
		return &CredentialValidationError{Err: ErrObjectStoreMissing}
	}
	return nil
}

// APIRoot is the base URL with the /v1 segment appended.
func (c Credentials) APIRoot() (string, error) {
	if err := c.Check(); err != nil {
		return "", err
	}
	root, err := url.JoinPath(c.OpenAIBaseURL, "v1")
	if err != nil {
		return "", &CredentialValidationError{Err: err}
	}
	return root, nil
}

func (c Credentials) cacheKey() string {
	sum := sha256.Sum256([]byte(c.OpenAIBaseURL + "\x00" + c.OpenAIAPIKey))
	return hex.EncodeToString(sum[:])
}

// ModelLister is the one vendor call validation makes.
type ModelLister interface {
	ListModels(ctx context.Context) (*upstream.ModelList, error)
}

type Validator struct {
	logger    *slog.Logger
	cache     *ttlcache.Cache[string, struct{}]
	newLister func(apiRoot, apiKey string) ModelLister
}

// NewValidator remembers successful validations for ttl. newLister may be
// nil, in which case the upstream client is used.
func NewValidator(logger *slog.Logger, ttl time.Duration, newLister func(apiRoot, apiKey string) ModelLister) *Validator {
	if ttl == 0 {
		ttl = DefaultValidationTTL
	}
	if newLister == nil {
		newLister = func(apiRoot, apiKey string) ModelLister {
			return upstream.New(logger, apiRoot, apiKey)
		}
	}
	return &Validator{
		logger: logger.WithGroup("provider"),
		cache: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		newLister: newLister,
	}
}

// Validate checks the credential shape and then lists models against the
// endpoint.
func (v *Validator) Validate(ctx context.Context, c Credentials) error {
	root, err := c.APIRoot()
	if err != nil {
		return err
	}

	key := c.cacheKey()
	if item := v.cache.Get(key); item != nil && !item.IsExpired() {
		v.logger.Debug("credentials recently validated", "api_root", root)
		return nil
	}

	if _, err := v.newLister(root, c.OpenAIAPIKey).ListModels(ctx); err != nil {
		v.logger.Warn("credential validation failed", "api_root", root, "error", err)
		return &CredentialValidationError{Err: err}
	}

	v.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	v.logger.Info("credentials validated", "api_root", root)
	return nil
}
