package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/InsulaLabs/txt2img/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type countingLister struct {
	calls int
	err   error
	root  string
}

func (l *countingLister) ListModels(context.Context) (*upstream.ModelList, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &upstream.ModelList{Data: []upstream.Model{{ID: "gpt-4o-all"}}}, nil
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		c    Credentials
		want error
	}{
		{"missing key", Credentials{OpenAIBaseURL: "https://api.example.com"}, ErrAPIKeyMissing},
		{"missing base", Credentials{OpenAIAPIKey: "sk"}, ErrBaseURLMissing},
		{"versioned base", Credentials{OpenAIAPIKey: "sk", OpenAIBaseURL: "https://api.example.com/v1"}, ErrBaseURLHasVersion},
		{"not a url", Credentials{OpenAIAPIKey: "sk", OpenAIBaseURL: "api.example.com"}, ErrBaseURLInvalid},
		{"ok", Credentials{OpenAIAPIKey: "sk", OpenAIBaseURL: "https://api.example.com"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Check()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var cve *CredentialValidationError
			require.True(t, errors.As(err, &cve))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAPIRoot(t *testing.T) {
	for base, want := range map[string]string{
		"https://api.example.com":       "https://api.example.com/v1",
		"https://api.example.com/":      "https://api.example.com/v1",
		"https://gw.example.com/openai": "https://gw.example.com/openai/v1",
	} {
		root, err := Credentials{OpenAIAPIKey: "sk", OpenAIBaseURL: base}.APIRoot()
		require.NoError(t, err)
		assert.Equal(t, want, root)
	}
}

func TestValidatorCachesSuccess(t *testing.T) {
	lister := &countingLister{}
	v := NewValidator(testLogger(), 0, func(apiRoot, apiKey string) ModelLister {
		lister.root = apiRoot
		return lister
	})
	c := Credentials{OpenAIAPIKey: "sk", OpenAIBaseURL: "https://api.example.com"}

	require.NoError(t, v.Validate(context.Background(), c))
	require.NoError(t, v.Validate(context.Background(), c))
	assert.Equal(t, 1, lister.calls)
	assert.Equal(t, "https://api.example.com/v1", lister.root)

	other := Credentials{OpenAIAPIKey: "sk-other", OpenAIBaseURL: "https://api.example.com"}
	require.NoError(t, v.Validate(context.Background(), other))
	assert.Equal(t, 2, lister.calls)
}

func TestValidatorFailures(t *testing.T) {
	boom := errors.New("401 unauthorized")
	lister := &countingLister{err: boom}
	v := NewValidator(testLogger(), 0, func(string, string) ModelLister { return lister })
	c := Credentials{OpenAIAPIKey: "sk", OpenAIBaseURL: "https://api.example.com"}

	err := v.Validate(context.Background(), c)
	assert.ErrorIs(t, err, boom)
	err = v.Validate(context.Background(), c)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, lister.calls, "failures are not cached")

	err = v.Validate(context.Background(), Credentials{OpenAIAPIKey: "sk"})
	assert.ErrorIs(t, err, ErrBaseURLMissing)
	assert.Equal(t, 2, lister.calls, "shape errors fail before any network call")
}

func TestCheckObjectStore(t *testing.T) {
	c := Credentials{ObjectStore: ObjectStore{Bucket: "b", Endpoint: "e", AccessKey: "a"}}
	assert.ErrorIs(t, c.CheckObjectStore(), ErrObjectStoreMissing)
	c.ObjectStore.SecretKey = "s"
	assert.ErrorIs(t, c.CheckObjectStore(), ErrObjectStoreMissing, "region is required")
	c.ObjectStore.Region = "cn-beijing"
	assert.NoError(t, c.CheckObjectStore())
}
