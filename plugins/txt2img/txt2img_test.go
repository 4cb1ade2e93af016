package txt2img

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/kvstore"
	"github.com/InsulaLabs/txt2img/internal/objstore"
	"github.com/InsulaLabs/txt2img/internal/provider"
	"github.com/InsulaLabs/txt2img/internal/session"
	"github.com/InsulaLabs/txt2img/internal/upstream"
	"github.com/InsulaLabs/txt2img/runtime"
	"github.com/InsulaLabs/txt2img/tools"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, 0x0A}, make([]byte, 16)...)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// vendor fakes the OpenAI compatible endpoint.
type vendor struct {
	mu         sync.Mutex
	reply      string
	chatStatus int
	srv        *httptest.Server
}

func newVendor(t *testing.T) *vendor {
	v := &vendor{reply: "done ![result](https://cdn.example.com/out.png)"}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		reply, status := v.reply, v.chatStatus
		v.mu.Unlock()

		switch r.URL.Path {
		case "/v1/images/generations":
			fmt.Fprintf(w, `{"created":1,"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(pngBytes))
		case "/v1/chat/completions":
			if status != 0 {
				http.Error(w, "upstream exploded", status)
				return
			}
			raw, _ := json.Marshal(reply)
			fmt.Fprintf(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":%s}}]}`, raw)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

type fakeLister struct {
	err error
}

func (f fakeLister) ListModels(context.Context) (*upstream.ModelList, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.ModelList{}, nil
}

type harness struct {
	rt     *runtime.Runtime
	plugin *Txt2ImgPlugin
	store  *kvstore.Memory
	srv    *httptest.Server
	vendor *vendor
}

func newHarness(t *testing.T, listErr error, mutate func(*config.Config)) *harness {
	t.Helper()
	v := newVendor(t)

	cfg, err := config.GenerateConfig("")
	require.NoError(t, err)
	cfg.SessionStore.Backend = config.SessionBackendMemory
	cfg.Credentials.OpenAIAPIKey = "sk-test"
	cfg.Credentials.OpenAIBaseURL = v.srv.URL
	cfg.RateLimiters.Invoke = config.RateLimiterConfig{Limit: 100, Burst: 100}
	cfg.RateLimiters.Default = config.RateLimiterConfig{Limit: 100, Burst: 100}
	if mutate != nil {
		mutate(cfg)
	}

	store := kvstore.NewMemory()
	rt, err := runtime.New(context.Background(), testLogger(), cfg, slog.LevelDebug,
		runtime.WithStore(store),
		runtime.WithBucket(objstore.NewMemory("https://bucket.example.com")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	p := New(testLogger(), tools.Default(), cfg.RateLimiters,
		WithHTTPClient(v.srv.Client()),
		WithModelLister(func(apiRoot, apiKey string) provider.ModelLister {
			return fakeLister{err: listErr}
		}),
	)
	require.NoError(t, rt.WithPlugin(p))

	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(srv.Close)
	return &harness{rt: rt, plugin: p, store: store, srv: srv, vendor: v}
}

func (h *harness) invoke(t *testing.T, tool, body string) (*http.Response, []Frame) {
	t.Helper()
	resp, err := http.Post(h.srv.URL+"/txt2img/invoke?tool="+tool, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var frames []Frame
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for resp.StatusCode == http.StatusOK && scanner.Scan() {
		var f Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
		frames = append(frames, f)
	}
	return resp, frames
}

func TestToolsRoute(t *testing.T) {
	h := newHarness(t, nil, nil)

	resp, err := http.Get(h.srv.URL + "/txt2img/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 4)
	assert.Equal(t, "dalle3", list[0].Name)
	assert.Equal(t, "s3edit", list[2].Name)
	assert.Contains(t, string(list[2].Schema), "conversation_id")
}

func TestInvoke(t *testing.T) {
	h := newHarness(t, nil, nil)

	t.Run("generation yields a blob", func(t *testing.T) {
		resp, frames := h.invoke(t, "dalle3", `{"prompt":"a cat","size":"1024x1024"}`)
		assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
		require.Len(t, frames, 1)
		require.NotNil(t, frames[0].Message)
		assert.Equal(t, tools.TypeBlob, frames[0].Message.Type)
		assert.Equal(t, "image/png", frames[0].Message.MimeType)
		assert.Equal(t, pngBytes, frames[0].Message.Blob)
	})

	t.Run("empty prompt is a text message", func(t *testing.T) {
		_, frames := h.invoke(t, "recraftv3", ``)
		require.Len(t, frames, 1)
		assert.Equal(t, "Please input prompt", frames[0].Message.Text)
	})

	t.Run("unknown tool", func(t *testing.T) {
		resp, _ := h.invoke(t, "midjourney", `{}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad body", func(t *testing.T) {
		resp, _ := h.invoke(t, "dalle3", `{"prompt":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(h.srv.URL + "/txt2img/invoke?tool=dalle3")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	m := h.rt.Metrics()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("dalle3", OutcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("recraftv3", OutcomeOK)))
}

func TestInvokeDownstreamFailureIsErrorFrame(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.vendor.mu.Lock()
	h.vendor.chatStatus = http.StatusBadGateway
	h.vendor.mu.Unlock()

	resp, frames := h.invoke(t, "seededit", `{"instruction":"make it red"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, frames, 1)
	assert.Nil(t, frames[0].Message)
	assert.Contains(t, frames[0].Error, "API Error")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.rt.Metrics().InvocationsTotal.WithLabelValues("seededit", OutcomeError)))
}

func TestInvokeS3EditStoresHistory(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, frames := h.invoke(t, "s3edit", `{"conversation_id":"c1","dialogue_count":0,"instruction":"draw a cat"}`)
	require.Len(t, frames, 2)
	require.NotNil(t, frames[0].Message)
	assert.Equal(t, tools.TypeText, frames[0].Message.Type)
	require.NotNil(t, frames[1].Message)
	assert.Equal(t, tools.TypeImage, frames[1].Message.Type)
	assert.Equal(t, "https://cdn.example.com/out.png", frames[1].Message.URL)

	stored, err := h.store.Get(session.Key("s3edit", "c1"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"dialogue_count": 0,
		"instruction": "draw a cat",
		"image_urls": [],
		"response_content": "done ![result](https://cdn.example.com/out.png)"
	}]`, stored)
}

func TestValidate(t *testing.T) {
	post := func(t *testing.T, h *harness, tool string) (int, ValidateResponse) {
		resp, err := http.Post(h.srv.URL+"/txt2img/validate?tool="+tool, "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out ValidateResponse
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		}
		return resp.StatusCode, out
	}

	t.Run("valid credentials", func(t *testing.T) {
		status, out := post(t, newHarness(t, nil, nil), "dalle3")
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, out.Valid)
	})

	t.Run("s3edit needs an object store", func(t *testing.T) {
		status, out := post(t, newHarness(t, nil, nil), "s3edit")
		assert.Equal(t, http.StatusOK, status)
		assert.False(t, out.Valid)
		assert.Contains(t, out.Error, "object store")
	})

	t.Run("vendor rejects the key", func(t *testing.T) {
		status, out := post(t, newHarness(t, errors.New("401 unauthorized"), nil), "")
		assert.Equal(t, http.StatusOK, status)
		assert.False(t, out.Valid)
		assert.Contains(t, out.Error, "401")
	})

	t.Run("base url with version", func(t *testing.T) {
		h := newHarness(t, nil, func(cfg *config.Config) {
			cfg.Credentials.OpenAIBaseURL = "https://api.example.com/v1"
		})
		_, out := post(t, h, "seededit")
		assert.False(t, out.Valid)
	})

	t.Run("unknown tool", func(t *testing.T) {
		status, _ := post(t, newHarness(t, nil, nil), "midjourney")
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestStream(t *testing.T) {
	h := newHarness(t, nil, nil)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/txt2img/stream?tool=dalle3"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"prompt":"a cat"}`)))

	var frames []Frame
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
		frames = append(frames, f)
	}
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Message)
	assert.Equal(t, tools.TypeBlob, frames[0].Message.Type)
}

func TestStreamUnknownTool(t *testing.T) {
	h := newHarness(t, nil, nil)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/txt2img/stream?tool=midjourney"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDecodeParamsKeepsIntegers(t *testing.T) {
	params, err := decodeParams([]byte(`{"dialogue_count": 3, "stream": "True"}`))
	require.NoError(t, err)
	assert.Equal(t, 3, params.Int("dialogue_count", 0))
	assert.True(t, params.Bool("stream"))

	empty, err := decodeParams([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
