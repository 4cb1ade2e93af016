package txt2img

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/provider"
	"github.com/InsulaLabs/txt2img/internal/session"
	"github.com/InsulaLabs/txt2img/runtime"
	"github.com/InsulaLabs/txt2img/tools"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tmc/langchaingo/llms"
)

const (
	PluginName = "txt2img"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var _ runtime.Plugin = &Txt2ImgPlugin{}

type Txt2ImgPlugin struct {
	logger    *slog.Logger
	prif      runtime.PluginRuntimeIF
	registry  *tools.Registry
	limits    config.RateLimiters
	validator *provider.Validator
	upgrader  websocket.Upgrader

	httpClient *http.Client
	newLLM     func(apiRoot, apiKey, model string) (llms.Model, error)
	newLister  func(apiRoot, apiKey string) provider.ModelLister
}

type Option func(*Txt2ImgPlugin)

// WithHTTPClient sets the client used for vendor calls and image fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Txt2ImgPlugin) {
		p.httpClient = c
	}
}

func WithLLMFactory(f func(apiRoot, apiKey, model string) (llms.Model, error)) Option {
	return func(p *Txt2ImgPlugin) {
		p.newLLM = f
	}
}

// WithModelLister replaces the vendor call used by credential validation.
func WithModelLister(f func(apiRoot, apiKey string) provider.ModelLister) Option {
	return func(p *Txt2ImgPlugin) {
		p.newLister = f
	}
}

func New(logger *slog.Logger, registry *tools.Registry, limits config.RateLimiters, opts ...Option) *Txt2ImgPlugin {
	p := &Txt2ImgPlugin{
		logger:   logger.WithGroup(PluginName),
		registry: registry,
		limits:   limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Txt2ImgPlugin) GetName() string {
	return PluginName
}

func (p *Txt2ImgPlugin) Init(prif runtime.PluginRuntimeIF) *runtime.PluginImplError {
	p.prif = prif
	p.validator = provider.NewValidator(p.logger, provider.DefaultValidationTTL, p.newLister)
	p.logger.Info("txt2img plugin initialized", "tools", len(p.registry.List()))
	return nil
}

func (p *Txt2ImgPlugin) GetRoutes() []runtime.PluginRoute {
	return []runtime.PluginRoute{
		{Path: "tools", Handler: http.HandlerFunc(p.handleTools), Limit: p.limits.Default.Limit, Burst: p.limits.Default.Burst},
		{Path: "validate", Handler: http.HandlerFunc(p.handleValidate), Limit: p.limits.Default.Limit, Burst: p.limits.Default.Burst},
		{Path: "invoke", Handler: http.HandlerFunc(p.handleInvoke), Limit: p.limits.Invoke.Limit, Burst: p.limits.Invoke.Burst},
		{Path: "stream", Handler: http.HandlerFunc(p.handleStream), Limit: p.limits.Invoke.Limit, Burst: p.limits.Invoke.Burst},
	}
}

// valueStore exposes the runtime store under the names session storage
// expects.
type valueStore struct {
	prif runtime.ValueStoreIF
}

func (v valueStore) Get(key string) (string, error) {
	return v.prif.RT_Get(key)
}

func (v valueStore) Set(key string, value string) error {
	return v.prif.RT_Set(key, value)
}

func (p *Txt2ImgPlugin) newInvocation(tool tools.Tool, params tools.Params) *tools.Invocation {
	id := uuid.New().String()
	return &tools.Invocation{
		ID:          id,
		Params:      params,
		Credentials: p.prif.RT_Credentials(),
		Models:      p.prif.RT_Models(),
		Storage:     session.NewKVStorage(valueStore{prif: p.prif}),
		Bucket:      p.prif.RT_Bucket(),
		Namespace:   p.prif.RT_Namespace(),
		Logger:      p.logger.With("tool", tool.Name(), "invocation_id", id),
		Metrics:     p.prif.RT_Metrics(),
		HTTPClient:  p.httpClient,
		NewLLM:      p.newLLM,
	}
}

// Invoke runs the named tool to completion, handing each message to emit.
func (p *Txt2ImgPlugin) Invoke(ctx context.Context, name string, params tools.Params, emit tools.Emitter) error {
	tool, err := p.registry.Get(name)
	if err != nil {
		return err
	}
	if params == nil {
		params = tools.Params{}
	}

	inv := p.newInvocation(tool, params)
	start := time.Now()
	inv.Logger.Info("tool invocation started")

	count := 0
	err = tool.Invoke(ctx, inv, func(m tools.Message) error {
		count++
		return emit(m)
	})

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
		inv.Logger.Error("tool invocation failed", "error", err, "messages", count, "duration", time.Since(start))
	} else {
		inv.Logger.Info("tool invocation finished", "messages", count, "duration", time.Since(start))
	}
	p.prif.RT_Metrics().Invocation(name, outcome)
	return err
}

// Validate checks the credentials a tool would run with. s3edit also needs
// a complete object store.
func (p *Txt2ImgPlugin) Validate(ctx context.Context, name string, creds provider.Credentials) error {
	if name != "" {
		if _, err := p.registry.Get(name); err != nil {
			return err
		}
	}
	if err := p.validator.Validate(ctx, creds); err != nil {
		return err
	}
	if name == tools.S3EditName {
		return creds.CheckObjectStore()
	}
	return nil
}
