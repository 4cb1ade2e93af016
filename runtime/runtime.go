package runtime

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/kvstore"
	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/InsulaLabs/txt2img/internal/objstore"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout = 5 * time.Second
	limiterTTL      = time.Minute
)

// Runtime hosts plugins over HTTP and lends them the session store, the
// object store and the tool credentials.
type Runtime struct {
	appCtx    context.Context
	appCancel context.CancelFunc
	logger    *slog.Logger
	cfg       *config.Config

	store   kvstore.Store
	bucket  objstore.Bucket
	metrics *metrics.Metrics

	mux      *http.ServeMux
	plugins  map[string]Plugin
	limiters *ttlcache.Cache[string, *rate.Limiter]

	releaseOnce sync.Once
	releaseErr  error
}

// Option customises a Runtime before any backend is opened.
type Option func(*Runtime)

// WithStore replaces the session store selected by the config.
func WithStore(store kvstore.Store) Option {
	return func(r *Runtime) { r.store = store }
}

// WithBucket replaces the object store selected by the config.
func WithBucket(bucket objstore.Bucket) Option {
	return func(r *Runtime) { r.bucket = bucket }
}

// New opens the backends named by cfg. The runtime stops when ctx is
// cancelled or Stop is called.
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config, level slog.Level, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		logger:  logger.With("service", "txt2imgRuntime"),
		cfg:     cfg,
		metrics: metrics.New(),
		mux:     http.NewServeMux(),
		plugins: make(map[string]Plugin),
		limiters: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](limiterTTL),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		),
	}
	r.appCtx, r.appCancel = context.WithCancel(ctx)

	for _, opt := range opts {
		opt(r)
	}

	if r.store == nil {
		store, err := kvstore.Open(logger.WithGroup("sessions"), cfg, level)
		if err != nil {
			r.appCancel()
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		r.store = store
	}

	if r.bucket == nil && cfg.ObjectStore.Configured() {
		bucket, err := objstore.NewS3(objstore.S3Config{
			Bucket:    cfg.ObjectStore.Bucket,
			Endpoint:  cfg.ObjectStore.Endpoint,
			Region:    cfg.ObjectStore.Region,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			r.appCancel()
			r.store.Close()
			return nil, fmt.Errorf("failed to create object store client: %w", err)
		}
		r.bucket = bucket
	} else if r.bucket == nil {
		r.logger.Warn("no object store configured, reference images will not be persisted")
	}

	go r.limiters.Start()

	r.mux.Handle("/metrics", r.metrics.Handler())
	return r, nil
}

// WithPlugin initialises p and mounts its routes under /<name>/.
func (r *Runtime) WithPlugin(p Plugin) error {
	name := p.GetName()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %s already mounted", name)
	}
	if err := p.Init(r); err != nil {
		return fmt.Errorf("failed to init plugin %s: %w", name, err)
	}

	for _, route := range p.GetRoutes() {
		path := "/" + name + "/" + strings.TrimPrefix(route.Path, "/")
		handler := r.rateLimitMiddleware(route.Handler, path, route.Limit, route.Burst)
		r.mux.Handle(path, r.authMiddleware(handler))
		r.logger.Info("mounted plugin route", "plugin", name, "path", path, "limit", route.Limit, "burst", route.Burst)
	}
	r.plugins[name] = p
	return nil
}

func (r *Runtime) Handler() http.Handler {
	return r.mux
}

func (r *Runtime) Metrics() *metrics.Metrics {
	return r.metrics
}

// Run serves until the context ends or SIGINT/SIGTERM arrives, then shuts
// the server down and closes the stores.
func (r *Runtime) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			r.logger.Info("Received signal, initiating shutdown...", "signal", sig)
			r.appCancel()
		case <-r.appCtx.Done():
		}
	}()

	srv := &http.Server{
		Addr:    r.cfg.HttpBinding,
		Handler: r.mux,
	}

	g, gctx := errgroup.WithContext(r.appCtx)
	g.Go(func() error {
		r.logger.Info("Starting HTTP server", "listen_addr", r.cfg.HttpBinding)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("Server shutdown error", "error", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if cerr := r.release(); cerr != nil {
		r.logger.Error("failed to close session store", "error", cerr)
	}
	r.logger.Info("Server stopped")
	return err
}

// Stop cancels the runtime context.
func (r *Runtime) Stop() {
	r.logger.Info("Runtime stop requested.")
	r.appCancel()
}

// Close releases the stores of a runtime that was never Run. It is safe to
// call after Run.
func (r *Runtime) Close() error {
	return r.release()
}

func (r *Runtime) release() error {
	r.releaseOnce.Do(func() {
		r.appCancel()
		r.limiters.Stop()
		r.releaseErr = r.store.Close()
	})
	return r.releaseErr
}

func (r *Runtime) authMiddleware(next http.Handler) http.Handler {
	if r.cfg.ApiKey == "" {
		return next
	}
	want := []byte(r.cfg.ApiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		got, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			r.logger.Warn("rejected request with bad api key", "path", req.URL.Path, "remote_addr", req.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func remoteAddress(req *http.Request) string {
	ip, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return ip
}

func (r *Runtime) getRateLimiter(path string, limit float64, burst int, req *http.Request) *rate.Limiter {
	key := path + "|" + remoteAddress(req)
	item := r.limiters.Get(key)
	if item == nil {
		item = r.limiters.Set(key, rate.NewLimiter(rate.Limit(limit), burst), ttlcache.DefaultTTL)
	}
	return item.Value()
}

func (r *Runtime) rateLimitMiddleware(next http.Handler, path string, limit float64, burst int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		limiter := r.getRateLimiter(path, limit, burst, req)
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			r.logger.Warn("Rate limit exceeded", "path", path, "remote_addr", req.RemoteAddr)

			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
