// Package kvstore provides the value stores the runtime exposes to plugins.
// Every backend reports a missing key as *tkv.ErrKeyNotFound so callers test
// for absence with tkv.IsNotFound regardless of where the data lives.
package kvstore

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/tkv"
)

type Store interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
	Close() error
}

// Open builds the backend named by the session store config.
func Open(logger *slog.Logger, cfg *config.Config, level slog.Level) (Store, error) {
	switch cfg.SessionStore.Backend {
	case config.SessionBackendMemory:
		return NewMemory(), nil
	case config.SessionBackendRedis:
		return NewRedis(logger, cfg.SessionStore.RedisAddr, cfg.SessionStore.TTL)
	case config.SessionBackendTKV, "":
		store, err := tkv.New(tkv.Config{
			Logger:         logger,
			BadgerLogLevel: level,
			Directory:      filepath.Join(cfg.DataDir, "sessions"),
			CacheTTL:       cfg.SessionStore.CacheTTL,
			ValueTTL:       cfg.SessionStore.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open tkv session store: %w", err)
		}
		return NewCached(store), nil
	default:
		return nil, config.ErrSessionBackendUnknown
	}
}
