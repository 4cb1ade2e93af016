package tkv

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/jellydator/ttlcache/v3"
)

var DefaultCacheTTL = 1 * time.Minute

type store struct {
	logger   *slog.Logger
	db       *badger.DB
	cache    *ttlcache.Cache[string, string]
	cacheTTL time.Duration
	valueTTL time.Duration
}

var _ TKV = &store{}

func New(config Config) (TKV, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	// A cached value must not outlive its badger entry.
	if config.ValueTTL > 0 && config.ValueTTL < config.CacheTTL {
		config.CacheTTL = config.ValueTTL
	}

	dir := filepath.Join(config.Directory, "histories")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	// Histories are small JSON documents; the default memtable is far larger
	// than the working set.
	db, err := badger.Open(badger.DefaultOptions(dir).
		WithLogger(newLogger(config.Logger.WithGroup("badger"), config.BadgerLogLevel)).
		WithMemTableSize(16 << 20).
		WithNumVersionsToKeep(1))
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	// Hits must not extend the ttl, or another process writing the same
	// directory would never be observed by a busy conversation.
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](config.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	s := &store{
		logger:   config.Logger.WithGroup("tkv"),
		db:       db,
		cache:    cache,
		cacheTTL: config.CacheTTL,
		valueTTL: config.ValueTTL,
	}
	s.logger.Info("history store opened", "dir", dir, "cache_ttl", config.CacheTTL, "value_ttl", config.ValueTTL)
	return s, nil
}

func (s *store) Close() error {
	s.cache.Stop()
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close badger", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

func (s *store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &ErrKeyNotFound{Key: key}
		}
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return item.Value(func(v []byte) error {
			value = string(v)
			return nil
		})
	})
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Error("history read failed", "key", key, "error", err)
		}
		return "", err
	}
	return value, nil
}

func (s *store) Set(key string, value string) error {
	entry := badger.NewEntry([]byte(key), []byte(value))
	if s.valueTTL > 0 {
		entry = entry.WithTTL(s.valueTTL)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		s.logger.Error("history write failed", "key", key, "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

// Delete of a missing key is not an error.
func (s *store) Delete(key string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

func (s *store) CacheGet(key string) (string, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return "", &ErrKeyNotFound{Key: key}
	}
	return item.Value(), nil
}

// CacheSet uses the configured cache ttl when ttl is zero.
func (s *store) CacheSet(key string, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.cacheTTL
	}
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *store) CacheDelete(key string) error {
	s.cache.Delete(key)
	return nil
}
