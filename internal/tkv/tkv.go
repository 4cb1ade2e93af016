// Package tkv keeps conversation histories in badger on local disk. A
// ttlcache sits in front of it for repeated reads of the same conversation.
package tkv

import (
	"log/slog"
	"time"
)

type Config struct {
	Logger         *slog.Logger
	BadgerLogLevel slog.Level
	Directory      string
	CacheTTL       time.Duration

	// ValueTTL expires stored values. Zero keeps them until deleted.
	ValueTTL time.Duration
}

type ValueHandler interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
}

type CacheHandler interface {
	CacheGet(key string) (string, error)
	CacheSet(key string, value string, ttl time.Duration) error
	CacheDelete(key string) error
}

type TKV interface {
	ValueHandler
	CacheHandler

	Close() error
}
