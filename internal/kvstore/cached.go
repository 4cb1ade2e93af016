package kvstore

import (
	"github.com/InsulaLabs/txt2img/internal/tkv"
)

// Cached serves reads from the tkv cache and falls through to badger on a
// miss. Writes go to both so a reader never sees a value older than its own
// last write.
type Cached struct {
	tkv tkv.TKV
}

var _ Store = &Cached{}

func NewCached(t tkv.TKV) *Cached {
	return &Cached{tkv: t}
}

func (c *Cached) Get(key string) (string, error) {
	if v, err := c.tkv.CacheGet(key); err == nil {
		return v, nil
	}
	v, err := c.tkv.Get(key)
	if err != nil {
		return "", err
	}
	_ = c.tkv.CacheSet(key, v, 0)
	return v, nil
}

func (c *Cached) Set(key string, value string) error {
	if err := c.tkv.Set(key, value); err != nil {
		_ = c.tkv.CacheDelete(key)
		return err
	}
	return c.tkv.CacheSet(key, value, 0)
}

func (c *Cached) Delete(key string) error {
	_ = c.tkv.CacheDelete(key)
	return c.tkv.Delete(key)
}

func (c *Cached) Close() error {
	return c.tkv.Close()
}
