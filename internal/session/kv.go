package session

import (
	"github.com/InsulaLabs/txt2img/internal/tkv"
)

// StringKV is the shape of the host value stores.
type StringKV interface {
	Get(key string) (string, error)
	Set(key string, value string) error
}

// KVStorage adapts a StringKV that reports absence as *tkv.ErrKeyNotFound.
type KVStorage struct {
	kv StringKV
}

var _ Storage = &KVStorage{}

func NewKVStorage(kv StringKV) *KVStorage {
	return &KVStorage{kv: kv}
}

func (s *KVStorage) Get(key string) ([]byte, bool, error) {
	v, err := s.kv.Get(key)
	if err != nil {
		if tkv.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (s *KVStorage) Set(key string, value []byte) error {
	return s.kv.Set(key, string(value))
}
