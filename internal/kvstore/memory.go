package kvstore

import (
	"sync"

	"github.com/InsulaLabs/txt2img/internal/tkv"
)

type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = &Memory{}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", &tkv.ErrKeyNotFound{Key: key}
	}
	return v, nil
}

func (m *Memory) Set(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
