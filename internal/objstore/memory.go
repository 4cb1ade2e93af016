package objstore

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process bucket used by the CLI in ephemeral mode and by
// tests. It counts calls so dedup behaviour can be asserted.
type Memory struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]memoryObject

	Puts  int
	Heads int
}

type memoryObject struct {
	data        []byte
	contentType string
}

var _ Bucket = &Memory{}

func NewMemory(baseURL string) *Memory {
	return &Memory{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]memoryObject),
	}
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heads++
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *Memory) URL(key string) string {
	return m.baseURL + "/" + key
}

// Object returns the stored bytes and content type for key.
func (m *Memory) Object(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o.data, o.contentType, ok
}
