package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and local runs without
// Supabase credentials.
type Memory struct {
	mu      sync.Mutex
	BaseURL string
	Objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{BaseURL: "http://storage.local", Objects: map[string][]byte{}}
}

func (m *Memory) Upload(_ context.Context, bucket, path string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[bucket+"/"+path] = append([]byte(nil), data...)
	return m.PublicURL(bucket, path), nil
}

func (m *Memory) Remove(_ context.Context, bucket string, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.Objects, bucket+"/"+p)
	}
	return nil
}

func (m *Memory) PublicURL(bucket, path string) string {
	return m.BaseURL + "/storage/v1/object/public/" + bucket + "/" + escapePath(path)
}

func (m *Memory) Has(bucket, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Objects[bucket+"/"+path]
	return ok
}
