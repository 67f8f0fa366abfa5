package cache

import (
	"context"
	"sync"
)

// Memory is the in-process ResultCache.
type Memory struct {
	mu      sync.RWMutex
	results map[string]string
}

func NewMemory() *Memory {
	return &Memory{results: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.results[path]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, path, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[path] = value
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = make(map[string]string)
	return nil
}

var _ ResultCache = (*Memory)(nil)
