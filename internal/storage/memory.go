package storage

import (
	"context"
	"sync"
)

// Memory is the in-process KV used when no database is configured. Its
// contents live as long as the process.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	notify func(key string)
}

func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

// OnChange registers a callback run after every written key.
func (m *Memory) OnChange(fn func(key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = fn
}

func (m *Memory) Get(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, items map[string]string) error {
	m.mu.Lock()
	for k, v := range items {
		m.values[k] = v
	}
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		for k := range items {
			notify(k)
		}
	}
	return nil
}
