package repo

import (
	"context"
	"sync"

	"tg-feedback-bot/internal/domain"
)

// Memory хранит документы в памяти процесса. Используется в dev и тестах.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

var _ domain.DocumentStore = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.docs[collection][key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

func (m *Memory) Put(_ context.Context, collection, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string][]byte)
		m.docs[collection] = coll
	}
	coll[key] = append([]byte(nil), body...)
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[collection], key)
	return nil
}

func (m *Memory) All(_ context.Context, collection string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.docs[collection]))
	for k, v := range m.docs[collection] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}
