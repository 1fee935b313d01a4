package store

import (
	"context"
	"slices"
	"sync"

	"github.com/ashureev/askbar/internal/domain"
)

// MemoryStore is an in-process Repository used by the terminal client when
// no database path is configured, and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	history  map[domain.Preset][]domain.ChatContent
	settings map[string]string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		history:  make(map[domain.Preset][]domain.ChatContent),
		settings: make(map[string]string),
	}
}

func (m *MemoryStore) History(_ context.Context, preset domain.Preset) ([]domain.ChatContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history[preset]), nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, preset domain.Preset, turn domain.ChatContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[preset] = append(m.history[preset], turn)
	return nil
}

func (m *MemoryStore) DeleteHistory(_ context.Context, preset domain.Preset, index int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[preset]
	if index < 0 || index >= len(h) {
		return false, nil
	}
	m.history[preset] = slices.Delete(slices.Clone(h), index, index+1)
	return true, nil
}

func (m *MemoryStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
