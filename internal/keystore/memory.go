package keystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an ephemeral KeyStore. Nothing survives the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(ctx context.Context, alias string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[alias]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil || entry.Alias == "" {
		return fmt.Errorf("keystore: entry alias required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Alias] = entry.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, alias string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[alias]; !ok {
		return ErrNotFound
	}
	delete(m.entries, alias)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	aliases := make([]string, 0, len(m.entries))
	for alias := range m.entries {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases, nil
}

func (m *MemoryStore) Close() error { return nil }
