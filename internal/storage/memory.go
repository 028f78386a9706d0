// Package storage provides concrete implementations of the routing.Adapter
// key/value contract: an in-memory map for tests and ephemeral nodes, and a
// goleveldb-backed adapter for long-running ones.
package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/kadroute/kadroute/internal/routing"
)

// Memory is an in-memory routing.Adapter backed by a plain map. Safe for
// concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory constructs an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, routing.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Put(_ context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *Memory) Iterate(_ context.Context, prefix []byte) (routing.Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]kv, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, kv{key: []byte(k), value: append([]byte{}, m.data[k]...)})
	}
	return &memCursor{entries: entries, pos: -1}, nil
}

type kv struct {
	key, value []byte
}

type memCursor struct {
	entries []kv
	pos     int
}

func (c *memCursor) Next() bool {
	c.pos++
	return c.pos < len(c.entries)
}

func (c *memCursor) Key() []byte {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return nil
	}
	return c.entries[c.pos].key
}

func (c *memCursor) Value() []byte {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return nil
	}
	return c.entries[c.pos].value
}

func (c *memCursor) Err() error   { return nil }
func (c *memCursor) Close() error { return nil }
