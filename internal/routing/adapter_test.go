package routing

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// mockAdapter is a minimal in-memory Adapter used only by this package's
// tests, so routing can be tested without depending on package storage.
type mockAdapter struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{data: make(map[string][]byte)}
}

func (a *mockAdapter) Get(_ context.Context, key []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func (a *mockAdapter) Put(_ context.Context, key, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (a *mockAdapter) Delete(_ context.Context, key []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, string(key))
	return nil
}

func (a *mockAdapter) Iterate(_ context.Context, prefix []byte) (Cursor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []string
	for k := range a.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	c := &mockCursor{pos: -1}
	for _, k := range keys {
		c.keys = append(c.keys, []byte(k))
		c.values = append(c.values, append([]byte{}, a.data[k]...))
	}
	return c, nil
}

type mockCursor struct {
	keys, values [][]byte
	pos          int
}

func (c *mockCursor) Next() bool { c.pos++; return c.pos < len(c.keys) }
func (c *mockCursor) Key() []byte {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil
	}
	return c.keys[c.pos]
}
func (c *mockCursor) Value() []byte {
	if c.pos < 0 || c.pos >= len(c.values) {
		return nil
	}
	return c.values[c.pos]
}
func (c *mockCursor) Err() error   { return nil }
func (c *mockCursor) Close() error { return nil }
