package routing

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Adapter.Get when key is absent.
var ErrNotFound = errors.New("routing: key not found")

// Adapter is the opaque key/value persistence contract the routing table is
// built on. Values are opaque byte strings; routing is the sole producer
// and consumer of the payloads it stores through this interface. Concrete
// implementations live in package storage.
type Adapter interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// Iterate returns a Cursor over every key sharing prefix. The routing
	// table does not call this directly, but the contract requires it so
	// CLI inspection and GC-style tooling can walk a live adapter.
	Iterate(ctx context.Context, prefix []byte) (Cursor, error)
}

// Cursor enumerates key/value pairs in a streaming fashion. Callers must
// call Close when done.
type Cursor interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

const (
	routingTableKey = "routing-table"
	bucketKeyPrefix = "bucket-"
	contactKeyPrefix = "contact-"
)
