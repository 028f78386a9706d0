package storage

import (
	"context"

	"github.com/kadroute/kadroute/internal/routing"
	"github.com/syndtr/goleveldb/leveldb"
	lutil "github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a goleveldb-backed routing.Adapter for long-running nodes.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if absent) a leveldb database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Close releases the underlying database handle.
func (l *LevelDB) Close() error { return l.db.Close() }

func (l *LevelDB) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := l.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, routing.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (l *LevelDB) Put(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Iterate(ctx context.Context, prefix []byte) (routing.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it := l.db.NewIterator(lutil.BytesPrefix(prefix), nil)
	return &levelCursor{it: it}, nil
}

type levelCursor struct {
	it iterator
}

// iterator narrows goleveldb's iterator.Iterator to what levelCursor needs,
// keeping this file's surface small and easy to fake in tests.
type iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

func (c *levelCursor) Next() bool     { return c.it.Next() }
func (c *levelCursor) Key() []byte    { return append([]byte{}, c.it.Key()...) }
func (c *levelCursor) Value() []byte  { return append([]byte{}, c.it.Value()...) }
func (c *levelCursor) Err() error     { return c.it.Error() }
func (c *levelCursor) Close() error   { c.it.Release(); return nil }
