package routing

import (
	"context"
	"fmt"
	"testing"

	"github.com/kadroute/kadroute/internal/kadid"
)

const testK = 8

func mkContact(tag string) Contact {
	c := Contact{NodeID: kadid.CreateID([]byte(tag)), Address: tag}
	c.Seen()
	return c
}

func TestBucketAddFillsAndRejectsOnFullOrDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newMockAdapter()
	b := NewBucket(3, testK, store)

	var inserted []Contact
	for i := 0; i < testK; i++ {
		c := mkContact(fmt.Sprintf("c%02d", i))
		if err := b.Add(c); err != nil {
			t.Fatalf("unexpected error while filling: %v", err)
		}
		inserted = append(inserted, c)
	}
	if got := b.Len(); got != testK {
		t.Fatalf("unexpected length: got %d want %d", got, testK)
	}

	if err := b.Add(mkContact("newcomer")); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if err := b.Add(inserted[0]); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	_ = ctx
}

func TestBucketRemoveNotPresent(t *testing.T) {
	store := newMockAdapter()
	b := NewBucket(0, testK, store)
	if err := b.Remove(kadid.RandomID()); err != ErrNotPresent {
		t.Fatalf("expected ErrNotPresent, got %v", err)
	}
}

func TestBucketOrderingTailIsFreshest(t *testing.T) {
	store := newMockAdapter()
	b := NewBucket(0, testK, store)

	a := mkContact("a")
	c := mkContact("c")
	_ = b.Add(a)
	_ = b.Add(c)

	list := b.List()
	if len(list) != 2 || list[0].NodeID != a.NodeID || list[1].NodeID != c.NodeID {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestBucketSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMockAdapter()
	b := NewBucket(5, testK, store)

	var ids []kadid.ID
	for i := 0; i < 3; i++ {
		c := mkContact(fmt.Sprintf("peer-%d", i))
		if err := b.Add(c); err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, c.NodeID)
	}
	if err := b.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := NewBucket(5, testK, store)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if fresh.Len() != len(ids) {
		t.Fatalf("reloaded length mismatch: got %d want %d", fresh.Len(), len(ids))
	}
	for i, id := range ids {
		if fresh.IndexOf(id) != i {
			t.Fatalf("reloaded order mismatch at %d", i)
		}
	}
}

func TestBucketLoadMissingSnapshotIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMockAdapter()
	b := NewBucket(9, testK, store)
	if err := b.Load(ctx); err != nil {
		t.Fatalf("load on missing snapshot should be a no-op: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty bucket")
	}
}

func TestBucketGetOutOfRange(t *testing.T) {
	ctx := context.Background()
	store := newMockAdapter()
	b := NewBucket(0, testK, store)
	_ = b.Add(mkContact("only"))

	if _, err := b.Get(ctx, 1); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := b.Get(ctx, -1); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange for negative pos, got %v", err)
	}
	c, err := b.Get(ctx, 0)
	if err != nil || c.Address != "only" {
		t.Fatalf("Get(0) unexpected: %+v %v", c, err)
	}
}

func TestBucketEmptyDeletesContactsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newMockAdapter()
	b := NewBucket(2, testK, store)

	c := mkContact("gone")
	_ = b.Add(c)
	raw, _ := marshalCanonical(c)
	_ = store.Put(ctx, contactKey(c.NodeID), raw)
	if err := b.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := b.Empty(ctx); err != nil {
		t.Fatalf("empty: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty bucket after Empty()")
	}
	if _, err := store.Get(ctx, contactKey(c.NodeID)); err != ErrNotFound {
		t.Fatalf("expected contact record deleted, got err=%v", err)
	}
	if _, err := store.Get(ctx, bucketKey(2)); err != ErrNotFound {
		t.Fatalf("expected bucket snapshot deleted, got err=%v", err)
	}
}
