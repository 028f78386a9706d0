package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/logging"
)

// RoutingTable is a sparse mapping from bucket index to Bucket, plus a
// content-addressed store of peer descriptors keyed by peer identifier.
// It lazily materializes its buckets from the adapter's routing-table
// snapshot on the first call to GetBucket, Empty, GetNearestContacts or
// Indexes; Size, HasBucket and InTable see only buckets already in memory.
type RoutingTable struct {
	self kadid.ID
	k    int
	b    int
	store Adapter

	mu      sync.RWMutex
	buckets map[int]*Bucket
	loaded  bool
}

// tableSnapshot is the CBOR-serialized shape of the set of populated bucket
// indices, persisted under the routing-table key. It records which buckets
// exist, nothing about their contents: each bucket's own node-id order is
// the sole property of its bucket-<i> record (see Bucket.Save/Load), reread
// on every ensureLoaded rather than cached here, so a bucket mutated after
// its first Save never goes stale relative to this snapshot.
type tableSnapshot struct {
	Indexes []int `cbor:"indexes"`
}

// New constructs a RoutingTable for self, with capacity k contacts per
// bucket and b possible bucket indices [0, b), backed by store.
func New(self kadid.ID, k, b int, store Adapter) *RoutingTable {
	return &RoutingTable{
		self:    self,
		k:       k,
		b:       b,
		store:   store,
		buckets: make(map[int]*Bucket),
	}
}

func contactKey(id kadid.ID) []byte {
	return []byte(fmt.Sprintf("%s%s", contactKeyPrefix, id))
}

func getContactRecord(ctx context.Context, store Adapter, id kadid.ID) (Contact, error) {
	raw, err := store.Get(ctx, contactKey(id))
	if err != nil {
		if err == ErrNotFound {
			return Contact{}, ErrNotPresent
		}
		return Contact{}, err
	}
	var c Contact
	if err := unmarshalCanonical(raw, &c); err != nil {
		return Contact{}, ErrNotPresent
	}
	return c, nil
}

// ensureLoaded reads the routing-table snapshot on first access to learn
// which bucket indices exist, then loads each bucket's own bucket-<i>
// record for its actual, current contents. An absent or corrupt snapshot
// is treated as an empty table, never an error; a bucket that fails to
// load is skipped rather than surfaced, so one damaged record doesn't take
// the whole table down.
func (rt *RoutingTable) ensureLoaded(ctx context.Context) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.loaded {
		return
	}
	rt.loaded = true

	raw, err := rt.store.Get(ctx, []byte(routingTableKey))
	if err != nil {
		return
	}
	var snap tableSnapshot
	if err := unmarshalCanonical(raw, &snap); err != nil {
		return
	}
	for _, idx := range snap.Indexes {
		if idx < 0 || idx >= rt.b {
			continue
		}
		bucket := NewBucket(idx, rt.k, rt.store)
		if err := bucket.Load(ctx); err != nil {
			continue
		}
		rt.buckets[idx] = bucket
	}
}

func (rt *RoutingTable) persistIndexLocked(ctx context.Context) error {
	idxs := make([]int, 0, len(rt.buckets))
	for idx := range rt.buckets {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	raw, err := marshalCanonical(tableSnapshot{Indexes: idxs})
	if err != nil {
		return fmt.Errorf("routing: encode routing-table snapshot: %w", err)
	}
	return rt.store.Put(ctx, []byte(routingTableKey), raw)
}

// Size returns the sum of bucket sizes.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for _, b := range rt.buckets {
		n += b.Len()
	}
	return n
}

// Indexes returns the sorted set of populated bucket indices.
func (rt *RoutingTable) Indexes() []int {
	rt.ensureLoaded(context.Background())
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]int, 0, len(rt.buckets))
	for idx, b := range rt.buckets {
		if b.Len() > 0 {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// Empty drops all buckets in memory and persists an empty snapshot.
func (rt *RoutingTable) Empty(ctx context.Context) error {
	rt.ensureLoaded(ctx)

	rt.mu.Lock()
	rt.buckets = make(map[int]*Bucket)
	rt.mu.Unlock()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.persistIndexLocked(ctx)
}

// GetBucket returns the bucket at index i, creating (and persisting) an
// empty one if necessary.
func (rt *RoutingTable) GetBucket(ctx context.Context, i int) (*Bucket, error) {
	if i < 0 || i >= rt.b {
		return nil, ErrInvalidIndex
	}
	rt.ensureLoaded(ctx)

	rt.mu.Lock()
	bucket, ok := rt.buckets[i]
	if ok {
		rt.mu.Unlock()
		return bucket, nil
	}
	bucket = NewBucket(i, rt.k, rt.store)
	rt.buckets[i] = bucket
	err := rt.persistIndexLocked(ctx)
	rt.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("routing: create bucket %d: %w", i, err)
	}
	logging.Logf(ctx, "created bucket %d", i)
	return bucket, nil
}

// HasBucket reports whether bucket i exists and is non-empty.
func (rt *RoutingTable) HasBucket(i int) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	b, ok := rt.buckets[i]
	return ok && b.Len() > 0
}

// GetContact deserializes the Contact record from the store.
func (rt *RoutingTable) GetContact(ctx context.Context, id kadid.ID) (Contact, error) {
	return getContactRecord(ctx, rt.store, id)
}

// SetContact upserts the Contact record keyed by NodeID.
func (rt *RoutingTable) SetContact(ctx context.Context, c Contact) error {
	raw, err := marshalCanonical(c)
	if err != nil {
		return fmt.Errorf("routing: encode contact %s: %w", c.NodeID, err)
	}
	if err := rt.store.Put(ctx, contactKey(c.NodeID), raw); err != nil {
		return fmt.Errorf("routing: set contact %s: %w", c.NodeID, err)
	}
	return nil
}

// InTable reports whether id is present in some bucket.
func (rt *RoutingTable) InTable(id kadid.ID) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, b := range rt.buckets {
		if b.Has(id) {
			return true
		}
	}
	return false
}

// BucketIndex resolves the bucket index that id belongs to relative to
// self, asserting it lies in [0, B).
func (rt *RoutingTable) BucketIndex(id kadid.ID) (int, error) {
	i, err := kadid.BucketIndex(rt.self, id)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= rt.b {
		return 0, ErrInvalidIndex
	}
	return i, nil
}

// Self returns the local node identifier this table is built around.
func (rt *RoutingTable) Self() kadid.ID { return rt.self }

// K returns the configured bucket capacity.
func (rt *RoutingTable) K() int { return rt.k }

// B returns the configured identifier width in bits (number of buckets).
func (rt *RoutingTable) B() int { return rt.b }

// GetNearestContacts returns up to limit Contacts near hashedKey, excluding
// any contact whose NodeID == exclude. It visits the natural bucket for
// hashedKey first, then walks outward: i0+1, i0+2, ..., B-1, then i0-1,
// i0-2, ..., 0. Each bucket's contacts are sorted by ascending XOR distance
// to hashedKey and appended in visit order, so the result is sorted within
// each bucket but not necessarily across buckets i0+1..B-1.
func (rt *RoutingTable) GetNearestContacts(ctx context.Context, hashedKey kadid.ID, limit int, exclude kadid.ID) ([]Contact, error) {
	rt.ensureLoaded(ctx)

	i0 := 0
	if hashedKey != rt.self {
		idx, err := kadid.BucketIndex(rt.self, hashedKey)
		if err == nil {
			i0 = idx
		}
	}

	collected := make([]Contact, 0, limit)
	visit := func(i int) error {
		if len(collected) >= limit {
			return nil
		}
		rt.mu.RLock()
		bucket, ok := rt.buckets[i]
		rt.mu.RUnlock()
		if !ok || bucket.Len() == 0 {
			return nil
		}
		if err := bucket.LoadContacts(ctx); err != nil {
			return err
		}
		candidates := bucket.List()
		sortByDistance(candidates, hashedKey)
		for _, c := range candidates {
			if len(collected) >= limit {
				break
			}
			if c.NodeID == exclude {
				continue
			}
			collected = append(collected, c)
		}
		return nil
	}

	if err := visit(i0); err != nil {
		return nil, err
	}
	for i := i0 + 1; i < rt.b && len(collected) < limit; i++ {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	for i := i0 - 1; i >= 0 && len(collected) < limit; i-- {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return collected, nil
}
