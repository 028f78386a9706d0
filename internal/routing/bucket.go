package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/logging"
)

// Bucket is a bounded, ordered sequence of up to K peer descriptors,
// stalest at index 0 and freshest at the tail. Only NodeIDs are held in
// order; full Contact records are resolved through store on demand and
// cached in memory once loaded.
type Bucket struct {
	mu    sync.Mutex
	index int
	k     int
	store Adapter

	order []kadid.ID
	cache map[kadid.ID]Contact

	// seq serializes the load -> decide -> probe -> mutate -> save sequence
	// UpdateContact and RemoveContact run as a unit, on top of the
	// fine-grained mu above that only ever guards the in-memory slice/cache.
	seq sync.Mutex
}

// NewBucket constructs an empty bucket for the given index with capacity k,
// backed by store for persistence.
func NewBucket(index, k int, store Adapter) *Bucket {
	return &Bucket{
		index: index,
		k:     k,
		store: store,
		cache: make(map[kadid.ID]Contact),
	}
}

// Index returns the bucket's position in the routing table.
func (b *Bucket) Index() int { return b.index }

// Add appends contact in last-seen-ascending position (i.e. at the tail).
// It is a caller error to Add a contact whose LastSeen does not already
// dominate the bucket's tail; UpdateContact enforces this by stamping
// LastSeen immediately before insertion.
func (b *Bucket) Add(contact Contact) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.cache[contact.NodeID]; ok {
		return ErrDuplicate
	}
	if len(b.order) >= b.k {
		return ErrFull
	}
	b.order = append(b.order, contact.NodeID)
	b.cache[contact.NodeID] = contact
	return nil
}

// Remove deletes nodeID from the bucket.
func (b *Bucket) Remove(nodeID kadid.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.indexOfLocked(nodeID)
	if pos < 0 {
		return ErrNotPresent
	}
	b.order = append(b.order[:pos], b.order[pos+1:]...)
	delete(b.cache, nodeID)
	return nil
}

// Has reports membership by NodeID.
func (b *Bucket) Has(nodeID kadid.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexOfLocked(nodeID) >= 0
}

// IndexOf returns the position of nodeID within the ordered sequence, or -1.
func (b *Bucket) IndexOf(nodeID kadid.ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexOfLocked(nodeID)
}

func (b *Bucket) indexOfLocked(nodeID kadid.ID) int {
	for i, id := range b.order {
		if id == nodeID {
			return i
		}
	}
	return -1
}

// Get resolves order[pos] to a Contact via the storage adapter, populating
// the cache if necessary.
func (b *Bucket) Get(ctx context.Context, pos int) (Contact, error) {
	b.mu.Lock()
	if pos < 0 || pos >= len(b.order) {
		b.mu.Unlock()
		return Contact{}, ErrOutOfRange
	}
	nodeID := b.order[pos]
	if c, ok := b.cache[nodeID]; ok {
		b.mu.Unlock()
		return c, nil
	}
	b.mu.Unlock()

	c, err := getContactRecord(ctx, b.store, nodeID)
	if err != nil {
		return Contact{}, err
	}
	b.mu.Lock()
	b.cache[nodeID] = c
	b.mu.Unlock()
	return c, nil
}

// List returns a defensive-copy snapshot of the cached Contacts, in
// last-seen-ascending order.
func (b *Bucket) List() []Contact {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Contact, 0, len(b.order))
	for _, id := range b.order {
		if c, ok := b.cache[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Len reports the number of contacts currently in the bucket.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Cap reports the bucket's configured capacity, K.
func (b *Bucket) Cap() int { return b.k }

// WithLock runs f under the bucket's sequence lock, serializing whole
// load/probe/mutate/save cycles against each other (UpdateContact,
// RemoveContact) without contending with the short-lived mu that guards
// individual field reads.
func (b *Bucket) WithLock(f func() error) error {
	b.seq.Lock()
	defer b.seq.Unlock()
	return f()
}

// bucketSnapshot is the CBOR-serialized shape of a bucket's node-id order,
// persisted under key bucket-<i>.
type bucketSnapshot struct {
	Index int         `cbor:"index"`
	Order []kadid.ID  `cbor:"order"`
}

func bucketKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%d", bucketKeyPrefix, index))
}

// Save persists order under bucket-<i>. It does not touch the table-level
// index-set snapshot; that only changes when a bucket is created or the
// table is emptied (RoutingTable.GetBucket, RoutingTable.Empty), since a
// bucket's presence in the index set doesn't change on every Add/Remove.
func (b *Bucket) Save(ctx context.Context) error {
	b.mu.Lock()
	snap := bucketSnapshot{Index: b.index, Order: append([]kadid.ID{}, b.order...)}
	b.mu.Unlock()

	raw, err := marshalCanonical(snap)
	if err != nil {
		return fmt.Errorf("routing: encode bucket %d: %w", b.index, err)
	}
	if err := b.store.Put(ctx, bucketKey(b.index), raw); err != nil {
		return fmt.Errorf("routing: save bucket %d: %w", b.index, err)
	}
	logging.Logf(ctx, "bucket %d saved size=%d", b.index, len(snap.Order))
	return nil
}

// Load replaces order from bucket-<i>. A missing snapshot is a silent
// no-op, not an error.
func (b *Bucket) Load(ctx context.Context) error {
	raw, err := b.store.Get(ctx, bucketKey(b.index))
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return fmt.Errorf("routing: load bucket %d: %w", b.index, err)
	}
	var snap bucketSnapshot
	if err := unmarshalCanonical(raw, &snap); err != nil {
		// A corrupt snapshot is treated as an empty bucket, not an error.
		return nil
	}

	b.mu.Lock()
	b.order = snap.Order
	b.mu.Unlock()
	return nil
}

// LoadContacts populates the local cache by reading each NodeID currently
// in order via the adapter. A miss on any entry is fatal to the batch.
func (b *Bucket) LoadContacts(ctx context.Context) error {
	b.mu.Lock()
	ids := append([]kadid.ID{}, b.order...)
	b.mu.Unlock()

	for _, id := range ids {
		c, err := getContactRecord(ctx, b.store, id)
		if err != nil {
			return fmt.Errorf("routing: load contact %s: %w", id, err)
		}
		b.mu.Lock()
		b.cache[id] = c
		b.mu.Unlock()
	}
	return nil
}

// Empty loads the bucket, deletes each contained Contact record, then
// removes the bucket-<i> snapshot itself.
func (b *Bucket) Empty(ctx context.Context) error {
	if err := b.Load(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	ids := append([]kadid.ID{}, b.order...)
	b.mu.Unlock()

	for _, id := range ids {
		if err := b.store.Delete(ctx, contactKey(id)); err != nil {
			return fmt.Errorf("routing: empty bucket %d: delete contact %s: %w", b.index, id, err)
		}
	}
	if err := b.store.Delete(ctx, bucketKey(b.index)); err != nil {
		return fmt.Errorf("routing: empty bucket %d: %w", b.index, err)
	}

	b.mu.Lock()
	b.order = nil
	b.cache = make(map[kadid.ID]Contact)
	b.mu.Unlock()
	return nil
}

// sortByDistance sorts contacts by ascending XOR distance to target.
func sortByDistance(contacts []Contact, target kadid.ID) {
	sort.Slice(contacts, func(i, j int) bool {
		di := kadid.Distance(target, contacts[i].NodeID)
		dj := kadid.Distance(target, contacts[j].NodeID)
		return kadid.Compare(di, dj) < 0
	})
}

func marshalCanonical(v any) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}

func unmarshalCanonical(data []byte, v any) error {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return err
	}
	return mode.Unmarshal(data, v)
}
