package router

import (
	"context"
	"fmt"

	"github.com/kadroute/kadroute/internal/logging"
	"github.com/kadroute/kadroute/internal/routing"
	"github.com/kadroute/kadroute/internal/transport"
)

// UpdateContact records an observation of c: it is the single entry point
// that decides whether c joins its bucket, refreshes an existing entry, or
// triggers a liveness probe of the bucket's stalest member.
//
// The bucket's own sequence lock (Bucket.WithLock) serializes the whole
// load/probe/mutate/save cycle so concurrent observations of peers destined
// for the same bucket never race each other's eviction decision.
func (r *Router) UpdateContact(ctx context.Context, c routing.Contact) error {
	c.Seen()
	if err := r.rt.SetContact(ctx, c); err != nil {
		return err
	}

	idx, err := r.rt.BucketIndex(c.NodeID)
	if err != nil {
		return err
	}
	bucket, err := r.rt.GetBucket(ctx, idx)
	if err != nil {
		return err
	}

	return bucket.WithLock(func() error {
		if err := bucket.Load(ctx); err != nil {
			return err
		}
		if err := bucket.LoadContacts(ctx); err != nil {
			return err
		}

		switch {
		case bucket.Has(c.NodeID):
			return r.shiftToTail(ctx, bucket, idx, c)
		case bucket.Len() < bucket.Cap():
			return r.insert(ctx, bucket, idx, c)
		default:
			return r.probeHeadAndDecide(ctx, bucket, idx, c)
		}
	})
}

// shiftToTail re-inserts an already-known contact so it lands at the tail
// (freshest position), stamping its LastSeen and persisting the change.
func (r *Router) shiftToTail(ctx context.Context, bucket *routing.Bucket, idx int, c routing.Contact) error {
	if err := bucket.Remove(c.NodeID); err != nil && err != routing.ErrNotPresent {
		return err
	}
	if err := bucket.Add(c); err != nil {
		return fmt.Errorf("router: shift contact %s: %w", c.NodeID, err)
	}
	if err := r.rt.SetContact(ctx, c); err != nil {
		return err
	}
	if err := bucket.Save(ctx); err != nil {
		return err
	}
	r.emit(ShiftEvent{Contact: c, BucketIndex: idx, Position: bucket.IndexOf(c.NodeID)})
	return nil
}

// insert appends a brand-new contact to a bucket that still has spare
// capacity.
func (r *Router) insert(ctx context.Context, bucket *routing.Bucket, idx int, c routing.Contact) error {
	if err := bucket.Add(c); err != nil {
		return fmt.Errorf("router: insert contact %s: %w", c.NodeID, err)
	}
	if err := r.rt.SetContact(ctx, c); err != nil {
		return err
	}
	if err := bucket.Save(ctx); err != nil {
		return err
	}
	r.emit(AddEvent{Contact: c, BucketIndex: idx, Position: bucket.IndexOf(c.NodeID)})
	return nil
}

// probeHeadAndDecide implements the full-bucket path: PING the stalest
// member (position 0). If it answers, it is refreshed to the tail and the
// newcomer c is discarded. If it fails to answer, it is evicted and c takes
// its place.
func (r *Router) probeHeadAndDecide(ctx context.Context, bucket *routing.Bucket, idx int, c routing.Contact) error {
	head, err := bucket.Get(ctx, 0)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.RPCTimeout)
	_, pingErr := r.transport.Send(pingCtx, head, transport.Message{Type: transport.Ping})
	cancel()

	// The RTT may have let another goroutine mutate the bucket underneath
	// us; reload before acting on the probe's outcome.
	if err := bucket.Load(ctx); err != nil {
		return err
	}
	if err := bucket.LoadContacts(ctx); err != nil {
		return err
	}

	if pingErr == nil {
		// Head is alive: it wins the slot back, refreshed. The newcomer is
		// discarded and no event is emitted for it.
		if bucket.Len() == 0 {
			return nil
		}
		cur, err := bucket.Get(ctx, 0)
		if err != nil {
			return err
		}
		if cur.NodeID != head.NodeID {
			// Someone else already reshuffled this bucket during the probe.
			return nil
		}
		cur.Seen()
		return r.shiftToTail(ctx, bucket, idx, cur)
	}

	// Head failed to answer: evict it and let the newcomer take the slot.
	logging.Logf(logging.WithPrefix(ctx, logging.RouterPrefix), "head probe failed for %s, evicting", head)
	if bucket.Len() > 0 {
		stale, err := bucket.Get(ctx, 0)
		if err != nil {
			return err
		}
		if err := bucket.Remove(stale.NodeID); err != nil && err != routing.ErrNotPresent {
			return err
		}
		if err := bucket.Save(ctx); err != nil {
			return err
		}
		r.emit(DropEvent{Contact: stale})
	}
	return r.insert(ctx, bucket, idx, c)
}

// RemoveContact evicts c from its bucket outright, e.g. after a lookup
// observes it fail to answer an RPC. Absence is not an error.
func (r *Router) RemoveContact(ctx context.Context, c routing.Contact) error {
	idx, err := r.rt.BucketIndex(c.NodeID)
	if err != nil {
		return err
	}
	bucket, err := r.rt.GetBucket(ctx, idx)
	if err != nil {
		return err
	}

	return bucket.WithLock(func() error {
		if err := bucket.Load(ctx); err != nil {
			return err
		}
		if err := bucket.Remove(c.NodeID); err != nil {
			if err == routing.ErrNotPresent {
				return nil
			}
			return err
		}
		if err := bucket.Save(ctx); err != nil {
			return err
		}
		r.emit(DropEvent{Contact: c})
		return nil
	})
}
