package router

import (
	"context"
	"sort"
	"sync"

	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/routing"
	"github.com/kadroute/kadroute/internal/transport"
)

// Lookup runs the iterative FIND_NODE or FIND_VALUE algorithm for key,
// hashing it into identifier space first. See LookupID for a variant that
// targets an identifier directly, used by bucket refresh.
func (r *Router) Lookup(ctx context.Context, kind Kind, key string) (Result, error) {
	return r.lookup(ctx, kind, kadid.CreateID([]byte(key)), key)
}

// LookupID runs a NODE lookup against an identifier that is already a
// point in ID space, rather than a key to be hashed. Bucket refresh uses
// this to converge on a random target inside a specific bucket range.
func (r *Router) LookupID(ctx context.Context, target kadid.ID) (Result, error) {
	return r.lookup(ctx, NODE, target, "")
}

// lookupState accumulates the mutable, single-lookup-scoped bookkeeping the
// algorithm needs: the shortlist (kept sorted by distance, so its head is
// always the current closest candidate), which peers have been contacted,
// and, for VALUE lookups, which peers were queried but didn't hold the
// value (for the caching tail).
type lookupState struct {
	hashedKey kadid.ID

	shortlist []routing.Contact
	contacted map[kadid.ID]struct{}

	foundValue           bool
	value                []byte
	item                 *transport.Item
	contactsWithoutValue []routing.Contact
}

func newLookupState(hashedKey kadid.ID, initial []routing.Contact) *lookupState {
	st := &lookupState{
		hashedKey: hashedKey,
		shortlist: append([]routing.Contact{}, initial...),
		contacted: make(map[kadid.ID]struct{}),
	}
	st.sortShortlist()
	return st
}

// closest returns the currently closest-known candidate's identifier. The
// shortlist is always kept sorted, so this is just its head.
func (st *lookupState) closest() (kadid.ID, bool) {
	if len(st.shortlist) == 0 {
		return kadid.ID{}, false
	}
	return st.shortlist[0].NodeID, true
}

func (st *lookupState) sortShortlist() {
	sort.Slice(st.shortlist, func(i, j int) bool {
		di := kadid.Distance(st.hashedKey, st.shortlist[i].NodeID)
		dj := kadid.Distance(st.hashedKey, st.shortlist[j].NodeID)
		return kadid.Compare(di, dj) < 0
	})
}

// nextBatch returns up to n shortlist entries not yet contacted, closest
// first.
func (st *lookupState) nextBatch(n int) []routing.Contact {
	batch := make([]routing.Contact, 0, n)
	for _, c := range st.shortlist {
		if len(batch) >= n {
			break
		}
		if _, done := st.contacted[c.NodeID]; done {
			continue
		}
		batch = append(batch, c)
	}
	return batch
}

// merge folds newly-learned contacts into the shortlist, deduplicating by
// NodeID and never re-adding the local node itself, then re-sorts.
func (st *lookupState) merge(self kadid.ID, found []routing.Contact) {
	known := make(map[kadid.ID]struct{}, len(st.shortlist))
	for _, c := range st.shortlist {
		known[c.NodeID] = struct{}{}
	}
	changed := false
	for _, c := range found {
		if c.NodeID == self {
			continue
		}
		if _, ok := known[c.NodeID]; ok {
			continue
		}
		known[c.NodeID] = struct{}{}
		st.shortlist = append(st.shortlist, c)
		changed = true
	}
	if changed {
		st.sortShortlist()
	}
}

// drop removes a contact that failed to answer from the shortlist so it is
// never picked into a future batch.
func (st *lookupState) drop(nodeID kadid.ID) {
	for i, c := range st.shortlist {
		if c.NodeID == nodeID {
			st.shortlist = append(st.shortlist[:i], st.shortlist[i+1:]...)
			return
		}
	}
}

// lookup is the core iterative algorithm shared by Lookup and LookupID.
// key is the original, unhashed key string, needed only for the STORE tail
// of a successful VALUE lookup and for Validator.Validate; NODE lookups
// pass "".
func (r *Router) lookup(ctx context.Context, kind Kind, hashedKey kadid.ID, key string) (Result, error) {
	self := r.rt.Self()
	initial, err := r.rt.GetNearestContacts(ctx, hashedKey, r.cfg.Alpha, self)
	if err != nil {
		return Result{}, err
	}
	if len(initial) == 0 {
		return Result{}, ErrNotConnected
	}

	st := newLookupState(hashedKey, initial)

	for {
		batch := st.nextBatch(r.cfg.Alpha)
		if len(batch) == 0 {
			return r.terminate(st), nil
		}

		previousClosest, _ := st.closest()
		succeeded, err := r.runBatch(ctx, kind, key, st, batch)
		if err != nil {
			return Result{}, err
		}
		if succeeded == 0 {
			return Result{}, ErrLookupFailed
		}
		if st.foundValue {
			r.storeAtClosestWithoutValue(ctx, st)
			return Result{Kind: VALUE, Value: st.value}, nil
		}

		newClosest, ok := st.closest()
		noProgress := ok && newClosest == previousClosest
		if !ok || noProgress || len(st.shortlist) >= r.rt.K() {
			return r.terminate(st), nil
		}
	}
}

// terminate ends a lookup that found no value, NODE or VALUE alike, with a
// NODE result holding up to K shortlist entries, closest first.
func (r *Router) terminate(st *lookupState) Result {
	k := r.rt.K()
	if len(st.shortlist) > k {
		st.shortlist = st.shortlist[:k]
	}
	return Result{Kind: NODE, Contacts: append([]routing.Contact{}, st.shortlist...)}
}

type batchOutcome struct {
	contact routing.Contact
	resp    transport.Message
	err     error
}

// runBatch fires one RPC per contact in batch concurrently, then folds the
// responses into st in completion order (so "first validated item wins"
// for VALUE lookups reflects real arrival order, not slice position).
func (r *Router) runBatch(ctx context.Context, kind Kind, key string, st *lookupState, batch []routing.Contact) (int, error) {
	results := make(chan batchOutcome, len(batch))
	var wg sync.WaitGroup
	for _, c := range batch {
		wg.Add(1)
		go func(c routing.Contact) {
			defer wg.Done()
			rpcCtx, cancel := context.WithTimeout(ctx, r.cfg.RPCTimeout)
			defer cancel()
			resp, err := r.transport.Send(rpcCtx, c, buildRequest(kind, key, st.hashedKey))
			results <- batchOutcome{contact: c, resp: resp, err: err}
		}(c)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	succeeded := 0
	for outcome := range results {
		st.contacted[outcome.contact.NodeID] = struct{}{}

		if outcome.err != nil {
			st.drop(outcome.contact.NodeID)
			_ = r.RemoveContact(ctx, outcome.contact)
			continue
		}

		// A peer claiming to hold the value is validated before it counts as
		// a success: a validation failure is a query failure, evicted the
		// same way a transport error is.
		if kind == VALUE && outcome.resp.Found && outcome.resp.Item != nil && r.validator != nil {
			if err := r.validator.Validate(ctx, key, outcome.resp.Item.Value); err != nil {
				st.drop(outcome.contact.NodeID)
				_ = r.RemoveContact(ctx, outcome.contact)
				continue
			}
		}
		succeeded++

		responder := outcome.resp.From
		if responder.NodeID.IsZero() {
			responder = outcome.contact
		}
		_ = r.UpdateContact(ctx, responder)

		if kind == NODE || !outcome.resp.Found {
			if kind == VALUE {
				st.contactsWithoutValue = append(st.contactsWithoutValue, responder)
			}
			st.merge(r.rt.Self(), outcome.resp.Nodes)
			continue
		}

		// VALUE lookup, peer claims to have it.
		if outcome.resp.Item == nil {
			st.merge(r.rt.Self(), outcome.resp.Nodes)
			continue
		}
		if !st.foundValue {
			st.foundValue = true
			st.value = outcome.resp.Item.Value
			st.item = outcome.resp.Item
		}
	}
	return succeeded, nil
}

func buildRequest(kind Kind, key string, hashedKey kadid.ID) transport.Message {
	if kind == VALUE {
		return transport.Message{Type: transport.FindValue, Key: key}
	}
	return transport.Message{Type: transport.FindNode, Key: hashedKey.String()}
}

// storeAtClosestWithoutValue implements the caching tail of a successful
// VALUE lookup: the closest-to-self peer that was queried but didn't hold
// the value gets a fire-and-forget STORE, so future lookups converge faster.
func (r *Router) storeAtClosestWithoutValue(ctx context.Context, st *lookupState) {
	if st.item == nil || len(st.contactsWithoutValue) == 0 {
		return
	}
	self := r.rt.Self()
	best := st.contactsWithoutValue[0]
	bestDist := kadid.Distance(self, best.NodeID)
	for _, c := range st.contactsWithoutValue[1:] {
		d := kadid.Distance(self, c.NodeID)
		if kadid.Compare(d, bestDist) < 0 {
			best, bestDist = c, d
		}
	}

	item := *st.item
	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), r.cfg.RPCTimeout)
		defer cancel()
		_, _ = r.transport.Send(storeCtx, best, transport.Message{Type: transport.Store, Key: item.Key, Item: &item})
	}()
}
