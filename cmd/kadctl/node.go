package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kadroute/kadroute/configuration"
	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/logging"
	"github.com/kadroute/kadroute/internal/router"
	"github.com/kadroute/kadroute/internal/routing"
	"github.com/kadroute/kadroute/internal/transport"
)

// valueRecord is the on-disk shape of an application key/value pair,
// persisted through the same Adapter the routing table uses, under a
// disjoint "value-" key namespace.
type valueRecord struct {
	Value     []byte    `cbor:"value"`
	Publisher kadid.ID  `cbor:"publisher"`
	Timestamp time.Time `cbor:"timestamp"`
}

func valueKey(key string) []byte {
	return []byte("value-" + key)
}

// nodeServer answers inbound RPCs on behalf of a running kadctl node: it
// consults the router's routing table for FIND_NODE/FIND_VALUE and a local
// value namespace on the same Adapter for STORE.
type nodeServer struct {
	self  routing.Contact
	r     *router.Router
	store routing.Adapter
	cfg   configuration.Config
}

func newNodeServer(self routing.Contact, r *router.Router, store routing.Adapter, cfg configuration.Config) *nodeServer {
	return &nodeServer{self: self, r: r, store: store, cfg: cfg}
}

func (s *nodeServer) handle(ctx context.Context, msg transport.Message) transport.Message {
	ctx = logging.WithPrefix(ctx, logging.RouterPrefix)
	switch msg.Type {
	case transport.Ping:
		return transport.Message{Type: transport.Ping, From: s.self}

	case transport.FindNode:
		target, err := kadid.ParseID(msg.Key)
		if err != nil {
			return transport.Message{Type: transport.FindNode, From: s.self}
		}
		contacts, err := s.r.Table().GetNearestContacts(ctx, target, s.cfg.KBucketK, s.self.NodeID)
		if err != nil {
			logging.Logf(ctx, "find_node lookup failed: %v", err)
		}
		return transport.Message{Type: transport.FindNode, From: s.self, Nodes: contacts}

	case transport.FindValue:
		if item, ok := s.getLocal(ctx, msg.Key); ok {
			return transport.Message{Type: transport.FindValue, From: s.self, Found: true, Item: item}
		}
		hashed := kadid.CreateID([]byte(msg.Key))
		contacts, _ := s.r.Table().GetNearestContacts(ctx, hashed, s.cfg.KBucketK, s.self.NodeID)
		return transport.Message{Type: transport.FindValue, From: s.self, Found: false, Nodes: contacts}

	case transport.Store:
		if msg.Item != nil {
			if err := s.putLocal(ctx, msg.Key, msg.Item); err != nil {
				logging.Logf(ctx, "store failed: %v", err)
			}
		}
		return transport.Message{Type: transport.Store, From: s.self}

	default:
		return transport.Message{From: s.self}
	}
}

func (s *nodeServer) getLocal(ctx context.Context, key string) (*transport.Item, bool) {
	raw, err := s.store.Get(ctx, valueKey(key))
	if err != nil {
		return nil, false
	}
	var rec valueRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	if s.cfg.RecordTTL > 0 && time.Since(rec.Timestamp) > s.cfg.RecordTTL {
		return nil, false
	}
	return &transport.Item{Key: key, Value: rec.Value, Publisher: rec.Publisher, Timestamp: rec.Timestamp}, true
}

func (s *nodeServer) putLocal(ctx context.Context, key string, item *transport.Item) error {
	if s.cfg.MaxValueSize > 0 && len(item.Value) > s.cfg.MaxValueSize {
		return fmt.Errorf("value for %q exceeds max size %d", key, s.cfg.MaxValueSize)
	}
	rec := valueRecord{Value: item.Value, Publisher: item.Publisher, Timestamp: item.Timestamp}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, valueKey(key), raw)
}

// bootstrapAgainst pings each seed address to learn its real contact
// (self-declared addresses can't be trusted for identity), records it,
// then runs a self-lookup and refreshes buckets beyond the closest one so
// the table fills in past the seed peers, per usual Kademlia join
// procedure.
func bootstrapAgainst(ctx context.Context, tp transport.Transport, r *router.Router, self routing.Contact, seeds []string) error {
	joined := 0
	for _, addr := range seeds {
		if addr == "" {
			continue
		}
		seed := tp.NewContact(kadid.ID{}, addr)
		resp, err := tp.Send(ctx, seed, transport.Message{Type: transport.Ping})
		if err != nil {
			logging.Logf(logging.WithPrefix(ctx, logging.RouterPrefix), "bootstrap: %s unreachable: %v", addr, err)
			continue
		}
		if err := r.UpdateContact(ctx, resp.From); err != nil {
			return err
		}
		joined++
	}
	if joined == 0 {
		return fmt.Errorf("bootstrap: no reachable seed peers")
	}

	if _, err := r.LookupID(ctx, self.NodeID); err != nil && err != router.ErrLookupFailed {
		return err
	}
	return r.RefreshBucketsBeyondClosest(ctx)
}
