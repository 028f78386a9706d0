// Package router implements the iterative FIND_NODE/FIND_VALUE lookup core
// and the liveness-probing bucket maintenance policy on top of a
// routing.RoutingTable and a transport.Transport. It is the only component
// that talks to the RPC transport; routing and storage never do.
package router

import (
	"context"

	"github.com/kadroute/kadroute/configuration"
	"github.com/kadroute/kadroute/internal/logging"
	"github.com/kadroute/kadroute/internal/routing"
	"github.com/kadroute/kadroute/internal/transport"
)

// Kind selects which RPC an iterative lookup drives: FIND_NODE walks the
// network to converge on the K closest contacts to a target identifier;
// FIND_VALUE additionally stops after the first batch in which any peer
// returns a valid stored item.
type Kind string

const (
	NODE  Kind = "NODE"
	VALUE Kind = "VALUE"
)

// Result is what a completed Lookup produces. For NODE lookups Contacts
// holds up to K peers, closest first. For VALUE lookups either Value is
// populated (found, Kind VALUE) or, with Kind NODE, Contacts holds the
// closest peers reached without anyone holding the key.
type Result struct {
	Kind     Kind
	Contacts []routing.Contact
	Value    []byte
}

// Validator lets the embedding application reject values a peer returns
// from FIND_VALUE before they're accepted and cached locally, e.g. by
// checking a signature carried alongside the value under a convention the
// router itself has no opinion on.
type Validator interface {
	Validate(ctx context.Context, key string, value []byte) error
}

// Router ties a routing table to a transport and drives both the
// iterative lookup algorithm and the bucket eviction policy that keeps the
// table populated with live peers.
type Router struct {
	rt        *routing.RoutingTable
	transport transport.Transport
	validator Validator
	cfg       configuration.Config

	events chan Event
}

// New constructs a Router. validator may be nil, in which case FIND_VALUE
// results are accepted unconditionally.
func New(rt *routing.RoutingTable, tp transport.Transport, validator Validator, cfg configuration.Config) *Router {
	return &Router{
		rt:        rt,
		transport: tp,
		validator: validator,
		cfg:       cfg,
		events:    make(chan Event, 256),
	}
}

// Events exposes the Router's lifecycle notification stream. The channel
// is never closed by the Router.
func (r *Router) Events() <-chan Event { return r.events }

// emit is a non-blocking send: a consumer that isn't draining Events()
// never stalls routing-table maintenance. Events are diagnostics, not a
// durable log.
func (r *Router) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		logging.Logf(context.Background(), "event dropped, consumer not keeping up: %T", ev)
	}
}

// Table exposes the underlying routing table, e.g. for CLI inspection
// commands that list buckets directly.
func (r *Router) Table() *routing.RoutingTable { return r.rt }

// Transport exposes the underlying RPC transport, for callers that need to
// address a peer a lookup just surfaced without waiting for it to be
// absorbed into the local routing table (e.g. replicating a STORE to the
// closest contacts a lookup returned).
func (r *Router) Transport() transport.Transport { return r.transport }
