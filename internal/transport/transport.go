// Package transport defines the RPC contract the router core talks to
// (PING/STORE/FIND_NODE/FIND_VALUE) and ships two implementations: TCP, a
// connection-per-RPC transport that frames each request and response with
// CBOR's own self-delimiting stream encoding, and an in-process Loopback
// used by tests and single-binary demos.
package transport

import (
	"context"
	"time"

	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/routing"
)

// RPCType names one of the four RPCs the core assumes.
type RPCType string

const (
	Ping      RPCType = "PING"
	Store     RPCType = "STORE"
	FindNode  RPCType = "FIND_NODE"
	FindValue RPCType = "FIND_VALUE"
)

// Item is a stored record as carried in a FIND_VALUE response or a STORE
// request.
type Item struct {
	Key       string    `cbor:"key"`
	Value     []byte    `cbor:"value"`
	Publisher kadid.ID  `cbor:"publisher"`
	Timestamp time.Time `cbor:"timestamp"`
}

// Message is the wire-agnostic RPC envelope the core exchanges with peers.
type Message struct {
	Type  RPCType           `cbor:"type"`
	From  routing.Contact   `cbor:"from"`
	Key   string            `cbor:"key,omitempty"`
	Item  *Item             `cbor:"item,omitempty"`
	Nodes []routing.Contact `cbor:"nodes,omitempty"`
	Found bool              `cbor:"found,omitempty"`
}

// Transport is the external collaborator the router core talks RPCs
// through. Wire encoding, sockets, and timeouts are the transport's
// concern, not the core's.
type Transport interface {
	// Send issues an RPC to contact and blocks for its response.
	Send(ctx context.Context, contact routing.Contact, msg Message) (Message, error)
	// Self returns this transport's own contact descriptor.
	Self() routing.Contact
	// NewContact builds a full, addressable Contact for a peer identifier
	// and address, so deserialized peer descriptors get the transport's
	// full capability set.
	NewContact(id kadid.ID, addr string) routing.Contact
}
