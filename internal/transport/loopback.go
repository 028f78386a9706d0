package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/routing"
)

// Handler processes an inbound RPC and returns the response to send back.
type Handler func(ctx context.Context, msg Message) Message

// LoopbackNetwork is a shared, in-process address book that Loopback
// transports dial into. It lets tests and single-binary demos wire up a
// cluster of nodes without socket overhead.
type LoopbackNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*Loopback
}

// NewLoopbackNetwork constructs an empty shared address book.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{nodes: make(map[string]*Loopback)}
}

// NewTransport registers a Loopback transport for self on this network.
func (n *LoopbackNetwork) NewTransport(self routing.Contact) *Loopback {
	lb := &Loopback{self: self, network: n}
	n.mu.Lock()
	n.nodes[self.Address] = lb
	n.mu.Unlock()
	return lb
}

// Loopback is an in-process Transport implementation: Send looks the peer
// up by address in the shared LoopbackNetwork and invokes its Handler
// directly, honoring ctx cancellation.
type Loopback struct {
	self    routing.Contact
	network *LoopbackNetwork

	mu      sync.RWMutex
	handler Handler
}

// SetHandler installs the callback used to answer inbound RPCs.
func (l *Loopback) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Loopback) Self() routing.Contact { return l.self }

func (l *Loopback) NewContact(id kadid.ID, addr string) routing.Contact {
	return routing.Contact{NodeID: id, Address: addr}
}

func (l *Loopback) Send(ctx context.Context, contact routing.Contact, msg Message) (Message, error) {
	l.network.mu.RLock()
	peer, ok := l.network.nodes[contact.Address]
	l.network.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("transport: no route to %s", contact.Address)
	}

	peer.mu.RLock()
	h := peer.handler
	peer.mu.RUnlock()
	if h == nil {
		return Message{}, fmt.Errorf("transport: peer %s has no handler installed", contact.Address)
	}

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	default:
	}

	msg.From = l.self
	return h(ctx, msg), nil
}
