package router

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/kadroute/kadroute/configuration"
	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/routing"
	"github.com/kadroute/kadroute/internal/storage"
	"github.com/kadroute/kadroute/internal/transport"
)

// fakeTransport dispatches Send calls to a per-peer handler registered with
// on, so scenario tests can script exactly how each peer answers without
// standing up real sockets or a Loopback network.
type fakeTransport struct {
	self routing.Contact

	mu       sync.Mutex
	handlers map[kadid.ID]func(context.Context, transport.Message) (transport.Message, error)
}

func newFakeTransport(self routing.Contact) *fakeTransport {
	return &fakeTransport{
		self:     self,
		handlers: make(map[kadid.ID]func(context.Context, transport.Message) (transport.Message, error)),
	}
}

func (f *fakeTransport) on(id kadid.ID, h func(context.Context, transport.Message) (transport.Message, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[id] = h
}

func (f *fakeTransport) Self() routing.Contact { return f.self }

func (f *fakeTransport) NewContact(id kadid.ID, addr string) routing.Contact {
	return routing.Contact{NodeID: id, Address: addr}
}

func (f *fakeTransport) Send(ctx context.Context, contact routing.Contact, msg transport.Message) (transport.Message, error) {
	f.mu.Lock()
	h, ok := f.handlers[contact.NodeID]
	f.mu.Unlock()
	if !ok {
		return transport.Message{}, fmt.Errorf("fakeTransport: no route to %s", contact.NodeID)
	}
	return h(ctx, msg)
}

// idOf builds an identifier that is all zero except for its last byte,
// so XOR distance from the zero identifier is just that byte's value:
// convenient for hand-picking a distance ordering in a test.
func idOf(last byte) kadid.ID {
	var id kadid.ID
	id[len(id)-1] = last
	return id
}

func newTestRouter(t *testing.T, selfLast byte) (*Router, *fakeTransport) {
	t.Helper()
	self := idOf(selfLast)
	cfg := configuration.Default()
	cfg.Alpha = 1
	cfg.KBucketK = 20

	rt := routing.New(self, cfg.KBucketK, cfg.IDBits, storage.NewMemory())
	selfContact := routing.Contact{NodeID: self, Address: fmt.Sprintf("node-%d", selfLast)}
	ft := newFakeTransport(selfContact)
	r := New(rt, ft, nil, cfg)
	return r, ft
}

func staticFindNodeHandler(from routing.Contact, nodes []routing.Contact) func(context.Context, transport.Message) (transport.Message, error) {
	return func(ctx context.Context, msg transport.Message) (transport.Message, error) {
		return transport.Message{Type: transport.FindNode, From: from, Nodes: nodes}, nil
	}
}

func failingHandler() func(context.Context, transport.Message) (transport.Message, error) {
	return func(ctx context.Context, msg transport.Message) (transport.Message, error) {
		return transport.Message{}, fmt.Errorf("peer unreachable")
	}
}
