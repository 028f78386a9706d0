package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/logging"
	"github.com/kadroute/kadroute/internal/routing"
)

// TCP is a length-agnostic, CBOR-framed request/response Transport over
// plain TCP. Each connection carries exactly one request and one response;
// the wire encoding is CBOR's own self-delimiting stream framing rather
// than an explicit length prefix.
type TCP struct {
	self    routing.Contact
	timeout time.Duration

	ln      net.Listener
	closing atomic.Bool
	handler Handler
}

// NewTCP constructs a TCP transport identified by self, with rpcTimeout
// applied to both outbound dials and inbound reads.
func NewTCP(self routing.Contact, rpcTimeout time.Duration) *TCP {
	return &TCP{self: self, timeout: rpcTimeout}
}

func (t *TCP) Self() routing.Contact { return t.self }

func (t *TCP) NewContact(id kadid.ID, addr string) routing.Contact {
	return routing.Contact{NodeID: id, Address: addr}
}

// SetHandler installs the callback used to answer inbound RPCs once
// ListenAndServe is running.
func (t *TCP) SetHandler(h Handler) { t.handler = h }

// Send dials contact.Address, writes msg, and blocks for the response.
func (t *TCP) Send(ctx context.Context, contact routing.Contact, msg Message) (Message, error) {
	ctx = logging.WithPrefix(ctx, logging.TransportPrefix)

	var zero Message
	deadline := t.timeout
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < deadline {
			deadline = until
		}
	}

	conn, err := net.DialTimeout("tcp", contact.Address, deadline)
	if err != nil {
		return zero, fmt.Errorf("transport: dial %s: %w", contact.Address, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(deadline))

	msg.From = t.self
	enc := cbor.NewEncoder(conn)
	if err := enc.Encode(msg); err != nil {
		return zero, fmt.Errorf("transport: encode request: %w", err)
	}

	logging.Logf(ctx, "-> %s to %s key=%s", msg.Type, contact.Address, msg.Key)
	dec := cbor.NewDecoder(bufio.NewReader(conn))
	if err := dec.Decode(&zero); err != nil {
		return zero, fmt.Errorf("transport: decode response: %w", err)
	}
	logging.Logf(ctx, "<- %s from %s found=%v nodes=%d", zero.Type, zero.From.Address, zero.Found, len(zero.Nodes))
	return zero, nil
}

// ListenAndServe accepts connections until ctx is cancelled, dispatching
// each to handler.
func (t *TCP) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.self.Address)
	if err != nil {
		return err
	}
	t.ln = ln
	go func() {
		<-ctx.Done()
		t.closing.Store(true)
		_ = t.ln.Close()
	}()

	logging.Logf(ctx, "listening on %s", t.self.Address)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if t.closing.Load() {
				return nil
			}
			return err
		}
		go t.handleConn(ctx, conn)
	}
}

func (t *TCP) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(t.timeout))

	var msg Message
	dec := cbor.NewDecoder(bufio.NewReader(conn))
	if err := dec.Decode(&msg); err != nil {
		return
	}

	if t.handler == nil {
		return
	}
	resp := t.handler(ctx, msg)
	resp.From = t.self
	enc := cbor.NewEncoder(conn)
	_ = enc.Encode(resp)
}
