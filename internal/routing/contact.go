package routing

import (
	"time"

	"github.com/kadroute/kadroute/internal/kadid"
)

// Contact is a peer descriptor. Two contacts are equal iff their NodeID is
// equal; Address is advisory and may change across observations.
type Contact struct {
	NodeID   kadid.ID  `cbor:"node_id"`
	Address  string    `cbor:"address"`
	LastSeen time.Time `cbor:"last_seen"`
}

// Seen stamps LastSeen with the current time. UpdateContact always calls
// this before re-inserting a contact, which is what lands it at the tail
// of its bucket.
func (c *Contact) Seen() {
	c.LastSeen = time.Now()
}

// Equal reports whether two contacts describe the same peer, ignoring
// Address and LastSeen.
func (c Contact) Equal(other Contact) bool {
	return c.NodeID == other.NodeID
}

func (c Contact) String() string {
	return c.NodeID.String() + "@" + c.Address
}
