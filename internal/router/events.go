package router

import "github.com/kadroute/kadroute/internal/routing"

// Event is a lifecycle notification the Router emits as UpdateContact and
// RemoveContact reshape the routing table. Consumers read from Events();
// delivery is best-effort, see Router.emit.
type Event interface {
	isEvent()
}

// AddEvent fires when a new contact is inserted into a bucket that had
// spare capacity, or after a stale head is evicted to make room.
type AddEvent struct {
	Contact     routing.Contact
	BucketIndex int
	Position    int
}

// DropEvent fires when a contact is evicted from its bucket, either
// because a head-probe found it unreachable or via explicit RemoveContact.
type DropEvent struct {
	Contact routing.Contact
}

// ShiftEvent fires when an already-known contact is re-observed and moved
// to the tail of its bucket.
type ShiftEvent struct {
	Contact     routing.Contact
	BucketIndex int
	Position    int
}

func (AddEvent) isEvent()   {}
func (DropEvent) isEvent()  {}
func (ShiftEvent) isEvent() {}
