package routing

import "errors"

var (
	// ErrFull is returned by Bucket.Add when the bucket already holds K
	// contacts. UpdateContact interprets it and never surfaces it further.
	ErrFull = errors.New("routing: bucket is full")
	// ErrDuplicate is returned by Bucket.Add when the contact's NodeID is
	// already present.
	ErrDuplicate = errors.New("routing: contact already present")
	// ErrNotPresent is returned by Bucket.Remove and RoutingTable.GetContact
	// when the requested NodeID is absent.
	ErrNotPresent = errors.New("routing: contact not present")
	// ErrOutOfRange is returned by Bucket.Get when pos >= the bucket's size.
	ErrOutOfRange = errors.New("routing: position out of range")
	// ErrInvalidIndex is returned when a bucket index falls outside [0, B).
	ErrInvalidIndex = errors.New("routing: bucket index out of range")
)
