package router

import "errors"

var (
	// ErrNotConnected is returned by Lookup when the routing table has no
	// contact at all to seed the shortlist with.
	ErrNotConnected = errors.New("router: not connected to any peer")
	// ErrLookupFailed is returned when an in-flight batch of queries fails
	// end to end: every contact in the batch either errored or timed out.
	ErrLookupFailed = errors.New("router: lookup failed, no reachable peers")
)
