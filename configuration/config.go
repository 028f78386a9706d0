// Package configuration holds the tunables for identifier width, routing
// table capacity, and lookup concurrency, plus the on-disk node config used
// by the CLI demo.
package configuration

import "time"

// Config carries the routing/lookup tunables shared by RoutingTable and
// Router.
type Config struct {
	// IDBits is B, the identifier width in bits (and thus the number of
	// possible bucket indices).
	IDBits int
	// KBucketK is K, the maximum number of contacts per bucket.
	KBucketK int
	// Alpha is the lookup concurrency parameter.
	Alpha int
	// Replicas is the number of closest peers a successful Store replicates to.
	Replicas int

	RPCTimeout        time.Duration
	RecordTTL         time.Duration
	RepublishInterval time.Duration
	BucketRefresh     time.Duration
	RevalidateInterval time.Duration
	GCInterval        time.Duration

	// FailureThreshold is a cumulative failure weight for contacts. No code
	// in this repository reads it; contacts are evicted only by the
	// head-probe path and by failed lookup queries.
	FailureThreshold int
	// MaxValueSize bounds STORE payloads accepted over the wire.
	MaxValueSize int
}

// Default returns the tunables this repository ships with: a 256-bit
// identifier space (matching kadid's BLAKE3-256 digests), K=20, ALPHA=3.
func Default() Config {
	return Config{
		IDBits:             256,
		KBucketK:           20,
		Alpha:              3,
		Replicas:           3,
		RPCTimeout:         3 * time.Second,
		RecordTTL:          24 * time.Hour,
		RepublishInterval:  time.Hour,
		BucketRefresh:      time.Hour,
		RevalidateInterval: 15 * time.Minute,
		GCInterval:         10 * time.Minute,
		FailureThreshold:   5,
		MaxValueSize:       1 << 20,
	}
}
