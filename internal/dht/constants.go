// Package dht wires identity, routing, storage, transport and router into
// the node described by spec.md §4: the RPC handlers a peer answers with
// (§4.6), the store/find_value/bootstrap control surface (§4.8), and the
// background timers that keep the network's replicated state converging
// (§4.5 "timers").
package dht

import "time"

// Constants is an explicit, immutable record of the tunables spec.md's
// glossary and §9 name, passed into New rather than read from package
// globals — every Node's behavior is fully determined by the Constants
// value it was built with.
type Constants struct {
	// K is the bucket capacity / replication factor.
	K int
	// Alpha bounds concurrent RPCs per lookup round.
	Alpha int
	// BID is the bit-width of the ID space (spec.md B_ID).
	BID int
	// BShared is the shared-prefix split budget (spec.md B_SHARED).
	BShared int
	// MaxThreads bounds total concurrent in-flight RPCs across a lookup.
	MaxThreads int
	// RequestTimeout bounds a single RPC's round trip.
	RequestTimeout time.Duration
	// RepublishInterval is how often a node re-announces values it is not
	// the original publisher of.
	RepublishInterval time.Duration
	// OriginatorRepublishInterval is how often the original publisher of a
	// value re-announces it, refreshing its expiration clock.
	OriginatorRepublishInterval time.Duration
	// ExpirationTime is how long an unrefreshed value is kept before it is
	// dropped from local storage.
	ExpirationTime time.Duration
	// BucketRefreshInterval is how often an idle bucket is refreshed with a
	// lookup for a random ID inside its range.
	BucketRefreshInterval time.Duration
	// EvictionLimit is the number of consecutive failed pings against the
	// same least-recently-seen contact at which it is evicted in favor of
	// its queued replacement.
	EvictionLimit int
}

// DefaultConstants returns the production tuning named in spec.md's
// glossary.
func DefaultConstants() Constants {
	return Constants{
		K:                           20,
		Alpha:                       20,
		BID:                         160,
		BShared:                     5,
		MaxThreads:                  20,
		RequestTimeout:              5 * time.Second,
		RepublishInterval:           time.Hour,
		OriginatorRepublishInterval: 24 * time.Hour,
		ExpirationTime:              24 * time.Hour,
		BucketRefreshInterval:       time.Hour,
		EvictionLimit:               5,
	}
}

// DebugConstants lowers Alpha and the timers to values convenient for
// local multi-node tests, matching spec.md's note that Alpha defaults to 3
// outside of production.
func DebugConstants() Constants {
	c := DefaultConstants()
	c.Alpha = 3
	c.RepublishInterval = 2 * time.Second
	c.OriginatorRepublishInterval = 4 * time.Second
	c.ExpirationTime = 10 * time.Second
	c.BucketRefreshInterval = 2 * time.Second
	return c
}
