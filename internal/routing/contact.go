// Package routing implements the Kademlia routing table: k-buckets that
// split as they fill, with the depth and eviction-handoff rules from
// spec.md §4.4/§4.5.
package routing

import (
	"time"

	"github.com/kutluhann/kadnet/internal/id"
)

// Endpoint describes how to reach a peer: scheme/host/port for a real
// transport, or a Subnet tag for the in-process test transport (spec.md
// §9, "subnet protocol variant" — Subnet never leaks past the transport
// layer into routing decisions).
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Subnet string `json:"subnet,omitempty"`
}

// Contact is the (ID, transport endpoint, last-seen) triple of spec.md §3.
type Contact struct {
	ID       id.ID    `json:"id"`
	Endpoint Endpoint `json:"protocol"`
	LastSeen time.Time `json:"-"`
}

// Touch updates LastSeen to now and returns the updated contact (Contact
// is a value type; callers must store the result back where it belongs).
func (c Contact) Touch() Contact {
	c.LastSeen = time.Now()
	return c
}

// Equal reports contact equality by ID alone, per spec.md §4.2.
func (c Contact) Equal(other Contact) bool {
	return c.ID == other.ID
}
