package routing

import (
	"math/big"
	"sync"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/kaderr"
)

// K is the maximum number of contacts a bucket may hold (spec.md glossary).
const K = 20

// KBucket is a leaf of the routing table: a contiguous ID range holding up
// to K contacts in insertion order (spec.md §3/§4.4).
type KBucket struct {
	mu        sync.RWMutex
	low, high id.ID
	contacts  []Contact
	timeStamp time.Time
}

// NewKBucket returns an empty bucket covering [low, high].
func NewKBucket(low, high id.ID) *KBucket {
	return &KBucket{low: low, high: high, timeStamp: time.Now()}
}

// Range returns the bucket's inclusive [low, high] bounds.
func (b *KBucket) Range() (low, high id.ID) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.low, b.high
}

// Len returns the number of contacts currently held.
func (b *KBucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contacts)
}

// IsFull reports whether the bucket holds K contacts.
func (b *KBucket) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contacts) >= K
}

// IsInRange reports whether id falls within [low, high].
func (b *KBucket) IsInRange(candidate id.ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isInRangeLocked(candidate)
}

func (b *KBucket) isInRangeLocked(candidate id.ID) bool {
	return b.low.LessOrEqual(candidate) && candidate.LessOrEqual(b.high)
}

// Contains reports whether a contact with the given ID is present.
func (b *KBucket) Contains(target id.ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.contacts {
		if c.ID == target {
			return true
		}
	}
	return false
}

// Contacts returns a snapshot copy of the bucket's contacts in insertion
// order.
func (b *KBucket) Contacts() []Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}

// LeastRecentlySeen returns the contact with the smallest LastSeen, or
// false if the bucket is empty.
func (b *KBucket) LeastRecentlySeen() (Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.contacts) == 0 {
		return Contact{}, false
	}
	oldest := b.contacts[0]
	for _, c := range b.contacts[1:] {
		if c.LastSeen.Before(oldest.LastSeen) {
			oldest = c
		}
	}
	return oldest, true
}

// Add appends contact if it isn't already present and there is room.
// Returns ErrBucketFull / ErrOutOfRange per spec.md §4.4; a duplicate ID
// is a no-op, not an error.
func (b *KBucket) Add(c Contact) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isInRangeLocked(c.ID) {
		return kaderr.ErrOutOfRange
	}
	for _, existing := range b.contacts {
		if existing.ID == c.ID {
			return nil
		}
	}
	if len(b.contacts) >= K {
		return kaderr.ErrBucketFull
	}
	b.contacts = append(b.contacts, c)
	return nil
}

// Replace updates the existing entry for c.ID in place and touches it.
// Returns ErrNotPresent if c.ID is not currently held.
func (b *KBucket) Replace(c Contact) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.contacts {
		if existing.ID == c.ID {
			c.LastSeen = time.Now()
			b.contacts[i] = c
			return nil
		}
	}
	return kaderr.ErrNotPresent
}

// Evict removes the contact with the given ID. Returns ErrNotPresent if
// absent.
func (b *KBucket) Evict(target id.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.contacts {
		if existing.ID == target {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			return nil
		}
	}
	return kaderr.ErrNotPresent
}

// Depth returns the length of the longest common binary prefix shared by
// every contact's ID, or 0 for an empty bucket (spec.md §4.4).
func (b *KBucket) Depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.contacts) == 0 {
		return 0
	}

	prefix := id.Bits
	first := b.contacts[0].ID
	for _, c := range b.contacts[1:] {
		if p := first.CommonPrefixLen(c.ID); p < prefix {
			prefix = p
		}
	}
	return prefix
}

// Touch refreshes the bucket's activity timestamp — called whenever a
// contact inside its range is successfully added or replaced.
func (b *KBucket) Touch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeStamp = time.Now()
}

// TimeStamp returns the bucket's last-activity time.
func (b *KBucket) TimeStamp() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timeStamp
}

// Split partitions the bucket into two halves at mid = (low+high+1)/2, the
// first ID of the upper half (2^159 for the full ID space):
// [low, mid) goes to the lower half, [mid, high] to the upper half,
// preserving insertion order within each (spec.md §4.4).
func (b *KBucket) Split() (lower, upper *KBucket) {
	b.mu.RLock()
	low, high := b.low, b.high
	contacts := make([]Contact, len(b.contacts))
	copy(contacts, b.contacts)
	b.mu.RUnlock()

	mid := midpoint(low, high)

	lower = NewKBucket(low, prevID(mid))
	upper = NewKBucket(mid, high)

	for _, c := range contacts {
		if c.ID.Less(mid) {
			lower.contacts = append(lower.contacts, c)
		} else {
			upper.contacts = append(upper.contacts, c)
		}
	}
	return lower, upper
}

// midpoint returns (low+high+1)/2 — the split point of the inclusive range
// [low, high] — using big-integer arithmetic so the addition cannot
// overflow a fixed-width ID.
func midpoint(low, high id.ID) id.ID {
	sum := new(big.Int).Add(low.BigInt(), high.BigInt())
	sum.Add(sum, big.NewInt(1))
	sum.Rsh(sum, 1)
	return id.FromBigInt(sum)
}

// prevID returns v-1, saturating at the zero ID. Used so the lower half of
// a split is an inclusive range ending just below mid.
func prevID(v id.ID) id.ID {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] != 0 {
			v[i]--
			return v
		}
		v[i] = 0xff
	}
	return v
}
