package routing

import (
	"sort"
	"sync"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/kaderr"
)

// BSharedPrefix is B_SHARED in spec.md §4.5/§9: the shared-prefix budget
// that gates an otherwise-unsplittable bucket split.
const BSharedPrefix = 5

// EvictionHandler is the DHT-side collaborator BucketList calls into when a
// full, unsplittable bucket needs to make room (spec.md §4.5 step 6). It is
// an interface, not a concrete *dht.DHT reference, precisely so routing
// never imports dht (spec.md §9, "cyclic references").
type EvictionHandler interface {
	// Ping synchronously pings a contact and reports whether it answered.
	Ping(c Contact) error
	// DelayEviction records a failed ping against victim and offers
	// replacement as its prospective successor.
	DelayEviction(victim, replacement Contact)
	// EnqueuePending records that victim answered its ping and queues
	// replacement as its prospective successor if victim is evicted later.
	EnqueuePending(victim, replacement Contact)
}

// BucketList is the routing table: an ordered sequence of KBuckets whose
// ranges partition [0, 2^160) contiguously, growing only by splitting
// (spec.md §3/§4.5).
type BucketList struct {
	mu      sync.RWMutex
	ourID   id.ID
	buckets []*KBucket
	handler EvictionHandler
}

// NewBucketList returns a BucketList starting as a single bucket spanning
// the whole ID space, owned by ourID.
func NewBucketList(ourID id.ID, handler EvictionHandler) *BucketList {
	return &BucketList{
		ourID:   ourID,
		buckets: []*KBucket{NewKBucket(id.Zero, id.Max)},
		handler: handler,
	}
}

// SetHandler wires the DHT-side eviction collaborator after construction,
// for callers that build the BucketList before the DHT exists.
func (bl *BucketList) SetHandler(h EvictionHandler) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.handler = h
}

// Buckets returns a snapshot of the current bucket list, in range order.
func (bl *BucketList) Buckets() []*KBucket {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	out := make([]*KBucket, len(bl.buckets))
	copy(out, bl.buckets)
	return out
}

// BucketFor returns the unique bucket covering target and its index.
func (bl *BucketList) BucketFor(target id.ID) (*KBucket, int) {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return bl.bucketForLocked(target)
}

func (bl *BucketList) bucketForLocked(target id.ID) (*KBucket, int) {
	// Binary search over sorted, non-overlapping ranges.
	lo, hi := 0, len(bl.buckets)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		b := bl.buckets[mid]
		low, high := b.Range()
		switch {
		case target.Less(low):
			hi = mid - 1
		case high.Less(target):
			lo = mid + 1
		default:
			return b, mid
		}
	}
	// Total by invariant; fall back to the last bucket defensively.
	return bl.buckets[len(bl.buckets)-1], len(bl.buckets) - 1
}

// CanSplit implements spec.md §4.5's splitting rule: a bucket may split if
// it covers our own ID, or if its depth hasn't yet exhausted the shared-
// prefix budget B_SHARED.
func (bl *BucketList) CanSplit(b *KBucket) bool {
	if b.IsInRange(bl.ourID) {
		return true
	}
	return b.Depth()%BSharedPrefix != 0
}

// AddContact implements the full spec.md §4.5 add_contact algorithm.
func (bl *BucketList) AddContact(c Contact) error {
	if c.ID == bl.ourID {
		return kaderr.ErrSelfContact
	}
	return bl.addContact(c.Touch())
}

func (bl *BucketList) addContact(c Contact) error {
	bucket, idx := bl.BucketFor(c.ID)

	if bucket.Contains(c.ID) {
		err := bucket.Replace(c)
		if err == nil {
			bucket.Touch()
		}
		return err
	}

	if !bucket.IsFull() {
		err := bucket.Add(c)
		if err == nil {
			bucket.Touch()
		}
		return err
	}

	if bl.CanSplit(bucket) {
		lower, upper := bucket.Split()
		if bl.replaceWithSplit(idx, bucket, lower, upper) {
			return bl.addContact(c)
		}
		// Another goroutine already split this bucket; retry the lookup
		// from scratch rather than mutate stale state.
		return bl.addContact(c)
	}

	// Full and unsplittable: ping the least-recently-seen contact and hand
	// the outcome to the DHT's delayed-eviction/pending machinery. Per
	// spec.md §5, the bucket-list mutex is never held across this RPC.
	victim, ok := bucket.LeastRecentlySeen()
	if !ok || bl.handler == nil {
		return nil
	}

	if err := bl.handler.Ping(victim); err != nil {
		bl.handler.DelayEviction(victim, c)
	} else {
		bl.handler.EnqueuePending(victim, c)
	}
	return nil
}

// replaceWithSplit atomically swaps the bucket at idx for its two split
// halves, provided the slot still holds the same bucket we split (guards
// against a concurrent split of the same bucket). Readers observe either
// the old bucket or both new halves, never a partial state (spec.md §5).
func (bl *BucketList) replaceWithSplit(idx int, original, lower, upper *KBucket) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	if idx < 0 || idx >= len(bl.buckets) || bl.buckets[idx] != original {
		return false
	}

	next := make([]*KBucket, 0, len(bl.buckets)+1)
	next = append(next, bl.buckets[:idx]...)
	next = append(next, lower, upper)
	next = append(next, bl.buckets[idx+1:]...)
	bl.buckets = next
	return true
}

// ClosestK returns the K contacts across the whole table closest to key by
// XOR distance, excluding the given ID, sorted ascending (spec.md §4.5).
func (bl *BucketList) ClosestK(key id.ID, exclude id.ID) []Contact {
	return bl.ClosestN(key, exclude, K)
}

// ClosestN is ClosestK generalised to an arbitrary count, used by the
// router's local seeding step.
func (bl *BucketList) ClosestN(key id.ID, exclude id.ID, n int) []Contact {
	all := bl.allContacts()

	filtered := all[:0]
	for _, c := range all {
		if c.ID != exclude {
			filtered = append(filtered, c)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		return id.Xor(filtered[i].ID, key).Less(id.Xor(filtered[j].ID, key))
	})

	if len(filtered) > n {
		filtered = filtered[:n]
	}
	return filtered
}

func (bl *BucketList) allContacts() []Contact {
	bl.mu.RLock()
	buckets := make([]*KBucket, len(bl.buckets))
	copy(buckets, bl.buckets)
	bl.mu.RUnlock()

	var all []Contact
	for _, b := range buckets {
		all = append(all, b.Contacts()...)
	}
	return all
}

// AllContacts returns every contact held across every bucket, in no
// particular order. Used by the opportunistic-cache TTL calculation
// (spec.md §4.8/§9), which measures depth over the whole bucket list
// sorted by ID.
func (bl *BucketList) AllContacts() []Contact {
	return bl.allContacts()
}

// TotalContacts returns the number of contacts held across every bucket.
func (bl *BucketList) TotalContacts() int {
	count := 0
	for _, b := range bl.Buckets() {
		count += b.Len()
	}
	return count
}

// OurID returns the local node's ID.
func (bl *BucketList) OurID() id.ID { return bl.ourID }
