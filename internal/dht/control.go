package dht

import (
	"context"
	"sort"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/router"
	"github.com/kutluhann/kadnet/internal/routing"
)

// Store implements spec.md §4.8's store operation: look up the K nodes
// closest to key, then issue a STORE RPC against each of them. The calling
// node is recorded as the originator, so the republish timer later
// refreshes this value's expiration on its behalf.
func (n *Node) Store(ctx context.Context, key id.ID, value []byte) (int, error) {
	n.markOriginator(key)
	if err := n.store.Set(key, value, n.constants.ExpirationTime); err != nil {
		return 0, n.errorf("local store: %w", err)
	}

	targets, err := n.lookupNodes(ctx, key)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, target := range targets {
		if target.ID == n.self.ID {
			stored++
			continue
		}
		callCtx, cancel := n.callTimeout(ctx)
		err := n.net.StoreRPC(callCtx, target, n.self, key, value, false, n.constants.ExpirationTime)
		cancel()
		if err != nil {
			n.log.WithError(err).WithField("target", target.ID).Debug("dht: store rpc failed")
			continue
		}
		stored++
	}
	return stored, nil
}

// FindValue implements spec.md §4.8's find_value operation: check
// originator, then republish (both share n.store), then cache store,
// otherwise run an iterative FIND_VALUE lookup. On success through the
// network, the value is cached at the closest responder that did not
// already hold it (spec.md §4.8 "caching at the closest gap"), with a TTL
// that halves per bucket-list contact strictly between us and that
// responder.
func (n *Node) FindValue(ctx context.Context, key id.ID) ([]byte, bool, error) {
	if value, err := n.store.Get(key); err == nil {
		return value, true, nil
	}
	if value, err := n.cacheStore.Get(key); err == nil {
		return value, true, nil
	}

	seed := n.routingTable.ClosestN(key, n.self.ID, n.constants.K)
	result, err := n.lookup.Lookup(ctx, router.ModeFindValue, key, n.self, seed)
	if err != nil {
		return nil, false, n.errorf("find_value lookup: %w", err)
	}
	if !result.Found {
		return nil, false, nil
	}

	n.cacheAt(ctx, result, key)
	return result.Value, true, nil
}

// cacheAt implements spec.md §4.8's opportunistic caching: among the
// contacts the lookup heard back from, pick the closest one that is not
// the responder who actually held the value (result.FoundBy never already
// lacked it) and not ourselves, and STORE a cached copy there with TTL
// EXPIRATION_TIME_SEC / 2^d, d being the count of bucket-list contacts
// strictly between us and that target (spec.md §9, measured over the
// whole bucket list sorted by ID).
func (n *Node) cacheAt(ctx context.Context, result router.Result, key id.ID) {
	var target routing.Contact
	found := false
	for _, c := range result.Contacts {
		if c.ID == n.self.ID || c.ID == result.FoundBy.ID {
			continue
		}
		target = c
		found = true
		break
	}
	if !found {
		return
	}

	ttl := n.constants.ExpirationTime >> uint(cacheDepthShift(n.cacheDepth(target.ID)))
	callCtx, cancel := n.callTimeout(ctx)
	defer cancel()
	if err := n.net.StoreRPC(callCtx, target, n.self, key, result.Value, true, ttl); err != nil {
		n.log.WithError(err).WithField("target", target.ID).Debug("dht: cache store failed")
	}
}

// cacheDepth counts the bucket-list contacts whose ID falls strictly
// between our own ID and responder's ID, sorted by ID across the whole
// bucket list (spec.md §9's preserved reading of the source's `d`).
func (n *Node) cacheDepth(responder id.ID) int {
	contacts := n.routingTable.AllContacts()
	ids := make([]id.ID, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	lo, hi := n.self.ID, responder
	if hi.Less(lo) {
		lo, hi = hi, lo
	}
	count := 0
	for _, cid := range ids {
		if lo.Less(cid) && cid.Less(hi) {
			count++
		}
	}
	return count
}

// cacheDepthShift caps d so EXPIRATION_TIME_SEC >> d never overflows or
// silently wraps for pathologically large bucket lists.
func cacheDepthShift(d int) int {
	const maxShift = 62
	if d > maxShift {
		return maxShift
	}
	return d
}

// lookupNodes runs an iterative FIND_NODE lookup for key and returns its
// closest contacts.
func (n *Node) lookupNodes(ctx context.Context, key id.ID) ([]routing.Contact, error) {
	seed := n.routingTable.ClosestN(key, n.self.ID, n.constants.K)
	result, err := n.lookup.Lookup(ctx, router.ModeFindNode, key, n.self, seed)
	if err != nil {
		return nil, n.errorf("find_node lookup: %w", err)
	}
	return result.Contacts, nil
}

// Bootstrap implements spec.md §4.8's join procedure: ping a known
// bootstrap contact to seed the routing table, then run a self-lookup so
// the node discovers and populates its own neighborhood.
func (n *Node) Bootstrap(ctx context.Context, known routing.Contact) error {
	if known.ID == n.self.ID {
		return nil
	}
	callCtx, cancel := n.callTimeout(ctx)
	sender, err := n.net.PingRPC(callCtx, known, n.self)
	cancel()
	if err != nil {
		return n.errorf("bootstrap ping %s: %w", known.Endpoint.Host, err)
	}
	known.ID = sender
	n.learnContact(known)

	if _, err := n.lookupNodes(ctx, n.self.ID); err != nil {
		return n.errorf("bootstrap self-lookup: %w", err)
	}
	return nil
}
