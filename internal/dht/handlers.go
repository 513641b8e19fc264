package dht

import (
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/routing"
)

// HandlePing implements transport.Handler (spec.md §4.6): answering at all
// is the liveness proof; the only side effect is the passive routing-table
// update every handler performs.
func (n *Node) HandlePing(sender routing.Contact) error {
	n.learnContact(sender)
	return nil
}

// HandleStore implements transport.Handler (spec.md §4.6): writes to the
// cache store if is_cached, else to the republish store, with ttl clamped
// to [0, EXPIRATION_TIME_SEC].
func (n *Node) HandleStore(sender routing.Contact, key id.ID, value []byte, isCached bool, ttl time.Duration) error {
	n.learnContact(sender)

	if ttl < 0 {
		ttl = 0
	}
	if ttl > n.constants.ExpirationTime {
		ttl = n.constants.ExpirationTime
	}

	if isCached {
		if err := n.cacheStore.Set(key, value, ttl); err != nil {
			return n.errorf("cache store: %w", err)
		}
		return nil
	}

	if err := n.store.Set(key, value, ttl); err != nil {
		return n.errorf("store: %w", err)
	}
	// An explicit (non-cached) STORE names this node as a long-term
	// replica holder, eligible for the periodic republish timer.
	n.originatedMu.Lock()
	if _, known := n.originated[key]; !known {
		n.originated[key] = false
	}
	n.originatedMu.Unlock()
	return nil
}

// HandleFindNode implements transport.Handler (spec.md §4.6): return this
// node's K closest contacts to target.
func (n *Node) HandleFindNode(sender routing.Contact, target id.ID) ([]routing.Contact, error) {
	n.learnContact(sender)
	return n.routingTable.ClosestK(target, n.self.ID), nil
}

// HandleFindValue implements transport.Handler (spec.md §4.6): if the
// republish or cache store contains key, return it; otherwise fall back to
// FIND_NODE's behavior. Originator and republish entries share n.store
// (spec.md §4.3 permits this), so checking n.store covers both.
func (n *Node) HandleFindValue(sender routing.Contact, key id.ID) ([]routing.Contact, []byte, error) {
	n.learnContact(sender)

	if value, err := n.store.Get(key); err == nil {
		return nil, value, nil
	}
	if value, err := n.cacheStore.Get(key); err == nil {
		return nil, value, nil
	}
	return n.routingTable.ClosestK(key, n.self.ID), nil, nil
}
