package dht

import (
	"context"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/router"
	"github.com/kutluhann/kadnet/internal/storage"
)

// StartTimers launches the background maintenance loops spec.md §4.5/§4.8
// describe: originator republish, replica republish, expiration, and
// bucket refresh. Each runs on its own goroutine until Close is called.
func (n *Node) StartTimers() {
	n.wg.Add(4)
	go n.runEvery(n.constants.OriginatorRepublishInterval, n.republishOriginated)
	go n.runEvery(n.constants.RepublishInterval, n.republishReplicas)
	go n.runEvery(n.constants.ExpirationTime/2, n.expireStaleEntries)
	go n.runEvery(n.constants.BucketRefreshInterval, n.refreshStaleBuckets)
}

func (n *Node) runEvery(interval time.Duration, fn func()) {
	defer n.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// republishOriginated re-announces every key this node originally
// published, refreshing its expiration clock across the network (spec.md
// §4.8, "originator republish").
func (n *Node) republishOriginated() {
	n.originatedMu.RLock()
	var keys []id.ID
	for k, isOrigin := range n.originated {
		if isOrigin {
			keys = append(keys, k)
		}
	}
	n.originatedMu.RUnlock()

	for _, key := range keys {
		value, err := n.store.Get(key)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.constants.RequestTimeout*time.Duration(n.constants.K))
		if _, err := n.Store(ctx, key, value); err != nil {
			n.log.WithError(err).WithField("key", key.String()).Debug("dht: originator republish failed")
		}
		cancel()
	}
}

// republishReplicas re-propagates keys this node holds as a replica (not
// the originator) to the current K closest nodes, so the value survives
// routing-table churn even though this node never refreshes its own TTL
// for it (spec.md §4.8, "replica republish").
func (n *Node) republishReplicas() {
	n.originatedMu.RLock()
	var keys []id.ID
	for k, isOrigin := range n.originated {
		if !isOrigin {
			keys = append(keys, k)
		}
	}
	n.originatedMu.RUnlock()

	for _, key := range keys {
		value, err := n.store.Get(key)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.constants.RequestTimeout*time.Duration(n.constants.K))
		targets, err := n.lookupNodes(ctx, key)
		if err == nil {
			for _, target := range targets {
				if target.ID == n.self.ID {
					continue
				}
				callCtx, cancel2 := n.callTimeout(ctx)
				_ = n.net.StoreRPC(callCtx, target, n.self, key, value, false, n.constants.ExpirationTime)
				cancel2()
			}
		}
		cancel()
	}
}

// expireStaleEntries drops any locally stored value whose TTL has lapsed
// since its last republish timestamp (spec.md §4.3 "expiration"), across
// both the originator/republish store and the cache store.
func (n *Node) expireStaleEntries() {
	now := time.Now()
	for _, key := range n.store.Keys() {
		if expireIfStale(n.store, key, now) {
			n.originatedMu.Lock()
			delete(n.originated, key)
			n.originatedMu.Unlock()
		}
	}
	for _, key := range n.cacheStore.Keys() {
		expireIfStale(n.cacheStore, key, now)
	}
}

// expireIfStale removes key from store if its TTL has lapsed, returning
// whether it was removed.
func expireIfStale(store storage.Store, key id.ID, now time.Time) bool {
	ts, err := store.Timestamp(key)
	if err != nil {
		return false
	}
	ttl, err := store.TTL(key)
	if err != nil {
		return false
	}
	if now.Sub(ts) < ttl {
		return false
	}
	_ = store.Remove(key)
	return true
}

// refreshStaleBuckets runs a self-directed FIND_NODE lookup for a random
// ID inside each bucket that has gone quiet longer than
// BucketRefreshInterval (spec.md §4.5 "bucket refresh"), so idle parts of
// the ID space still get exercised.
func (n *Node) refreshStaleBuckets() {
	now := time.Now()
	for _, bucket := range n.routingTable.Buckets() {
		if now.Sub(bucket.TimeStamp()) < n.constants.BucketRefreshInterval {
			continue
		}
		low, high := bucket.Range()
		target := id.RandomInRange(low, high)

		ctx, cancel := context.WithTimeout(context.Background(), n.constants.RequestTimeout*time.Duration(n.constants.Alpha))
		seed := n.routingTable.ClosestN(target, n.self.ID, n.constants.K)
		_, _ = n.lookup.Lookup(ctx, router.ModeFindNode, target, n.self, seed)
		cancel()
		bucket.Touch()
	}
}
