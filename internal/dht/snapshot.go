package dht

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/routing"
	"github.com/kutluhann/kadnet/internal/storage"
)

// snapshotContact is the on-disk shape of one routing-table entry, kept
// separate from routing.Contact so the file format doesn't silently change
// if that type grows unrelated fields.
type snapshotContact struct {
	ID       id.ID            `json:"id"`
	Endpoint routing.Endpoint `json:"endpoint"`
}

// snapshotEntry is the on-disk shape of one stored value, mirroring the
// per-key durable file format (storage.diskEntry) but batched into a
// single file (spec.md §6: "a snapshot file distinct from per-key durable
// storage files").
type snapshotEntry struct {
	Key                id.ID         `json:"key"`
	Value              []byte        `json:"value"`
	RepublishTimestamp time.Time     `json:"republish_timestamp"`
	ExpirationTTL      time.Duration `json:"expiration_time"`
	Originator         bool          `json:"originator"`
}

type snapshotFile struct {
	SelfID   id.ID             `json:"self_id"`
	Contacts []snapshotContact `json:"contacts"`
	Entries  []snapshotEntry   `json:"entries,omitempty"`
}

// Save writes the node's routing table, and — when its store is an
// in-memory storage.Memory — its locally held entries, to path as a single
// JSON snapshot. Durable-store-backed nodes already persist entries
// per-key and skip the Entries section.
func (n *Node) Save(path string) error {
	snap := snapshotFile{SelfID: n.self.ID}

	for _, bucket := range n.routingTable.Buckets() {
		for _, c := range bucket.Contacts() {
			snap.Contacts = append(snap.Contacts, snapshotContact{ID: c.ID, Endpoint: c.Endpoint})
		}
	}

	if mem, ok := n.store.(*storage.Memory); ok {
		n.originatedMu.RLock()
		defer n.originatedMu.RUnlock()
		for key, entry := range mem.Snapshot() {
			snap.Entries = append(snap.Entries, snapshotEntry{
				Key:                key,
				Value:              entry.Value,
				RepublishTimestamp: entry.RepublishTimestamp,
				ExpirationTTL:      entry.ExpirationTTL,
				Originator:         n.originated[key],
			})
		}
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("dht: marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("dht: snapshot dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("dht: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("dht: rename snapshot: %w", err)
	}
	return nil
}

// Load restores a previously Saved snapshot into this node: every contact
// is re-added through the normal add_contact path (so splitting/eviction
// rules still apply), and any batched entries are restored into the
// node's store.
func (n *Node) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dht: read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("dht: unmarshal snapshot: %w", err)
	}

	for _, c := range snap.Contacts {
		if c.ID == n.self.ID {
			continue
		}
		_ = n.routingTable.AddContact(routing.Contact{ID: c.ID, Endpoint: c.Endpoint, LastSeen: time.Now()})
	}

	for _, e := range snap.Entries {
		if err := n.store.Set(e.Key, e.Value, e.ExpirationTTL); err != nil {
			n.log.WithError(err).Debug("dht: restore entry failed")
			continue
		}
		n.originatedMu.Lock()
		n.originated[e.Key] = e.Originator
		n.originatedMu.Unlock()
	}
	return nil
}
