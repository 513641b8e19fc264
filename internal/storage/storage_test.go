package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func key(b byte) [20]byte {
	var k [20]byte
	k[19] = b
	return k
}

func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	k := key(1)

	if s.Contains(k) {
		t.Fatalf("expected fresh store not to contain key")
	}
	if _, err := s.Get(k); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(k, []byte("v1"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !s.Contains(k) {
		t.Fatalf("expected store to contain key after Set")
	}

	v, err := s.Get(k)
	if err != nil || string(v) != "v1" {
		t.Fatalf("Get returned (%q, %v), want (v1, nil)", v, err)
	}

	ts1, err := s.Timestamp(k)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := s.Touch(k); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	ts2, err := s.Timestamp(k)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if !ts2.After(ts1) {
		t.Fatalf("expected Touch to advance the republish timestamp")
	}

	ttl, err := s.TTL(k)
	if err != nil || ttl != time.Hour {
		t.Fatalf("TTL returned (%v, %v), want (1h, nil)", ttl, err)
	}

	if err := s.Remove(k); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Contains(k) {
		t.Fatalf("expected key to be gone after Remove")
	}
}

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, NewMemory())
}

func TestDurableStoreContract(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("NewDurable: %v", err)
	}
	testStoreContract(t, d)
}

func TestDurableStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	d1, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("NewDurable: %v", err)
	}
	k := key(7)
	if err := d1.Set(k, []byte("persisted"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	d2, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("NewDurable (reopen): %v", err)
	}
	v, err := d2.Get(k)
	if err != nil || string(v) != "persisted" {
		t.Fatalf("Get after reopen = (%q, %v), want (persisted, nil)", v, err)
	}
}

func TestDurableStoreNoLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("NewDurable: %v", err)
	}
	if err := d.Set(key(3), []byte("x"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("expected no leftover .tmp files, found %v", matches)
	}
}

func TestMemorySnapshotRestore(t *testing.T) {
	m := NewMemory()
	if err := m.Set(key(1), []byte("a"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	snap := m.Snapshot()

	m2 := NewMemory()
	m2.Restore(snap)
	if !m2.Contains(key(1)) {
		t.Fatalf("expected restored store to contain the snapshotted key")
	}
}

func TestEntryExpired(t *testing.T) {
	e := Entry{RepublishTimestamp: time.Now().Add(-2 * time.Second), ExpirationTTL: time.Second}
	if !e.Expired(time.Now()) {
		t.Fatalf("expected entry older than its TTL to be expired")
	}

	fresh := Entry{RepublishTimestamp: time.Now(), ExpirationTTL: time.Hour}
	if fresh.Expired(time.Now()) {
		t.Fatalf("expected fresh entry not to be expired")
	}
}
