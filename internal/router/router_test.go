package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/routing"
)

var errTimeout = errors.New("simulated timeout")

// fakeNetwork simulates a small, fully-known network of nodes, each of
// which answers FIND_NODE/FIND_VALUE with its own k-closest view, without
// opening any socket. This lets Lookup's convergence and termination logic
// be tested without the transport package.
type fakeNetwork struct {
	nodes  map[id.ID]routing.Contact
	values map[id.ID][]byte
	calls  int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{nodes: make(map[id.ID]routing.Contact), values: make(map[id.ID][]byte)}
}

func (f *fakeNetwork) add(c routing.Contact) { f.nodes[c.ID] = c }

func (f *fakeNetwork) closestTo(target id.ID, exclude id.ID, n int) []routing.Contact {
	all := make([]routing.Contact, 0, len(f.nodes))
	for _, c := range f.nodes {
		if c.ID != exclude {
			all = append(all, c)
		}
	}
	// simple insertion sort by XOR distance; the test networks are small.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && id.Xor(all[j].ID, target).Less(id.Xor(all[j-1].ID, target)); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (f *fakeNetwork) FindNodeRPC(_ context.Context, to, _ routing.Contact, target id.ID) ([]routing.Contact, error) {
	f.calls++
	return f.closestTo(target, to.ID, 20), nil
}

func (f *fakeNetwork) FindValueRPC(_ context.Context, to, self routing.Contact, target id.ID) ([]routing.Contact, []byte, error) {
	f.calls++
	if v, ok := f.values[target]; ok {
		return nil, v, nil
	}
	contacts, err := f.FindNodeRPC(context.Background(), to, self, target)
	return contacts, nil, err
}

func idFromUint(v uint64) id.ID {
	var out id.ID
	for i := 0; i < 8; i++ {
		out[id.Size-1-i] = byte(v >> (8 * i))
	}
	return out
}

func buildRing(t *testing.T, n int) (*fakeNetwork, []routing.Contact) {
	t.Helper()
	net := newFakeNetwork()
	var contacts []routing.Contact
	for i := 0; i < n; i++ {
		c := routing.Contact{ID: idFromUint(uint64(i + 1))}
		net.add(c)
		contacts = append(contacts, c)
	}
	return net, contacts
}

func TestLookupConvergesToClosestNodes(t *testing.T) {
	net, contacts := buildRing(t, 50)
	self := routing.Contact{ID: idFromUint(1000)}
	r := New(net, DefaultAlpha, 20, MaxThreads, 2*time.Second)

	seed := contacts[:3]
	target := idFromUint(25)

	result, err := r.Lookup(context.Background(), ModeFindNode, target, self, seed)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(result.Contacts) == 0 {
		t.Fatal("expected some contacts back")
	}

	want := net.closestTo(target, self.ID, 20)
	if result.Contacts[0].ID != want[0].ID {
		t.Fatalf("expected closest result %v, got %v", want[0].ID, result.Contacts[0].ID)
	}
}

func TestLookupFindsValue(t *testing.T) {
	net, contacts := buildRing(t, 30)
	self := routing.Contact{ID: idFromUint(1000)}
	r := New(net, DefaultAlpha, 20, MaxThreads, 2*time.Second)

	key := idFromUint(500)
	net.values[key] = []byte("payload")

	result, err := r.Lookup(context.Background(), ModeFindValue, key, self, contacts[:3])
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !result.Found {
		t.Fatal("expected the value to be found")
	}
	if string(result.Value) != "payload" {
		t.Fatalf("unexpected value %q", result.Value)
	}
}

func TestLookupWithEmptySeedReturnsNoContacts(t *testing.T) {
	net := newFakeNetwork()
	self := routing.Contact{ID: idFromUint(1)}
	r := New(net, DefaultAlpha, 20, MaxThreads, time.Second)

	result, err := r.Lookup(context.Background(), ModeFindNode, idFromUint(2), self, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(result.Contacts) != 0 {
		t.Fatalf("expected no contacts, got %d", len(result.Contacts))
	}
}

func TestLookupRespectsAlphaBound(t *testing.T) {
	net, contacts := buildRing(t, 40)
	counting := &concurrencyNetwork{fakeNetwork: net}
	self := routing.Contact{ID: idFromUint(1000)}
	r := New(counting, 1, 20, MaxThreads, 2*time.Second)

	_, err := r.Lookup(context.Background(), ModeFindNode, idFromUint(10), self, contacts[:5])
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if net.calls == 0 {
		t.Fatal("expected the router to have issued RPCs")
	}
	if counting.maxInFlight > 1 {
		t.Fatalf("expected at most 1 RPC in flight with alpha=1, got %d", counting.maxInFlight)
	}
}

// concurrencyNetwork wraps a fakeNetwork and records the largest number of
// FIND_NODE RPCs in flight at the same time.
type concurrencyNetwork struct {
	*fakeNetwork
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (c *concurrencyNetwork) FindNodeRPC(ctx context.Context, to, self routing.Contact, target id.ID) ([]routing.Contact, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()
	time.Sleep(time.Millisecond)
	return c.fakeNetwork.FindNodeRPC(ctx, to, self, target)
}

// Scenario 4 of spec.md §8: our_id = 2^160-1, seed contacts at IDs
// 2^0..2^(K-1), lookup key 0. Every seed contact is strictly closer to 0
// than we are, so all of them must land in closer and none in further.
func TestPartitionSeedAllCloser(t *testing.T) {
	const k = 20
	ourID := id.Max

	seed := make([]routing.Contact, k)
	for i := 0; i < k; i++ {
		seed[i] = routing.Contact{ID: idFromUint(1 << uint(i))}
	}

	closer, further := partitionSeed(seed, idFromUint(0), ourID)
	if len(closer) != k {
		t.Fatalf("expected all %d seed contacts classified closer, got %d", k, len(closer))
	}
	if len(further) != 0 {
		t.Fatalf("expected no further contacts, got %d", len(further))
	}
}

func TestClassifyCandidateCloserAndFurther(t *testing.T) {
	target := idFromUint(0)
	selfID := idFromUint(1000)
	q := routing.Contact{ID: idFromUint(100)}

	var closer, further []candidate

	// p XOR q.id < q XOR key: p moves the frontier strictly inward.
	inward := routing.Contact{ID: idFromUint(99)}
	classify(&closer, &further, inward, q, target, selfID)
	if !containsID(closer, inward.ID) {
		t.Fatalf("expected %v classified closer", inward.ID)
	}
	if containsID(further, inward.ID) {
		t.Fatalf("did not expect %v in further", inward.ID)
	}

	// p XOR q.id >= q XOR key: p does not move the frontier inward.
	outward := routing.Contact{ID: idFromUint(1 << 40)}
	classify(&closer, &further, outward, q, target, selfID)
	if !containsID(further, outward.ID) {
		t.Fatalf("expected %v classified further", outward.ID)
	}
	if containsID(closer, outward.ID) {
		t.Fatalf("did not expect %v in closer", outward.ID)
	}

	// self and the querying node itself are always dropped.
	classify(&closer, &further, routing.Contact{ID: selfID}, q, target, selfID)
	classify(&closer, &further, q, q, target, selfID)
	if containsID(closer, selfID) || containsID(further, selfID) {
		t.Fatal("self must never be added to either list")
	}
	if containsID(closer, q.ID) || containsID(further, q.ID) {
		t.Fatal("the querying node must never be re-added as its own candidate")
	}
}

// A contact that never answers must not appear in the final result, even
// though it remains in the shortlist once contacted.
func TestLookupExcludesUnresponsiveContactsFromResult(t *testing.T) {
	net, contacts := buildRing(t, 10)
	self := routing.Contact{ID: idFromUint(1000)}
	target := idFromUint(5)

	ghost := idFromUint(999999)
	flaky := &flakyNetwork{fakeNetwork: net, failFor: map[id.ID]bool{ghost: true}}

	seed := append([]routing.Contact{{ID: ghost}}, contacts[:3]...)
	r := New(flaky, DefaultAlpha, 20, MaxThreads, 2*time.Second)

	result, err := r.Lookup(context.Background(), ModeFindNode, target, self, seed)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	for _, c := range result.Contacts {
		if c.ID == ghost {
			t.Fatal("unresponsive contact must not appear in the final result")
		}
	}
}

// flakyNetwork wraps a fakeNetwork and fails every RPC to IDs in failFor.
type flakyNetwork struct {
	*fakeNetwork
	failFor map[id.ID]bool
}

func (f *flakyNetwork) FindNodeRPC(ctx context.Context, to, self routing.Contact, target id.ID) ([]routing.Contact, error) {
	if f.failFor[to.ID] {
		return nil, errTimeout
	}
	return f.fakeNetwork.FindNodeRPC(ctx, to, self, target)
}

func (f *flakyNetwork) FindValueRPC(ctx context.Context, to, self routing.Contact, target id.ID) ([]routing.Contact, []byte, error) {
	if f.failFor[to.ID] {
		return nil, nil, errTimeout
	}
	return f.fakeNetwork.FindValueRPC(ctx, to, self, target)
}
