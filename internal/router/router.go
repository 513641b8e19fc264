// Package router implements the iterative node lookup of spec.md §4.7:
// starting from a seed set of contacts partitioned into those closer to
// the target than we are and those further, it queries the α closest
// uncontacted nodes each round (preferring closer over further), folds
// their answers into the same two lists, and terminates once the K
// closest contacts ever observed have all answered (or, for a value
// lookup, as soon as some peer answers with the value itself).
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/routing"
)

// Mode selects which RPC a Lookup issues each round.
type Mode int

const (
	ModeFindNode Mode = iota
	ModeFindValue
)

// Default concurrency parameters (spec.md glossary / §9). Production nodes
// run with Alpha == MaxThreads; tests commonly dial Alpha down to exercise
// the multi-round path deterministically.
const (
	DefaultAlpha      = 3
	ProductionAlpha   = 20
	MaxThreads        = 20
	DefaultRequestTTL = 5 * time.Second
)

// Network is the subset of transport.Transport a Router needs. Any
// transport.Transport (TCP or Subnet) satisfies it.
type Network interface {
	FindNodeRPC(ctx context.Context, to, self routing.Contact, target id.ID) ([]routing.Contact, error)
	FindValueRPC(ctx context.Context, to, self routing.Contact, target id.ID) ([]routing.Contact, []byte, error)
}

// Result is what a Lookup produces: the closest contacts discovered and,
// for a value lookup, the value itself plus who held it.
type Result struct {
	Contacts []routing.Contact
	Found    bool
	Value    []byte
	FoundBy  routing.Contact
}

// Router drives lookups over a Network with bounded concurrency.
type Router struct {
	net            Network
	alpha          int
	k              int
	requestTimeout time.Duration
	pool           chan struct{}
}

// New returns a Router. maxThreads bounds the total number of concurrent
// in-flight RPCs across all rounds of a single lookup (spec.md's
// MAX_THREADS); alpha bounds how many uncontacted nodes are queried per
// round; k is the shortlist width kept and finally returned.
func New(net Network, alpha, k, maxThreads int, requestTimeout time.Duration) *Router {
	if maxThreads < alpha {
		maxThreads = alpha
	}
	return &Router{
		net:            net,
		alpha:          alpha,
		k:              k,
		requestTimeout: requestTimeout,
		pool:           make(chan struct{}, maxThreads),
	}
}

type candidate struct {
	contact  routing.Contact
	distance id.ID
}

func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool { return cands[i].distance.Less(cands[j].distance) })
}

func containsID(list []candidate, target id.ID) bool {
	for _, c := range list {
		if c.contact.ID == target {
			return true
		}
	}
	return false
}

// partitionSeed implements the "Seed" step of spec.md §4.7: contacts
// strictly closer to target than self is go into closer, the rest into
// further. Both lists come back sorted by XOR distance to target.
func partitionSeed(seed []routing.Contact, target, selfID id.ID) (closer, further []candidate) {
	selfDistance := id.Xor(selfID, target)
	seen := map[id.ID]struct{}{selfID: {}}
	for _, c := range seed {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		cand := candidate{contact: c, distance: id.Xor(c.ID, target)}
		if cand.distance.Less(selfDistance) {
			closer = append(closer, cand)
		} else {
			further = append(further, cand)
		}
	}
	sortCandidates(closer)
	sortCandidates(further)
	return closer, further
}

// classify implements spec.md §4.7's per-candidate rule for a candidate p
// returned by a query to q: p is dropped if it is us, q itself, or already
// known; otherwise it moves the frontier inward (closer) when
// p XOR q.id < q XOR key, and joins further otherwise.
func classify(closer, further *[]candidate, p, q routing.Contact, target, selfID id.ID) {
	if p.ID == selfID || p.ID == q.ID {
		return
	}
	if containsID(*closer, p.ID) || containsID(*further, p.ID) {
		return
	}
	cand := candidate{contact: p, distance: id.Xor(p.ID, target)}
	if id.Xor(p.ID, q.ID).Less(id.Xor(q.ID, target)) {
		*closer = append(*closer, cand)
		sortCandidates(*closer)
	} else {
		*further = append(*further, cand)
		sortCandidates(*further)
	}
}

// Lookup runs the iterative lookup for target, starting from seed (normally
// the caller's own ClosestN from its routing table) and returns once the
// round-over-round termination condition is met or, for ModeFindValue, as
// soon as a peer answers with the value.
func (r *Router) Lookup(ctx context.Context, mode Mode, target id.ID, self routing.Contact, seed []routing.Contact) (Result, error) {
	closer, further := partitionSeed(seed, target, self.ID)
	contacted := map[id.ID]struct{}{self.ID: {}}
	responded := map[id.ID]struct{}{}

	var result Result

	for {
		batch := pickUncontacted(closer, further, contacted, r.alpha)
		if len(batch) == 0 {
			break
		}

		responses := r.queryBatch(ctx, mode, target, self, batch)

		for _, resp := range responses {
			contacted[resp.from.ID] = struct{}{}
			if resp.err != nil {
				continue
			}
			responded[resp.from.ID] = struct{}{}
			if mode == ModeFindValue && resp.value != nil {
				// Multiple contacts in the same round can answer with the
				// value; keep the one closest to target as FoundBy, since
				// that is what the opportunistic-cache placement (spec.md
				// §4.8) needs to reason about.
				if !result.Found || id.Xor(resp.from.ID, target).Less(id.Xor(result.FoundBy.ID, target)) {
					result.Found = true
					result.Value = resp.value
					result.FoundBy = resp.from
				}
				continue
			}
			for _, c := range resp.contacts {
				classify(&closer, &further, c, resp.from, target, self.ID)
			}
		}

		if result.Found {
			break
		}
		if respondedCoversClosestK(closer, further, responded, r.k) {
			break
		}
		trim(&closer, 3*r.k)
		trim(&further, 3*r.k)
	}

	result.Contacts = topResponded(closer, further, responded, r.k)
	return result, nil
}

type rpcResult struct {
	from     routing.Contact
	contacts []routing.Contact
	value    []byte
	err      error
}

func (r *Router) queryBatch(ctx context.Context, mode Mode, target id.ID, self routing.Contact, batch []routing.Contact) []rpcResult {
	results := make([]rpcResult, len(batch))
	var wg sync.WaitGroup
	for i, c := range batch {
		wg.Add(1)
		r.pool <- struct{}{}
		go func(i int, c routing.Contact) {
			defer wg.Done()
			defer func() { <-r.pool }()
			results[i] = r.query(ctx, mode, target, self, c)
		}(i, c)
	}
	wg.Wait()
	return results
}

func (r *Router) query(ctx context.Context, mode Mode, target id.ID, self, to routing.Contact) rpcResult {
	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	switch mode {
	case ModeFindValue:
		contacts, value, err := r.net.FindValueRPC(callCtx, to, self, target)
		if err != nil {
			return rpcResult{from: to, err: fmt.Errorf("router: find_value %s: %w", to.ID, err)}
		}
		return rpcResult{from: to, contacts: contacts, value: value}
	default:
		contacts, err := r.net.FindNodeRPC(callCtx, to, self, target)
		if err != nil {
			return rpcResult{from: to, err: fmt.Errorf("router: find_node %s: %w", to.ID, err)}
		}
		return rpcResult{from: to, contacts: contacts}
	}
}

// pickUncontacted picks up to n uncontacted contacts, preferring closer
// over further, per spec.md §4.7's iteration rule.
func pickUncontacted(closer, further []candidate, contacted map[id.ID]struct{}, n int) []routing.Contact {
	out := make([]routing.Contact, 0, n)
	for _, list := range [][]candidate{closer, further} {
		for _, cand := range list {
			if len(out) == n {
				return out
			}
			if _, done := contacted[cand.contact.ID]; done {
				continue
			}
			out = append(out, cand.contact)
		}
	}
	return out
}

// respondedCoversClosestK reports whether every one of the K closest
// contacts ever observed (across both closer and further, by actual XOR
// distance to target) has answered. This is termination condition (ii) of
// spec.md §4.7; condition (iii) ("no uncontacted contact remains") is
// implicit in pickUncontacted returning an empty batch.
func respondedCoversClosestK(closer, further []candidate, responded map[id.ID]struct{}, k int) bool {
	all := make([]candidate, 0, len(closer)+len(further))
	all = append(all, closer...)
	all = append(all, further...)
	sortCandidates(all)
	if k > len(all) {
		k = len(all)
	}
	for _, cand := range all[:k] {
		if _, ok := responded[cand.contact.ID]; !ok {
			return false
		}
	}
	return true
}

func trim(list *[]candidate, max int) {
	if len(*list) > max {
		*list = (*list)[:max]
	}
}

// topResponded returns the top-k contacts by XOR distance among contacts
// the lookup heard responses from, drawn from both closer and further and
// sorted ascending by distance to target, per spec.md §4.7's "Termination".
func topResponded(closer, further []candidate, responded map[id.ID]struct{}, k int) []routing.Contact {
	all := make([]candidate, 0, len(closer)+len(further))
	for _, list := range [][]candidate{closer, further} {
		for _, cand := range list {
			if _, ok := responded[cand.contact.ID]; ok {
				all = append(all, cand)
			}
		}
	}
	sortCandidates(all)
	out := make([]routing.Contact, 0, k)
	for _, cand := range all {
		if len(out) == k {
			break
		}
		out = append(out, cand.contact)
	}
	return out
}
