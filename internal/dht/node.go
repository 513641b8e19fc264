package dht

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/identity"
	"github.com/kutluhann/kadnet/internal/kaderr"
	"github.com/kutluhann/kadnet/internal/router"
	"github.com/kutluhann/kadnet/internal/routing"
	"github.com/kutluhann/kadnet/internal/storage"
	"github.com/kutluhann/kadnet/internal/transport"
	"github.com/sirupsen/logrus"
)

// pendingEntry tracks one bucket's in-flight eviction attempt (spec.md
// §4.5 step 6 / §4.8 "eviction/pending"): how many consecutive pings the
// least-recently-seen contact has failed to answer, and which newer
// contact is waiting to take its seat if it is finally evicted.
type pendingEntry struct {
	failures    int
	replacement routing.Contact
}

// Node is a single DHT peer: identity, routing table, local value store,
// transport and lookup router bound together behind the operations
// spec.md §4.6/§4.8 name.
type Node struct {
	self      routing.Contact
	identity  *identity.Identity
	constants Constants
	log       *logrus.Entry

	routingTable *routing.BucketList
	// store holds the originator and republish namespaces (spec.md §4.3
	// permits these two to share an implementation; originated distinguishes
	// them). cacheStore is always a separate, non-persisted instance, since
	// an opportunistic short-TTL cache write must never be able to clobber
	// a long-TTL originator/replica entry for the same key (spec.md §6,
	// "cache store is NOT persisted").
	store      storage.Store
	cacheStore storage.Store
	net        transport.Transport
	lookup     *router.Router

	// originated tracks which keys this node is the original publisher
	// of, so the originator-republish timer (spec.md §4.8) knows which
	// entries must refresh their own expiration rather than merely forward
	// someone else's replica.
	originatedMu sync.RWMutex
	originated   map[id.ID]bool

	evictionMu sync.Mutex
	pending    map[id.ID]*pendingEntry

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New assembles a Node around an already-bound transport. It wires the
// routing table's eviction callbacks back into the node itself, which is
// why the routing table is built only after the Node value exists, with
// the node passed to NewBucketList as its EvictionHandler (spec.md §9,
// avoiding a routing<->dht import cycle).
func New(ident *identity.Identity, net transport.Transport, store storage.Store, constants Constants, log *logrus.Entry) *Node {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	self := routing.Contact{ID: ident.ID, Endpoint: net.LocalEndpoint(), LastSeen: time.Now()}

	n := &Node{
		self:       self,
		identity:   ident,
		constants:  constants,
		log:        log.WithField("node", ident.ID.String()[:12]),
		store:      store,
		cacheStore: storage.NewMemory(),
		net:        net,
		originated: make(map[id.ID]bool),
		pending:    make(map[id.ID]*pendingEntry),
		stop:       make(chan struct{}),
	}

	n.routingTable = routing.NewBucketList(ident.ID, n)
	n.lookup = router.New(net, constants.Alpha, constants.K, constants.MaxThreads, constants.RequestTimeout)
	return n
}

// Self returns the node's own contact information.
func (n *Node) Self() routing.Contact { return n.self }

// RoutingTable exposes the node's routing table, chiefly for the control
// HTTP surface and tests.
func (n *Node) RoutingTable() *routing.BucketList { return n.routingTable }

var _ transport.Handler = (*Node)(nil)
var _ routing.EvictionHandler = (*Node)(nil)

// Serve starts accepting inbound RPCs; it blocks until the transport is
// closed or Close is called.
func (n *Node) Serve() error {
	return n.net.Serve(n)
}

// Close stops the node's background timers and transport.
func (n *Node) Close() error {
	n.stopOnce.Do(func() { close(n.stop) })
	n.wg.Wait()
	return n.net.Close()
}

func (n *Node) callTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, n.constants.RequestTimeout)
}

// Ping implements routing.EvictionHandler: a synchronous liveness probe of
// a bucket's least-recently-seen contact.
func (n *Node) Ping(c routing.Contact) error {
	ctx, cancel := n.callTimeout(context.Background())
	defer cancel()
	_, err := n.net.PingRPC(ctx, c, n.self)
	return err
}

// SelfID implements transport.Handler: it lets dispatch stamp every
// response with this node's own ID.
func (n *Node) SelfID() id.ID { return n.self.ID }

// DelayEviction implements routing.EvictionHandler (spec.md §4.5 step 6):
// record one more failed ping against victim; once EvictionLimit failures
// accumulate, evict victim and seat its queued replacement.
func (n *Node) DelayEviction(victim, replacement routing.Contact) {
	n.evictionMu.Lock()
	entry, ok := n.pending[victim.ID]
	if !ok {
		entry = &pendingEntry{}
		n.pending[victim.ID] = entry
	}
	entry.failures++
	entry.replacement = replacement
	evict := entry.failures >= n.constants.EvictionLimit
	if evict {
		delete(n.pending, victim.ID)
	}
	n.evictionMu.Unlock()

	if !evict {
		return
	}
	bucket, _ := n.routingTable.BucketFor(victim.ID)
	if err := bucket.Evict(victim.ID); err != nil && err != kaderr.ErrNotPresent {
		n.log.WithError(err).Warn("dht: failed to evict unresponsive contact")
	}
	if err := n.routingTable.AddContact(replacement); err != nil && err != kaderr.ErrSelfContact {
		n.log.WithError(err).Warn("dht: failed to seat replacement contact")
	}
}

// EnqueuePending implements routing.EvictionHandler: victim answered its
// ping, so its failure count resets, but replacement is kept on file as
// the next candidate should victim later stop answering.
func (n *Node) EnqueuePending(victim, replacement routing.Contact) {
	n.evictionMu.Lock()
	defer n.evictionMu.Unlock()
	delete(n.pending, victim.ID)
	n.pending[victim.ID] = &pendingEntry{replacement: replacement}
}

func (n *Node) markOriginator(key id.ID) {
	n.originatedMu.Lock()
	n.originated[key] = true
	n.originatedMu.Unlock()
}

func (n *Node) isOriginator(key id.ID) bool {
	n.originatedMu.RLock()
	defer n.originatedMu.RUnlock()
	return n.originated[key]
}

// learnContact folds a peer we just heard from into the routing table,
// the passive-update step every RPC handler performs (spec.md §4.6).
func (n *Node) learnContact(c routing.Contact) {
	if c.ID == n.self.ID {
		return
	}
	if err := n.routingTable.AddContact(c); err != nil && err != kaderr.ErrSelfContact {
		n.log.WithError(err).Debug("dht: add_contact failed")
	}
}

func (n *Node) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("dht: "+format, args...)
}
