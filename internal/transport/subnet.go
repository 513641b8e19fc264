package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/kaderr"
	"github.com/kutluhann/kadnet/internal/routing"
)

// Subnet is an in-process Transport for tests: many Subnet values sharing a
// subnet tag form a closed network addressed without opening a single real
// socket, so routing and DHT-level tests can run dozens of simulated nodes
// in one process. Requests are still marshaled and decoded through the
// same closed-schema codec as TCP, so a test exercises the same request
// validation path production traffic does; responses are handed back as Go
// values without being encoded.
type Subnet struct {
	tag   string
	local routing.Endpoint

	mu      sync.RWMutex
	handler Handler
	closed  bool
	done    chan struct{}
}

type subnetRegistry struct {
	mu    sync.Mutex
	peers map[string]*Subnet
}

var registry = &subnetRegistry{peers: make(map[string]*Subnet)}

func subnetKey(tag string, ep routing.Endpoint) string {
	return fmt.Sprintf("%s|%s:%d", tag, ep.Host, ep.Port)
}

// NewSubnet registers a new simulated peer at host:port within tag's
// network and returns its Transport handle.
func NewSubnet(tag, host string, port int) *Subnet {
	s := &Subnet{
		tag:   tag,
		local: routing.Endpoint{Scheme: "subnet", Host: host, Port: port, Subnet: tag},
		done:  make(chan struct{}),
	}
	registry.mu.Lock()
	registry.peers[subnetKey(tag, s.local)] = s
	registry.mu.Unlock()
	return s
}

func (s *Subnet) LocalEndpoint() routing.Endpoint { return s.local }

func (s *Subnet) Serve(handler Handler) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Subnet) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	registry.mu.Lock()
	delete(registry.peers, subnetKey(s.tag, s.local))
	registry.mu.Unlock()

	close(s.done)
	return nil
}

func (s *Subnet) peerAt(ep routing.Endpoint) (*Subnet, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	peer, ok := registry.peers[subnetKey(s.tag, ep)]
	return peer, ok
}

// call passes req through the same JSON encoding the TCP transport uses,
// dispatches it to peer's handler and returns the handler's Response
// directly, honoring ctx cancellation/deadline.
func (s *Subnet) call(ctx context.Context, to routing.Contact, req Request) (Response, error) {
	peer, ok := s.peerAt(to.Endpoint)
	if !ok {
		return Response{}, fmt.Errorf("%w: no subnet peer at %s:%d", kaderr.ErrTimeout, to.Endpoint.Host, to.Endpoint.Port)
	}

	peer.mu.RLock()
	handler := peer.handler
	closed := peer.closed
	peer.mu.RUnlock()
	if closed || handler == nil {
		return Response{}, fmt.Errorf("%w: peer not serving", kaderr.ErrTimeout)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	var wireReq Request
	if err := decodeClosed(payload, &wireReq); err != nil {
		return Response{}, err
	}

	type result struct {
		resp Response
	}
	ch := make(chan result, 1)
	go func() {
		ch <- result{resp: dispatch(handler, wireReq)}
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %v", kaderr.ErrTimeout, ctx.Err())
	case r := <-ch:
		if r.resp.RandomID != req.RandomID {
			return Response{}, kaderr.ErrIDMismatch
		}
		if r.resp.ErrorMessage != "" {
			return Response{}, fmt.Errorf("%w: %s", kaderr.ErrPeerError, r.resp.ErrorMessage)
		}
		return r.resp, nil
	}
}

func (s *Subnet) PingRPC(ctx context.Context, to routing.Contact, self routing.Contact) (id.ID, error) {
	req := Request{Type: Ping, Protocol: self.Endpoint, Sender: self.ID, RandomID: id.Random()}
	resp, err := s.call(ctx, to, req)
	if err != nil {
		return id.ID{}, err
	}
	return resp.Sender, nil
}

func (s *Subnet) StoreRPC(ctx context.Context, to routing.Contact, self routing.Contact, key id.ID, value []byte, isCached bool, ttl time.Duration) error {
	req := Request{
		Type:              Store,
		Protocol:          self.Endpoint,
		Sender:            self.ID,
		RandomID:          id.Random(),
		Key:               &key,
		Value:             value,
		IsCached:          boolPtr(isCached),
		ExpirationTimeSec: uint32Ptr(uint32(ttl / time.Second)),
	}
	_, err := s.call(ctx, to, req)
	return err
}

func (s *Subnet) FindNodeRPC(ctx context.Context, to routing.Contact, self routing.Contact, target id.ID) ([]routing.Contact, error) {
	req := Request{Type: FindNode, Protocol: self.Endpoint, Sender: self.ID, RandomID: id.Random(), Key: &target}
	resp, err := s.call(ctx, to, req)
	if err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

func (s *Subnet) FindValueRPC(ctx context.Context, to routing.Contact, self routing.Contact, key id.ID) ([]routing.Contact, []byte, error) {
	req := Request{Type: FindValue, Protocol: self.Endpoint, Sender: self.ID, RandomID: id.Random(), Key: &key}
	resp, err := s.call(ctx, to, req)
	if err != nil {
		return nil, nil, err
	}
	return resp.Contacts, resp.Value, nil
}

var _ Transport = (*Subnet)(nil)
