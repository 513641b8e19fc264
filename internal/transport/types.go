// Package transport implements the wire protocol of spec.md §6: four
// request/response pairs (PING, STORE, FIND_NODE, FIND_VALUE) exchanged as
// length-prefixed, closed-schema JSON frames over a reliable stream. This
// replaces the teacher's best-effort UDP transport and its untyped
// interface{} payload (the "pickle in the wire format" bug named in
// spec.md §9) with fixed, validated request/response structs.
package transport

import (
	"context"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/routing"
)

// RequestType names one of the four RPC endpoints.
type RequestType string

const (
	Ping      RequestType = "PING"
	Store     RequestType = "STORE"
	FindNode  RequestType = "FIND_NODE"
	FindValue RequestType = "FIND_VALUE"
)

// Request is the closed-schema envelope every RPC request is encoded as.
// Every request carries {protocol, sender, random_id} per spec.md §6; the
// remaining fields are populated only for the request types that use them
// and are rejected as unknown if any other field appears on the wire.
type Request struct {
	Type     RequestType      `json:"type"`
	Protocol routing.Endpoint `json:"protocol"`
	Sender   id.ID            `json:"sender"`
	RandomID id.ID            `json:"random_id"`

	Key               *id.ID  `json:"key,omitempty"`
	Value             []byte  `json:"value,omitempty"`
	IsCached          *bool   `json:"is_cached,omitempty"`
	ExpirationTimeSec *uint32 `json:"expiration_time_sec,omitempty"`
}

// Response is the closed-schema envelope every RPC response is encoded as.
// Every response echoes random_id (spec.md §6) and carries the
// responder's own ID, so even a bare PING response tells the caller who
// answered; an ErrorMessage present means the peer rejected the request
// (mapped to kaderr.ErrPeerError).
type Response struct {
	RandomID     id.ID             `json:"random_id"`
	Sender       id.ID             `json:"sender"`
	Contacts     []routing.Contact `json:"contacts,omitempty"`
	Value        []byte            `json:"value,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// Handler is the Node-side RPC surface (spec.md §4.6), implemented by the
// dht package and invoked by a Transport on each inbound request.
type Handler interface {
	// SelfID reports the handler's own node ID, stamped onto every
	// Response so callers (notably Bootstrap) learn who they reached.
	SelfID() id.ID
	HandlePing(sender routing.Contact) error
	HandleStore(sender routing.Contact, key id.ID, value []byte, isCached bool, ttl time.Duration) error
	HandleFindNode(sender routing.Contact, target id.ID) ([]routing.Contact, error)
	HandleFindValue(sender routing.Contact, key id.ID) ([]routing.Contact, []byte, error)
}

// Transport is the client+server RPC surface the router and DHT control
// loop depend on. Two implementations exist: TCP (real network) and
// Subnet (in-process, test-only — spec.md §9's "subnet
// protocol variant", kept entirely inside this package).
type Transport interface {
	// Serve starts accepting inbound requests and dispatching them to
	// handler. It returns once the transport is closed.
	Serve(handler Handler) error
	Close() error

	// LocalEndpoint is how other peers should address this transport.
	LocalEndpoint() routing.Endpoint

	PingRPC(ctx context.Context, to routing.Contact, self routing.Contact) (id.ID, error)
	StoreRPC(ctx context.Context, to routing.Contact, self routing.Contact, key id.ID, value []byte, isCached bool, ttl time.Duration) error
	FindNodeRPC(ctx context.Context, to routing.Contact, self routing.Contact, target id.ID) ([]routing.Contact, error)
	FindValueRPC(ctx context.Context, to routing.Contact, self routing.Contact, key id.ID) ([]routing.Contact, []byte, error)
}
