package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/kaderr"
	"github.com/kutluhann/kadnet/internal/routing"
)

type stubHandler struct {
	self   id.ID
	values map[id.ID][]byte
}

func newStubHandler() *stubHandler {
	return &stubHandler{values: make(map[id.ID][]byte)}
}

func (h *stubHandler) SelfID() id.ID { return h.self }

func (h *stubHandler) HandlePing(routing.Contact) error { return nil }

func (h *stubHandler) HandleStore(_ routing.Contact, key id.ID, value []byte, _ bool, _ time.Duration) error {
	h.values[key] = value
	return nil
}

func (h *stubHandler) HandleFindNode(_ routing.Contact, _ id.ID) ([]routing.Contact, error) {
	return []routing.Contact{{ID: idFromUint(99)}}, nil
}

func (h *stubHandler) HandleFindValue(_ routing.Contact, key id.ID) ([]routing.Contact, []byte, error) {
	if v, ok := h.values[key]; ok {
		return nil, v, nil
	}
	return []routing.Contact{{ID: idFromUint(7)}}, nil, nil
}

func idFromUint(v uint64) id.ID {
	var out id.ID
	for i := 0; i < 8; i++ {
		out[id.Size-1-i] = byte(v >> (8 * i))
	}
	return out
}

func startSubnetPeer(t *testing.T, tag string, port int, handler Handler) (*Subnet, routing.Contact) {
	t.Helper()
	s := NewSubnet(tag, "node", port)
	go s.Serve(handler)
	t.Cleanup(func() { s.Close() })
	return s, routing.Contact{ID: idFromUint(uint64(port)), Endpoint: s.LocalEndpoint()}
}

func TestSubnetPingRoundTrip(t *testing.T) {
	client := NewSubnet("netA", "client", 1)
	defer client.Close()
	_, serverContact := startSubnetPeer(t, "netA", 2, newStubHandler())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	self := routing.Contact{ID: idFromUint(1), Endpoint: client.LocalEndpoint()}
	if _, err := client.PingRPC(ctx, serverContact, self); err != nil {
		t.Fatalf("PingRPC: %v", err)
	}
}

func TestSubnetStoreThenFindValue(t *testing.T) {
	client := NewSubnet("netB", "client", 1)
	defer client.Close()
	_, serverContact := startSubnetPeer(t, "netB", 2, newStubHandler())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	self := routing.Contact{ID: idFromUint(1), Endpoint: client.LocalEndpoint()}
	key := idFromUint(42)

	if err := client.StoreRPC(ctx, serverContact, self, key, []byte("hello"), false, time.Hour); err != nil {
		t.Fatalf("StoreRPC: %v", err)
	}

	contacts, value, err := client.FindValueRPC(ctx, serverContact, self, key)
	if err != nil {
		t.Fatalf("FindValueRPC: %v", err)
	}
	if string(value) != "hello" {
		t.Fatalf("expected stored value, got %q", value)
	}
	if len(contacts) != 0 {
		t.Fatalf("expected no contacts alongside a found value, got %d", len(contacts))
	}
}

func TestSubnetFindNodeReturnsContacts(t *testing.T) {
	client := NewSubnet("netC", "client", 1)
	defer client.Close()
	_, serverContact := startSubnetPeer(t, "netC", 2, newStubHandler())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	self := routing.Contact{ID: idFromUint(1), Endpoint: client.LocalEndpoint()}

	contacts, err := client.FindNodeRPC(ctx, serverContact, self, idFromUint(5))
	if err != nil {
		t.Fatalf("FindNodeRPC: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ID != idFromUint(99) {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}
}

func TestSubnetCallToUnknownPeerTimesOut(t *testing.T) {
	client := NewSubnet("netD", "client", 1)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	self := routing.Contact{ID: idFromUint(1), Endpoint: client.LocalEndpoint()}
	ghost := routing.Contact{ID: idFromUint(2), Endpoint: routing.Endpoint{Scheme: "subnet", Host: "nobody", Port: 999, Subnet: "netD"}}

	_, err := client.PingRPC(ctx, ghost, self)
	if err == nil {
		t.Fatal("expected an error contacting an unregistered peer")
	}
	if !errors.Is(err, kaderr.ErrTimeout) {
		t.Fatalf("expected a timeout-flavored error, got %v", err)
	}
}
