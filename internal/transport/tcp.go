package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/kutluhann/kadnet/internal/id"
	"github.com/kutluhann/kadnet/internal/kaderr"
	"github.com/kutluhann/kadnet/internal/routing"
	"github.com/sirupsen/logrus"
)

// TCP is the real-network Transport: one short-lived TCP connection per RPC,
// each carrying a single length-prefixed JSON request and its response
// (spec.md §6's "reliable byte-stream transport with a length-prefixed
// payload"), in place of the teacher's fire-and-forget UDP datagrams.
type TCP struct {
	listener net.Listener
	local    routing.Endpoint
	log      *logrus.Entry
}

// NewTCP binds a listener on host:port and returns a ready-to-Serve TCP
// transport. Port 0 lets the kernel choose a free port.
func NewTCP(host string, port int, log *logrus.Entry) (*TCP, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TCP{
		listener: ln,
		local:    routing.Endpoint{Scheme: "tcp", Host: host, Port: addr.Port},
		log:      log,
	}, nil
}

func (t *TCP) LocalEndpoint() routing.Endpoint { return t.local }

func (t *TCP) Close() error { return t.listener.Close() }

// Serve accepts connections until the listener is closed.
func (t *TCP) Serve(handler Handler) error {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return err
		}
		go t.serveConn(conn, handler)
	}
}

func (t *TCP) serveConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	req, err := readRequest(conn)
	if err != nil {
		t.log.WithError(err).Debug("transport: malformed inbound request")
		return
	}

	resp := dispatch(handler, req)
	if err := writeMessage(conn, resp); err != nil {
		t.log.WithError(err).Debug("transport: failed to write response")
	}
}

// call opens a connection to to, sends req and decodes the response,
// honoring ctx's deadline.
func (t *TCP) call(ctx context.Context, to routing.Contact, req Request) (Response, error) {
	addr := fmt.Sprintf("%s:%d", to.Endpoint.Host, to.Endpoint.Port)

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{}, fmt.Errorf("%w: dial %s: %v", kaderr.ErrTimeout, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := writeMessage(conn, req); err != nil {
		return Response{}, err
	}

	resp, err := readResponse(conn)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", kaderr.ErrTimeout, err)
	}
	if resp.RandomID != req.RandomID {
		return Response{}, kaderr.ErrIDMismatch
	}
	if resp.ErrorMessage != "" {
		return Response{}, fmt.Errorf("%w: %s", kaderr.ErrPeerError, resp.ErrorMessage)
	}
	return resp, nil
}

func (t *TCP) PingRPC(ctx context.Context, to routing.Contact, self routing.Contact) (id.ID, error) {
	req := Request{Type: Ping, Protocol: self.Endpoint, Sender: self.ID, RandomID: id.Random()}
	resp, err := t.call(ctx, to, req)
	if err != nil {
		return id.ID{}, err
	}
	return resp.Sender, nil
}

func (t *TCP) StoreRPC(ctx context.Context, to routing.Contact, self routing.Contact, key id.ID, value []byte, isCached bool, ttl time.Duration) error {
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
	_, err := t.call(ctx, to, req)
	return err
}

func (t *TCP) FindNodeRPC(ctx context.Context, to routing.Contact, self routing.Contact, target id.ID) ([]routing.Contact, error) {
	req := Request{Type: FindNode, Protocol: self.Endpoint, Sender: self.ID, RandomID: id.Random(), Key: &target}
	resp, err := t.call(ctx, to, req)
	if err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

func (t *TCP) FindValueRPC(ctx context.Context, to routing.Contact, self routing.Contact, key id.ID) ([]routing.Contact, []byte, error) {
	req := Request{Type: FindValue, Protocol: self.Endpoint, Sender: self.ID, RandomID: id.Random(), Key: &key}
	resp, err := t.call(ctx, to, req)
	if err != nil {
		return nil, nil, err
	}
	return resp.Contacts, resp.Value, nil
}

var _ Transport = (*TCP)(nil)
