// Package kaderr collects the error taxonomy shared across the DHT core
// (spec.md §7), so every package — routing, transport, router, dht — can
// raise and recognise the same sentinel values without import cycles.
package kaderr

import "errors"

// RPC-level errors.
var (
	ErrTimeout      = errors.New("kadnet: request timed out")
	ErrProtocol     = errors.New("kadnet: unparseable or unexpected response")
	ErrIDMismatch   = errors.New("kadnet: echoed random_id does not match request")
	ErrPeerError    = errors.New("kadnet: peer responded with an error")
	ErrUnknownField = errors.New("kadnet: message contains an unknown field")
)

// Local operational errors.
var (
	ErrBucketFull             = errors.New("kadnet: bucket is full")
	ErrOutOfRange             = errors.New("kadnet: contact id is out of the bucket's range")
	ErrSelfContact            = errors.New("kadnet: refusing to add our own id as a contact")
	ErrNotPresent             = errors.New("kadnet: contact not present")
	ErrValueUnexpectedlyAbsent = errors.New("kadnet: value unexpectedly absent from local store")
	ErrSenderIsSelf           = errors.New("kadnet: sender is our own id")
	ErrUnknownRequest         = errors.New("kadnet: unknown request type")
)
