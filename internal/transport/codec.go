package transport

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single encoded message, guarding readFrame against
// a peer that sends an enormous length prefix.
const maxFrameBytes = 8 << 20 // 8 MiB

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed payload from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit %d", n, maxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// decodeClosed decodes payload into v, rejecting any field payload carries
// that v does not declare. This is the closed-schema guard spec.md §9 asks
// for in place of the teacher's unchecked interface{} payload.
func decodeClosed(payload []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("transport: decode: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("transport: trailing data after message")
	}
	return nil
}

func writeMessage(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	return writeFrame(w, payload)
}

func readRequest(r io.Reader) (Request, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := decodeClosed(payload, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

func readResponse(r io.Reader) (Response, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := decodeClosed(payload, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
