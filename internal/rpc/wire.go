// Package rpc implements the daemon's Unix-domain RPC transport: one
// length-prefixed JSON request per connection, one length-prefixed JSON
// response, then close.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageBytes bounds a single frame's payload size. Larger prefixes are
// a framing error: the connection is closed without a reply.
const MaxMessageBytes = 1 << 20

// ErrFraming wraps every malformed-frame error from readFrame and
// writeFrame: a short read or an oversize message. Invalid JSON is detected
// by the server after readFrame and is not wrapped in ErrFraming, though the
// server handles it the same way. Callers close the connection without
// replying.
var ErrFraming = errors.New("rpc: framing error")

// readFrame reads one big-endian uint32 length prefix followed by that many
// bytes from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading length prefix: %v", ErrFraming, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageBytes {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds max %d", ErrFraming, n, MaxMessageBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", ErrFraming, err)
	}
	return buf, nil
}

// writeFrame writes payload prefixed with its big-endian uint32 length.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageBytes {
		return fmt.Errorf("%w: response of %d bytes exceeds max %d", ErrFraming, len(payload), MaxMessageBytes)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
