// Package client implements the caller side of the daemon's wire contract:
// it dials the Unix socket, frames exactly one request, and reads exactly
// one response. Used by the control CLI and by the start-if-needed protocol
// in internal/lifecycle.
//
// Transport failures (socket absent, connection refused, a timeout) are
// reported as ErrUnreachable so callers can distinguish "the service said
// no" from "the service isn't there" without inspecting error strings.
package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxMessageBytes mirrors the server's framing limit; a reply larger than
// this is treated as a framing error.
const MaxMessageBytes = 1 << 20

// ErrUnreachable is returned whenever the daemon could not be reached at
// all: socket absent, connection refused, or a dial/round-trip timeout.
var ErrUnreachable = errors.New("escalationd: service unreachable")

// Client dials the daemon's Unix socket for one-shot request/response RPCs.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
	connTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDialTimeout overrides how long a single connect attempt may take.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithConnTimeout overrides the round-trip read/write deadline once
// connected.
func WithConnTimeout(d time.Duration) Option {
	return func(c *Client) { c.connTimeout = d }
}

// New builds a Client targeting socketPath.
func New(socketPath string, opts ...Option) *Client {
	c := &Client{
		socketPath:  socketPath,
		dialTimeout: 2 * time.Second,
		connTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsRunning reports whether the daemon accepts a connection on the socket.
// It never returns an error: a dial failure simply means "not running".
func (c *Client) IsRunning(ctx context.Context) bool {
	conn, err := c.dial(ctx)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	var d net.Dialer
	return d.DialContext(dctx, "unix", c.socketPath)
}

// call performs one request/response round trip: dial, write one frame,
// read one frame, unmarshal. Any transport-level failure collapses to
// ErrUnreachable; a successfully-received `{status:"error",...}` response
// is returned as-is (it is not a transport failure).
func (c *Client) call(ctx context.Context, req map[string]any) (map[string]any, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.connTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if err := writeFrame(conn, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	payload, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var resp map[string]any
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnreachable, err)
	}
	return resp, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageBytes {
		return fmt.Errorf("request of %d bytes exceeds max %d", len(payload), MaxMessageBytes)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageBytes {
		return nil, fmt.Errorf("response of %d bytes exceeds max %d", n, MaxMessageBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return buf, nil
}

// Add arms an escalation group. delays may be nil to take the server's
// default ([60, 3600]).
func (c *Client) Add(ctx context.Context, escalationID, message string, delays []int) (map[string]any, error) {
	req := map[string]any{
		"command":       "add",
		"escalation_id": escalationID,
		"message":       message,
	}
	if delays != nil {
		req["delays"] = delays
	}
	return c.call(ctx, req)
}

// Cancel cancels escalationID's group, if any.
func (c *Client) Cancel(ctx context.Context, escalationID string) (map[string]any, error) {
	return c.call(ctx, map[string]any{
		"command":       "cancel",
		"escalation_id": escalationID,
	})
}

// Status retrieves pending escalations and the session registry snapshot.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, map[string]any{"command": "status"})
}

// RegisterSession registers a session. sessionID may be empty to let the
// daemon synthesize one; hasPID is false to omit pid tracking entirely.
func (c *Client) RegisterSession(ctx context.Context, sessionID string, pid int32, hasPID bool) (map[string]any, error) {
	req := map[string]any{"command": "register_session"}
	if sessionID != "" {
		req["session_id"] = sessionID
	}
	if hasPID {
		req["pid"] = pid
	}
	return c.call(ctx, req)
}

// UnregisterSession unregisters sessionID, or the oldest session when empty.
func (c *Client) UnregisterSession(ctx context.Context, sessionID string) (map[string]any, error) {
	req := map[string]any{"command": "unregister_session"}
	if sessionID != "" {
		req["session_id"] = sessionID
	}
	return c.call(ctx, req)
}

// Shutdown requests an immediate daemon shutdown regardless of session count.
func (c *Client) Shutdown(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, map[string]any{"command": "shutdown"})
}
