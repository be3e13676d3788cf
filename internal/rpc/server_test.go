package rpc

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmyuuu/escalationd/internal/scheduler"
	"github.com/hmyuuu/escalationd/internal/session"
)

type fakeEngine struct {
	addCalls    []string
	cancelKnown map[string]bool
	groups      []scheduler.GroupStatus
}

func (f *fakeEngine) Add(id, message string, delays []int) { f.addCalls = append(f.addCalls, id) }
func (f *fakeEngine) Cancel(id string) bool                { return f.cancelKnown[id] }
func (f *fakeEngine) Status() []scheduler.GroupStatus      { return f.groups }

type fakeSessions struct{}

func (fakeSessions) Register(id string, pid int32, hasPID bool) (string, int) { return "sess1", 1 }
func (fakeSessions) Unregister(id string) (string, int, bool)                 { return "sess1", 0, true }
func (fakeSessions) Count() int                                               { return 0 }
func (fakeSessions) Snapshot() map[string]session.SessionView                 { return map[string]session.SessionView{} }

type fakeShutdowner struct{ called atomic.Bool }

func (f *fakeShutdowner) RequestShutdown() { f.called.Store(true) }

func startTestServer(t *testing.T, engine *fakeEngine) (net.Addr, *Server, func() bool) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	lis, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	var running atomic.Bool
	running.Store(true)

	srv := New(lis, engine, fakeSessions{}, &fakeShutdowner{}, WithConnTimeout(2*time.Second), WithAcceptPoll(50*time.Millisecond))
	go srv.Serve(running.Load)
	t.Cleanup(func() { running.Store(false); lis.Close() })

	return lis.Addr(), srv, running.Load
}

func sendRaw(t *testing.T, addr net.Addr, payload []byte) []byte {
	t.Helper()
	conn, err := net.Dial(addr.Network(), addr.String())
	require.NoError(t, err)
	defer conn.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	_, err = conn.Write(append(lenBuf[:], payload...))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	respLen := make([]byte, 4)
	n, err := conn.Read(respLen)
	if err != nil || n < 4 {
		return nil
	}
	size := binary.BigEndian.Uint32(respLen)
	body := make([]byte, size)
	_, err = conn.Read(body)
	if err != nil {
		return nil
	}
	return body
}

func sendCommand(t *testing.T, addr net.Addr, req Request) map[string]any {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp := sendRaw(t, addr, body)
	require.NotNil(t, resp, "expected a response, connection may have been closed")

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp, &out))
	return out
}

func TestAddRequiresFields(t *testing.T) {
	addr, _, _ := startTestServer(t, &fakeEngine{})
	resp := sendCommand(t, addr, Request{Command: CommandAdd})
	assert.Equal(t, "error", resp["status"])
}

func TestAddSuccess(t *testing.T) {
	engine := &fakeEngine{}
	addr, _, _ := startTestServer(t, engine)
	resp := sendCommand(t, addr, Request{Command: CommandAdd, EscalationID: "id1", Message: "hi"})
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "id1", resp["escalation_id"])
	assert.Equal(t, []string{"id1"}, engine.addCalls)
}

func TestCancelUnknownReturnsFalse(t *testing.T) {
	engine := &fakeEngine{cancelKnown: map[string]bool{}}
	addr, _, _ := startTestServer(t, engine)
	resp := sendCommand(t, addr, Request{Command: CommandCancel, EscalationID: "nope"})
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["cancelled"])
}

func TestUnknownCommand(t *testing.T) {
	addr, _, _ := startTestServer(t, &fakeEngine{})
	resp := sendCommand(t, addr, Request{Command: "bogus"})
	assert.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["message"], "unknown command")
}

func TestOversizeFramingClosesWithoutReply(t *testing.T) {
	addr, _, _ := startTestServer(t, &fakeEngine{})

	conn, err := net.Dial(addr.Network(), addr.String())
	require.NoError(t, err)
	defer conn.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 2_000_000)
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	assert.Error(t, err, "server should close without replying to an oversize frame")

	// The daemon should remain healthy and serve a subsequent status RPC.
	resp := sendCommand(t, addr, Request{Command: CommandStatus})
	assert.Equal(t, "ok", resp["status"])
}

func TestShutdownInvokesShutdowner(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	lis, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	var running atomic.Bool
	running.Store(true)

	shutdowner := &fakeShutdowner{}
	srv := New(lis, &fakeEngine{}, fakeSessions{}, shutdowner, WithAcceptPoll(50*time.Millisecond))
	go srv.Serve(running.Load)
	defer func() { running.Store(false); lis.Close() }()

	resp := sendCommand(t, lis.Addr(), Request{Command: CommandShutdown})
	assert.Equal(t, "ok", resp["status"])
	assert.True(t, shutdowner.called.Load())
}
