package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer accepts one connection, reads one frame, and replies with the
// given response (or, if reply is nil, closes without replying).
func echoServer(t *testing.T, sockPath string, reply map[string]any) {
	t.Helper()
	lis, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var lenBuf [4]byte
		if _, err := conn.Read(lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := conn.Read(buf); err != nil {
			return
		}

		if reply == nil {
			return
		}
		body, _ := json.Marshal(reply)
		var out [4]byte
		binary.BigEndian.PutUint32(out[:], uint32(len(body)))
		conn.Write(append(out[:], body...))
	}()
}

func TestIsRunningFalseWhenSocketAbsent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent.sock"), WithDialTimeout(200*time.Millisecond))
	assert.False(t, c.IsRunning(context.Background()))
}

func TestIsRunningTrueWhenListening(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "live.sock")
	echoServer(t, sockPath, map[string]any{"status": "ok"})

	c := New(sockPath)
	assert.True(t, c.IsRunning(context.Background()))
}

func TestAddRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "add.sock")
	echoServer(t, sockPath, map[string]any{"status": "ok", "escalation_id": "s1"})

	c := New(sockPath)
	resp, err := c.Add(context.Background(), "s1", "hi", []int{60, 3600})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "s1", resp["escalation_id"])
}

func TestCallReturnsUnreachableWhenSocketAbsent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent.sock"), WithDialTimeout(200*time.Millisecond))
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestCallReturnsUnreachableOnFramingFailure(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "closing.sock")
	echoServer(t, sockPath, nil) // server closes without replying

	c := New(sockPath, WithConnTimeout(500*time.Millisecond))
	_, err := c.Cancel(context.Background(), "id1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestShutdownRequest(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shutdown.sock")
	echoServer(t, sockPath, map[string]any{"status": "ok", "message": "shutting down"})

	c := New(sockPath)
	resp, err := c.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shutting down", resp["message"])
}
