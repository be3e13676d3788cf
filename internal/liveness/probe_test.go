package liveness

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliveSelf(t *testing.T) {
	p := New()
	defer p.Close()
	assert.True(t, p.Alive(int32(os.Getpid())))
}

func TestAliveUnknownPIDReportsNotAlive(t *testing.T) {
	p := New()
	defer p.Close()
	// A pid that almost certainly doesn't exist on this host.
	assert.False(t, p.Alive(int32(1<<30)))
}

func TestAliveForSweepDeadPID(t *testing.T) {
	p := New()
	defer p.Close()
	assert.False(t, p.AliveForSweep(int32(1<<30)))
}

func TestBusyWithChildProcess(t *testing.T) {
	cmd := exec.Command("sleep", "2")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	p := New(WithSampleWindow(50 * time.Millisecond))
	defer p.Close()

	assert.True(t, p.Busy(context.Background(), int32(os.Getpid())))
	_ = cmd.Wait()
}

func TestBusyWithGrandchildProcess(t *testing.T) {
	// sh holds the intermediate slot; the backgrounded sleep is a grandchild
	// of this test process, reachable only through the recursive walk.
	cmd := exec.Command("sh", "-c", "sleep 2 & wait")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	p := New(WithSampleWindow(50 * time.Millisecond))
	defer p.Close()

	proc, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(descendants(context.Background(), proc)) >= 2
	}, 2*time.Second, 50*time.Millisecond, "walk should reach the sleep through the intermediate shell")

	assert.True(t, p.Busy(context.Background(), int32(os.Getpid())))
	_ = cmd.Wait()
}

func TestBusyCachesWithinWindow(t *testing.T) {
	p := New(WithSampleWindow(200 * time.Millisecond))
	defer p.Close()

	pid := int32(os.Getpid())
	first := p.Busy(context.Background(), pid)
	second := p.Busy(context.Background(), pid)
	assert.Equal(t, first, second)
}
