package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"github.com/hmyuuu/escalationd/internal/client"
)

// readyPollInterval and readyPollAttempts bound how long StartIfNeeded
// waits for a freshly spawned daemon to start accepting connections:
// ~2s total in 100ms steps.
const (
	readyPollInterval = 100 * time.Millisecond
	readyPollAttempts = 20
)

var errNotReadyYet = errors.New("escalationd: daemon not accepting connections yet")

// StartIfNeeded implements the client-side "start if needed" protocol:
// probe the socket, and if nothing answers, acquire an exclusive
// non-blocking advisory lock on lockPath before spawning the daemon. A
// contended lock means another process is already spawning it, so this
// caller waits briefly and re-probes instead of racing to spawn its own
// copy. Returns whether the daemon is reachable when it returns.
func StartIfNeeded(ctx context.Context, socketPath, lockPath, daemonPath string, daemonArgs []string) (bool, error) {
	cl := client.New(socketPath)
	if cl.IsRunning(ctx) {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return false, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring start lock: %w", err)
	}
	if !locked {
		time.Sleep(1 * time.Second)
		return cl.IsRunning(ctx), nil
	}
	defer fl.Unlock()

	// Double-check after acquiring the lock: another process may have
	// finished starting the daemon between our first probe and the lock.
	if cl.IsRunning(ctx) {
		return true, nil
	}

	if err := spawnDetached(daemonPath, daemonArgs); err != nil {
		return false, fmt.Errorf("spawning daemon: %w", err)
	}

	return pollUntilReady(ctx, cl), nil
}

// spawnDetached starts the daemon binary in a new session, fully detached
// from this process's stdio so it survives the caller's exit.
func spawnDetached(daemonPath string, args []string) error {
	cmd := exec.Command(daemonPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setDetached(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// pollUntilReady polls the socket every readyPollInterval for up to
// readyPollAttempts tries (~2s), giving a freshly spawned daemon time to
// bind before the caller's first real RPC.
func pollUntilReady(ctx context.Context, cl *client.Client) bool {
	ready := false
	op := func() error {
		if cl.IsRunning(ctx) {
			ready = true
			return nil
		}
		return errNotReadyYet
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(readyPollInterval), readyPollAttempts-1)
	_ = backoff.Retry(op, backoff.WithContext(b, ctx))
	return ready
}
