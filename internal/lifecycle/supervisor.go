// Package lifecycle implements the daemon-side supervisor (startup and
// shutdown sequencing) and the client-side "start if needed" protocol used
// by hook scripts before their first RPC.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hmyuuu/escalationd/internal/client"
	"github.com/hmyuuu/escalationd/internal/rpc"
	"github.com/hmyuuu/escalationd/internal/session"
)

// ErrAlreadyRunning is returned by Run when another instance already holds
// a live connection on the configured socket.
var ErrAlreadyRunning = errors.New("escalationd: another instance is already bound to the socket")

// ErrStaleSocket is returned by Run when the socket path exists but is not
// a socket file — a condition the supervisor refuses to resolve on the
// caller's behalf.
var ErrStaleSocket = errors.New("escalationd: socket path exists and is not a socket file")

// Engine is everything the supervisor and the RPC server each need from the
// timer engine; satisfied by *scheduler.Engine.
type Engine interface {
	rpc.Engine
	Start()
	Shutdown(timeout time.Duration) error
}

// Sessions is everything the supervisor and the RPC server each need from
// the session registry; satisfied by *session.Registry.
type Sessions interface {
	rpc.Sessions
	Run(ctx context.Context, interval time.Duration, prober SweepProber)
}

// SweepProber is the liveness check the sweeper uses; satisfied by
// *liveness.Prober. Aliased so *session.Registry's Run signature matches
// the Sessions interface above.
type SweepProber = session.Prober

// Deps assembles everything the supervisor wires together: the bound
// socket's path, the timer engine, the session registry and its prober,
// and the RPC server's tunables.
type Deps struct {
	SocketPath        string
	Engine            Engine
	Sessions          Sessions
	Prober            SweepProber
	PIDCheckInterval  time.Duration
	ConnTimeout       time.Duration
	AcceptPoll        time.Duration
	EngineJoinTimeout time.Duration
	Logger            *slog.Logger
}

// Supervisor owns the daemon's lifecycle: socket acquisition with
// stale-file resolution, bind/chmod/listen, starting the sweeper and
// scheduler, signal handling, and orderly shutdown.
type Supervisor struct {
	deps    Deps
	running atomic.Bool
}

// New builds a Supervisor. Call Run to execute the full startup sequence
// and block until shutdown.
func New(deps Deps) *Supervisor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PIDCheckInterval == 0 {
		deps.PIDCheckInterval = 60 * time.Second
	}
	if deps.ConnTimeout == 0 {
		deps.ConnTimeout = 30 * time.Second
	}
	if deps.AcceptPoll == 0 {
		deps.AcceptPoll = 1 * time.Second
	}
	if deps.EngineJoinTimeout == 0 {
		deps.EngineJoinTimeout = 5 * time.Second
	}
	return &Supervisor{deps: deps}
}

// RequestShutdown clears the running flag; the accept loop notices on its
// next poll and the supervisor performs cleanup. Satisfies rpc.Shutdowner.
func (s *Supervisor) RequestShutdown() {
	s.running.Store(false)
}

// isRunning reports the current value of the running flag, passed to
// rpc.Server.Serve so the accept loop re-checks it on every poll timeout.
func (s *Supervisor) isRunning() bool {
	return s.running.Load()
}

// Run executes the full startup sequence and blocks in the accept loop
// until the running flag clears, then tears everything down in order:
// engine shutdown, listener close, socket unlink.
func (s *Supervisor) Run(ctx context.Context) error {
	d := s.deps

	if err := os.MkdirAll(filepath.Dir(d.SocketPath), 0o700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	if err := s.resolveStaleSocket(ctx); err != nil {
		return err
	}

	d.Engine.Start()

	listener, err := net.Listen("unix", d.SocketPath)
	if err != nil {
		return fmt.Errorf("binding socket: %w", err)
	}
	if err := os.Chmod(d.SocketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go d.Sessions.Run(sweepCtx, d.PIDCheckInterval, d.Prober)

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stopSignals()
	go func() {
		<-sigCtx.Done()
		d.Logger.Info("received shutdown signal")
		s.RequestShutdown()
	}()

	s.running.Store(true)
	d.Logger.Info("escalationd listening", "socket", d.SocketPath)

	server := rpc.New(listener, d.Engine, d.Sessions, s,
		rpc.WithLogger(d.Logger),
		rpc.WithConnTimeout(d.ConnTimeout),
		rpc.WithAcceptPoll(d.AcceptPoll),
	)
	server.Serve(s.isRunning)

	d.Logger.Info("accept loop exited, shutting down")
	stopSweep()
	if err := d.Engine.Shutdown(d.EngineJoinTimeout); err != nil {
		d.Logger.Error("scheduler shutdown did not complete cleanly", "error", err)
	}
	listener.Close()
	if err := unix.Unlink(d.SocketPath); err != nil && !errors.Is(err, unix.ENOENT) {
		d.Logger.Error("failed to unlink socket", "error", err)
	}
	return nil
}

// resolveStaleSocket decides what to do with a pre-existing socket path: if
// it is not a socket file, fail fatally. Otherwise attempt a short connect; a
// successful connect means another instance is live (fail fatally), while
// a refused connection means the file is stale and can be unlinked.
func (s *Supervisor) resolveStaleSocket(ctx context.Context) error {
	info, err := os.Stat(s.deps.SocketPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket path: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%w: %s", ErrStaleSocket, s.deps.SocketPath)
	}

	probe := client.New(s.deps.SocketPath, client.WithDialTimeout(1*time.Second))
	if probe.IsRunning(ctx) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.deps.SocketPath)
	}

	s.deps.Logger.Info("removing stale socket file", "socket", s.deps.SocketPath)
	if err := os.Remove(s.deps.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}
