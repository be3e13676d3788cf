// Package liveness answers two questions about an external process tracked
// by the daemon: is it still alive, and does it look busy enough that a
// notification should be suppressed. Both checks degrade gracefully when
// process introspection is unavailable.
package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/shirou/gopsutil/v4/process"
)

// Prober exposes alive/busy checks over OS-level process introspection,
// memoizing the (comparatively expensive) busy sample for a short window so
// repeated Busy calls for the same pid within that window don't resample
// CPU%.
type Prober struct {
	sampleWindow time.Duration
	cpuThreshold float64
	busyCache    *ttlcache.Cache[int32, bool]
	logger       *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithSampleWindow overrides the CPU% sampling window used by Busy.
func WithSampleWindow(d time.Duration) Option {
	return func(p *Prober) { p.sampleWindow = d }
}

// WithCPUThreshold overrides the CPU% above which a session is busy.
func WithCPUThreshold(pct float64) Option {
	return func(p *Prober) { p.cpuThreshold = pct }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New builds a Prober with a 500ms busy-result cache, matching the sample
// window so a repeat probe within the window doesn't resample.
func New(opts ...Option) *Prober {
	p := &Prober{
		sampleWindow: 500 * time.Millisecond,
		cpuThreshold: 10.0,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.busyCache = ttlcache.New[int32, bool](
		ttlcache.WithTTL[int32, bool](p.sampleWindow),
	)
	go p.busyCache.Start()
	return p
}

// Close stops the cache's background janitor.
func (p *Prober) Close() {
	p.busyCache.Stop()
}

// Alive reports whether pid is signalable by the daemon's uid. A
// zombie or permission-denied probe is treated as "alive unknown → alive"
// here; the sweeper uses AliveForSweep for the opposite (fail-dead) policy.
func (p *Prober) Alive(pid int32) bool {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil {
		// Permission denied or introspection failure: fail open to "alive".
		return true
	}
	return running
}

// AliveForSweep reports liveness for the session sweeper, where an
// introspection failure is treated as "dead" so stale entries don't pin the
// registry open forever.
func (p *Prober) AliveForSweep(pid int32) bool {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil {
		return false
	}
	return running
}

// Busy reports whether pid's process looks actively engaged: CPU% sampled
// over the configured window exceeds the threshold, or it has at least one
// descendant process. When introspection is unavailable it fails open
// (false) so notifications are never silently suppressed by accident.
func (p *Prober) Busy(ctx context.Context, pid int32) bool {
	if item := p.busyCache.Get(pid); item != nil {
		return item.Value()
	}

	busy := p.sample(ctx, pid)
	p.busyCache.Set(pid, busy, p.sampleWindow)
	return busy
}

func (p *Prober) sample(ctx context.Context, pid int32) bool {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false
	}

	if len(descendants(ctx, proc)) > 0 {
		return true
	}

	pct, err := cpuPercentOverWindow(ctx, proc, p.sampleWindow)
	if err != nil {
		p.logger.Debug("busy probe: cpu introspection unavailable", "pid", pid, "error", err)
		return false
	}
	return pct > p.cpuThreshold
}

// descendants walks the process tree below proc level by level, so a
// grandchild (a shell spawning a subprocess spawning the actual tool) counts
// the same as a direct child. Per-process introspection errors skip that
// branch; the seen set guards against pid-reuse cycles.
func descendants(ctx context.Context, proc *process.Process) []*process.Process {
	var out []*process.Process
	queue := []*process.Process{proc}
	seen := map[int32]bool{proc.Pid: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := cur.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

func cpuPercentOverWindow(ctx context.Context, proc *process.Process, window time.Duration) (float64, error) {
	before, err := proc.TimesWithContext(ctx)
	if err != nil {
		return 0, err
	}
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}
	after, err := proc.TimesWithContext(ctx)
	if err != nil {
		return 0, err
	}
	delta := (after.User + after.System) - (before.User + before.System)
	return (delta / window.Seconds()) * 100.0, nil
}
