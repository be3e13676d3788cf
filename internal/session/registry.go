// Package session implements the daemon's session registry: a map of
// session-id to {pid, registered-at} with a periodic PID sweep that removes
// entries whose process has died, triggering daemon shutdown once the
// registry empties as a result of that sweep.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hmyuuu/escalationd/internal/metrics"
)

// Session is a single tracked external process.
type Session struct {
	ID           string
	PID          int32
	HasPID       bool
	RegisteredAt time.Time

	seq int64 // insertion order, for oldest-first eviction
}

// Prober answers liveness for the sweeper's fail-dead policy.
type Prober interface {
	AliveForSweep(pid int32) bool
}

// Registry tracks sessions and notifies onEmpty whenever the registry
// transitions from non-empty to empty.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*Session
	seq     int64
	clock   clockwork.Clock
	logger  *slog.Logger
	onEmpty func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry's time source.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithOnEmpty registers a callback invoked whenever the registry becomes
// empty. The daemon wires this to clear its running flag.
func WithOnEmpty(f func()) Option {
	return func(r *Registry) { r.onEmpty = f }
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:   make(map[string]*Session),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register inserts or replaces a session. If sessionID is empty, a random
// UUID is used as the id; synthesized ids carry no ordering (insertion order
// is kept separately in seq). Returns the effective id and the resulting
// session count.
func (r *Registry) Register(sessionID string, pid int32, hasPID bool) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	r.byID[sessionID] = &Session{
		ID:           sessionID,
		PID:          pid,
		HasPID:       hasPID,
		RegisteredAt: r.clock.Now(),
		seq:          r.seq,
	}
	metrics.SessionsActive.Set(float64(len(r.byID)))
	return sessionID, len(r.byID)
}

// Unregister removes sessionID if supplied and present; otherwise it
// removes the oldest registered session by insertion order. Returns the
// removed id (empty if none), the resulting count, and whether the count
// dropped to zero as a result.
func (r *Registry) Unregister(sessionID string) (string, int, bool) {
	r.mu.Lock()
	removedID := r.removeLocked(sessionID)
	count := len(r.byID)
	r.mu.Unlock()
	metrics.SessionsActive.Set(float64(count))

	shuttingDown := removedID != "" && count == 0
	if shuttingDown && r.onEmpty != nil {
		r.onEmpty()
	}
	return removedID, count, shuttingDown
}

// removeLocked must be called with r.mu held. It removes sessionID if
// non-empty and present, else the oldest session, returning the id actually
// removed (empty string if none).
func (r *Registry) removeLocked(sessionID string) string {
	if sessionID != "" {
		if _, ok := r.byID[sessionID]; !ok {
			return ""
		}
		delete(r.byID, sessionID)
		return sessionID
	}

	var oldest *Session
	for _, s := range r.byID {
		if oldest == nil || s.seq < oldest.seq {
			oldest = s
		}
	}
	if oldest == nil {
		return ""
	}
	delete(r.byID, oldest.ID)
	return oldest.ID
}

// PID resolves a session id to its tracked pid, for busy-suppression.
func (r *Registry) PID(sessionID string) (int32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || !s.HasPID {
		return 0, false
	}
	return s.PID, true
}

// SessionView is a read-only snapshot of one session, for status RPCs.
type SessionView struct {
	PID          int32
	HasPID       bool
	RegisteredAt time.Time
	Age          time.Duration
}

// Snapshot returns a copy of every tracked session keyed by id.
func (r *Registry) Snapshot() map[string]SessionView {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make(map[string]SessionView, len(r.byID))
	for id, s := range r.byID {
		out[id] = SessionView{
			PID:          s.PID,
			HasPID:       s.HasPID,
			RegisteredAt: s.RegisteredAt,
			Age:          now.Sub(s.RegisteredAt),
		}
	}
	return out
}

// Count returns the current number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Sweep removes every session whose pid is set and no longer alive per
// prober's fail-dead policy. If the registry becomes empty as a result of
// at least one removal, onEmpty fires.
func (r *Registry) Sweep(_ context.Context, prober Prober) {
	r.mu.Lock()
	var dead []string
	for id, s := range r.byID {
		if !s.HasPID {
			continue
		}
		if !prober.AliveForSweep(s.PID) {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(r.byID, id)
		r.logger.Info("session sweep: pruned dead session", "session_id", id)
	}
	empty := len(r.byID) == 0
	count := len(r.byID)
	r.mu.Unlock()

	if len(dead) > 0 {
		metrics.SessionsSweptTotal.Add(float64(len(dead)))
		metrics.SessionsActive.Set(float64(count))
	}

	if len(dead) > 0 && empty && r.onEmpty != nil {
		r.onEmpty()
	}
}

// Run starts a blocking sweep loop at interval, exiting when ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration, prober Prober) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep(ctx, prober)
		}
	}
}
