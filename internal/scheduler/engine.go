// Package scheduler implements the daemon's timer engine: a min-heap of
// scheduled events driven by a single dedicated goroutine, guarded by a
// mutex and condition variable. Cancellation never mutates heap structure;
// it flips a flag on the event and drops an escalation_id index entry,
// reclaimed lazily when the scheduler next pops that entry.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hmyuuu/escalationd/internal/metrics"
	"github.com/hmyuuu/escalationd/internal/notifier"
)

// Π: the default delay→priority mapping.
const (
	delayShort    = 60
	delayLong     = 3600
	priorityLong  = 2
	priorityShort = 0
)

// SessionLookup resolves an escalation id to the PID tracked for it, for
// busy-suppression. The daemon wires this to the session registry.
type SessionLookup interface {
	PID(id string) (pid int32, ok bool)
}

// BusyChecker answers whether a pid's process looks actively engaged.
type BusyChecker interface {
	Busy(ctx context.Context, pid int32) bool
}

// Sink delivers a single notification.
type Sink interface {
	Fire(ctx context.Context, title, message string, priority int) notifier.Outcome
}

// GroupStatus summarizes one live escalation group.
type GroupStatus struct {
	EscalationID string
	Message      string
	PendingCount int
	NextFireIn   time.Duration
}

// Engine is the daemon's single-scheduler timer engine.
type Engine struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    eventHeap
	byID    map[string][]*ScheduledEvent
	seq     int64
	running bool
	doneCh  chan struct{}

	clock    clockwork.Clock
	sessions SessionLookup
	prober   BusyChecker
	sink     Sink
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source; tests use a fake clock for
// deterministic scheduling assertions.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSessionLookup wires the session registry used to resolve an
// escalation id to a pid for busy-suppression.
func WithSessionLookup(s SessionLookup) Option {
	return func(e *Engine) { e.sessions = s }
}

// WithBusyChecker wires the liveness prober used for busy-suppression.
func WithBusyChecker(b BusyChecker) Option {
	return func(e *Engine) { e.prober = b }
}

// WithSink wires the notification sink invoked on fire.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an Engine. Call Start to launch its scheduler goroutine.
func New(opts ...Option) *Engine {
	e := &Engine{
		byID:   make(map[string][]*ScheduledEvent),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
		doneCh: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, o := range opts {
		o(e)
	}
	return e
}

// priorityForDelay implements Π, the configured delay→priority mapping.
func priorityForDelay(d int) int {
	switch d {
	case delayShort:
		return priorityShort
	case delayLong:
		return priorityLong
	default:
		return 0
	}
}

// Start launches the dedicated scheduler goroutine.
func (e *Engine) Start() {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	go e.run()
}

// Add arms one ScheduledEvent per delay (in seconds) for id. If a group
// already exists for id, its events are cancelled and its index entry
// dropped before the new group is installed, atomically with respect to
// concurrent Cancel/Add calls on the same id.
func (e *Engine) Add(id, message string, delays []int) {
	if len(delays) == 0 {
		return
	}

	e.mu.Lock()
	if prior, ok := e.byID[id]; ok {
		for _, ev := range prior {
			ev.cancelled.Store(true)
		}
		delete(e.byID, id)
	}

	now := e.clock.Now()
	group := make([]*ScheduledEvent, 0, len(delays))
	for _, d := range delays {
		e.seq++
		ev := &ScheduledEvent{
			seq:          e.seq,
			fireTime:     now.Add(time.Duration(d) * time.Second),
			escalationID: id,
			message:      message,
			priority:     priorityForDelay(d),
		}
		heap.Push(&e.heap, ev)
		group = append(group, ev)
	}
	e.byID[id] = group
	e.mu.Unlock()

	metrics.EventsScheduledTotal.Add(float64(len(group)))

	e.cond.Broadcast()
}

// Cancel flags every event of id's group cancelled and drops the index
// entry. Reports whether a group existed.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	group, ok := e.byID[id]
	if ok {
		for _, ev := range group {
			ev.cancelled.Store(true)
		}
		delete(e.byID, id)
	}
	e.mu.Unlock()

	if ok {
		e.cond.Broadcast()
	}
	return ok
}

// Status returns one summary per live group: not cancelled and still
// present in the heap by identity.
func (e *Engine) Status() []GroupStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	out := make([]GroupStatus, 0, len(e.byID))
	for id, group := range e.byID {
		var (
			pending int
			minFire time.Time
			message string
		)
		for _, ev := range group {
			if ev.cancelled.Load() || !ev.inHeap() {
				continue
			}
			pending++
			if minFire.IsZero() || ev.fireTime.Before(minFire) {
				minFire = ev.fireTime
			}
			message = ev.message
		}
		if pending == 0 {
			continue
		}
		nextIn := minFire.Sub(now)
		if nextIn < 0 {
			nextIn = 0
		}
		out = append(out, GroupStatus{
			EscalationID: id,
			Message:      message,
			PendingCount: pending,
			NextFireIn:   nextIn,
		})
	}
	return out
}

// Shutdown sets the stop flag, wakes the scheduler, and waits up to timeout
// for it to exit.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.cond.Broadcast()

	select {
	case <-e.doneCh:
		return nil
	case <-e.clock.After(timeout):
		return ErrShutdownTimeout
	}
}

// run is the scheduler's single dedicated goroutine.
func (e *Engine) run() {
	defer close(e.doneCh)

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		for e.heap.Len() > 0 && e.heap[0].cancelled.Load() {
			heap.Pop(&e.heap)
		}

		if !e.running {
			return
		}

		if e.heap.Len() == 0 {
			e.cond.Wait()
			continue
		}

		now := e.clock.Now()
		wait := e.heap[0].fireTime.Sub(now)
		if wait > 0 {
			timer := e.clock.AfterFunc(wait, func() {
				e.mu.Lock()
				e.cond.Broadcast()
				e.mu.Unlock()
			})
			e.cond.Wait()
			timer.Stop()
			continue
		}

		ev := heap.Pop(&e.heap).(*ScheduledEvent)
		e.mu.Unlock()
		e.dispatch(ev)
		e.mu.Lock()

		e.finishGroup(ev.escalationID)
	}
}

// dispatch runs outside the engine mutex: consults busy-suppression, then
// the sink. The cancelled check happens after the mutex was released, so a
// cancel racing with the pop may still see the event fire.
func (e *Engine) dispatch(ev *ScheduledEvent) {
	if ev.cancelled.Load() {
		return
	}

	ctx := context.Background()
	if e.busy(ctx, ev.escalationID) {
		e.logger.Info("session busy, suppressing notification", "escalation_id", ev.escalationID)
		metrics.EventsSuppressedTotal.Inc()
		return
	}

	if e.sink == nil {
		return
	}
	title := notifier.TitleForPriority(ev.priority)
	outcome := e.sink.Fire(ctx, title, ev.message, ev.priority)
	metrics.EventsFiredTotal.WithLabelValues(string(outcome)).Inc()
	e.logger.Info("notification fired", "escalation_id", ev.escalationID, "priority", ev.priority, "outcome", outcome)
}

func (e *Engine) busy(ctx context.Context, id string) bool {
	if e.sessions == nil || e.prober == nil {
		return false
	}
	pid, ok := e.sessions.PID(id)
	if !ok {
		return false
	}
	return e.prober.Busy(ctx, pid)
}

// finishGroup drops id's index entry once every remaining event in its
// group has either fired (left the heap) or been cancelled. Must be called
// with e.mu held.
func (e *Engine) finishGroup(id string) {
	group, ok := e.byID[id]
	if !ok {
		return
	}
	for _, ev := range group {
		if ev.inHeap() {
			return
		}
	}
	delete(e.byID, id)
}
