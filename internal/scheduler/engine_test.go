package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmyuuu/escalationd/internal/notifier"
)

type fakeSink struct {
	fired chan fireCall
}

type fireCall struct {
	title, message string
	priority       int
}

func newFakeSink() *fakeSink { return &fakeSink{fired: make(chan fireCall, 16)} }

func (f *fakeSink) Fire(_ context.Context, title, message string, priority int) notifier.Outcome {
	f.fired <- fireCall{title, message, priority}
	return notifier.OutcomeOK
}

func newTestEngine(t *testing.T, clock clockwork.Clock, sink Sink) *Engine {
	t.Helper()
	e := New(WithClock(clock), WithSink(sink))
	e.Start()
	t.Cleanup(func() { _ = e.Shutdown(time.Second) })
	return e
}

func TestAddThenStatusImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(t, clock, newFakeSink())

	e.Add("id1", "hello", []int{60, 3600})
	clock.BlockUntil(1)

	st := e.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "id1", st[0].EscalationID)
	assert.Equal(t, 2, st[0].PendingCount)
	assert.LessOrEqual(t, st[0].NextFireIn, 60*time.Second)
}

func TestCancelUnknownID(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(t, clock, newFakeSink())
	assert.False(t, e.Cancel("nope"))
}

func TestCancelKnownID(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(t, clock, newFakeSink())
	e.Add("id1", "hi", []int{60})
	clock.BlockUntil(1)
	assert.True(t, e.Cancel("id1"))
	assert.Empty(t, e.Status())
}

func TestAddEmptyDelaysCreatesNoEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(t, clock, newFakeSink())
	e.Add("id1", "hi", nil)
	assert.Empty(t, e.Status())
}

func TestReplaceGroup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(t, clock, newFakeSink())

	e.Add("X", "m1", []int{10, 3600})
	clock.BlockUntil(1)
	e.Add("X", "m2", []int{10, 3600})
	clock.BlockUntil(1)

	st := e.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "m2", st[0].Message)
	assert.Equal(t, 2, st[0].PendingCount)
}

func TestEventFiresAtDeadlineWithMappedPriority(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := newFakeSink()
	e := newTestEngine(t, clock, sink)

	e.Add("S2", "hi", []int{60, 3600})
	clock.BlockUntil(1)

	clock.Advance(60 * time.Second)
	call := <-sink.fired
	assert.Equal(t, "Claude Permission", call.title)
	assert.Equal(t, 0, call.priority)

	clock.BlockUntil(1)
	clock.Advance(3540 * time.Second)
	call = <-sink.fired
	assert.Equal(t, "Claude Permission (1hr)", call.title)
	assert.Equal(t, 2, call.priority)
}

func TestCancelBeforeFireSuppressesNotification(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := newFakeSink()
	e := newTestEngine(t, clock, sink)

	e.Add("S1", "Bash ok?", []int{60, 3600})
	clock.BlockUntil(1)
	assert.True(t, e.Cancel("S1"))

	clock.Advance(4000 * time.Second)

	select {
	case <-sink.fired:
		t.Fatal("notifier should not have fired after cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusySuppressesFire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := newFakeSink()
	sessions := stubSessions{"S3": 4242}
	prober := stubProber{busy: true}

	e := New(WithClock(clock), WithSink(sink), WithSessionLookup(sessions), WithBusyChecker(prober))
	e.Start()
	defer e.Shutdown(time.Second)

	e.Add("S3", "m", []int{1})
	clock.BlockUntil(1)
	clock.Advance(1 * time.Second)

	select {
	case <-sink.fired:
		t.Fatal("notifier should have been suppressed while busy")
	case <-time.After(50 * time.Millisecond):
	}
}

type stubSessions map[string]int32

func (s stubSessions) PID(id string) (int32, bool) {
	pid, ok := s[id]
	return pid, ok
}

type stubProber struct{ busy bool }

func (p stubProber) Busy(context.Context, int32) bool { return p.busy }
