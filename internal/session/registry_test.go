package session

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	alive map[int32]bool
}

func (p stubProber) AliveForSweep(pid int32) bool { return p.alive[pid] }

func TestRegisterSynthesizesID(t *testing.T) {
	r := New()
	id, count := r.Register("", 0, false)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, count)
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := New()
	id, _ := r.Register("fixed", 100, true)
	_, count := r.Register(id, 200, true)
	assert.Equal(t, 1, count)
	pid, ok := r.PID(id)
	require.True(t, ok)
	assert.Equal(t, int32(200), pid)
}

func TestUnregisterByID(t *testing.T) {
	r := New()
	id, _ := r.Register("s1", 1, true)
	removed, count, shuttingDown := r.Unregister(id)
	assert.Equal(t, id, removed)
	assert.Equal(t, 0, count)
	assert.True(t, shuttingDown)
}

func TestUnregisterUnknownIsIdempotent(t *testing.T) {
	r := New()
	removed, count, shuttingDown := r.Unregister("nope")
	assert.Empty(t, removed)
	assert.Equal(t, 0, count)
	assert.False(t, shuttingDown)
}

func TestUnregisterOldestWhenIDAbsent(t *testing.T) {
	r := New()
	first, _ := r.Register("", 0, false)
	r.Register("", 0, false)

	removed, count, shuttingDown := r.Unregister("")
	assert.Equal(t, first, removed)
	assert.Equal(t, 1, count)
	assert.False(t, shuttingDown)
}

func TestOnEmptyFiresWhenCountDropsToZero(t *testing.T) {
	var fired bool
	r := New(WithOnEmpty(func() { fired = true }))
	id, _ := r.Register("s1", 1, true)
	r.Unregister(id)
	assert.True(t, fired)
}

func TestSweepPrunesDeadSessionAndSignalsShutdown(t *testing.T) {
	var fired bool
	clock := clockwork.NewFakeClock()
	r := New(WithClock(clock), WithOnEmpty(func() { fired = true }))
	r.Register("s1", 999, true)

	r.Sweep(context.Background(), stubProber{alive: map[int32]bool{}})

	assert.Equal(t, 0, r.Count())
	assert.True(t, fired)
}

func TestSweepKeepsAliveSessions(t *testing.T) {
	r := New()
	r.Register("s1", 1, true)
	r.Sweep(context.Background(), stubProber{alive: map[int32]bool{1: true}})
	assert.Equal(t, 1, r.Count())
}

func TestSweepWithNoRemovalsDoesNotSignal(t *testing.T) {
	var fired bool
	r := New(WithOnEmpty(func() { fired = true }))
	r.Sweep(context.Background(), stubProber{alive: map[int32]bool{}})
	assert.False(t, fired)
}
