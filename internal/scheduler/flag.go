package scheduler

import "sync/atomic"

// cancelFlag is a lock-free boolean so an event's cancellation can be
// observed without holding the engine mutex. A cancel and a concurrent pop
// may interleave such that the event still fires.
type cancelFlag struct {
	v atomic.Bool
}

func (f *cancelFlag) Store(b bool) { f.v.Store(b) }
func (f *cancelFlag) Load() bool   { return f.v.Load() }
