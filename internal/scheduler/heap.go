package scheduler

import "time"

// ScheduledEvent is a single armed notification within an escalation group.
// Ordering is by FireTime only; EscalationID and Message play no part in
// heap order. Cancelled is inspected by identity (this pointer), not by
// value, matching the daemon's lazy-cancellation design.
type ScheduledEvent struct {
	seq          int64
	fireTime     time.Time
	escalationID string
	message      string
	priority     int
	cancelled    cancelFlag

	heapIndex int // -1 once popped from the heap
}

// FireTime returns the event's scheduled fire time.
func (e *ScheduledEvent) FireTime() time.Time { return e.fireTime }

// EscalationID returns the owning group's id.
func (e *ScheduledEvent) EscalationID() string { return e.escalationID }

// IsCancelled reports whether the event has been flagged cancelled.
func (e *ScheduledEvent) IsCancelled() bool { return e.cancelled.Load() }

// inHeap reports whether the event is still present in the heap (identity
// membership), as opposed to having already been popped.
func (e *ScheduledEvent) inHeap() bool { return e.heapIndex >= 0 }

// eventHeap is a container/heap.Interface min-heap ordered by FireTime.
type eventHeap []*ScheduledEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool { return h[i].fireTime.Before(h[j].fireTime) }

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*ScheduledEvent)
	ev.heapIndex = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIndex = -1
	*h = old[:n-1]
	return ev
}
