package hub

import (
	"sync"

	"github.com/jpereira/stockstream/internal/model"
)

// EventKind discriminates the events delivered to a connection.
type EventKind int

const (
	// EventTick is a live price update.
	EventTick EventKind = iota
	// EventSnapshot is the one-shot cached price sent on subscribe.
	EventSnapshot
)

// Event is a single outbound delivery for one connection.
type Event struct {
	Kind EventKind
	Tick model.Tick
}

// Queue is the bounded outbound queue owned by a single client connection.
// Push never blocks: when full, the oldest event is discarded and counted,
// so a slow consumer only loses its own stale samples. Pop blocks until an
// event arrives or the queue is closed.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf      []Event
	head     int
	count    int
	capacity int
	closed   bool

	pushed  int64
	popped  int64
	dropped int64
}

// NewQueue creates a queue with the given fixed capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		buf:      make([]Event, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues an event, evicting the oldest entry when full.
// Pushing to a closed queue is a no-op.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if q.count == q.capacity {
		// Latest-value-wins: a tick is a point sample, not an event log.
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
	}

	q.buf[(q.head+q.count)%q.capacity] = ev
	q.count++
	q.pushed++

	q.cond.Signal()
}

// Pop removes and returns the oldest event. It blocks until an event is
// available or the queue is closed; ok is false once the queue is closed
// and drained.
func (q *Queue) Pop() (ev Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		return Event{}, false
	}

	ev = q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.popped++

	return ev, true
}

// TryPop removes and returns the oldest event without blocking.
func (q *Queue) TryPop() (ev Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Event{}, false
	}

	ev = q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.popped++

	return ev, true
}

// Close wakes all blocked consumers. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many events were evicted by overflow.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// QueueStats contains counters for one connection's queue.
type QueueStats struct {
	Len     int
	Pushed  int64
	Popped  int64
	Dropped int64
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:     q.count,
		Pushed:  q.pushed,
		Popped:  q.popped,
		Dropped: q.dropped,
	}
}
