// Package queue implements the bounded in-memory order-event queue and
// the worker pool that drains it.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

// Queue is a bounded buffered order-event queue with a background broker.
// Enqueue rejects when the queue is full so the webhook handler can tell
// the sender to retry later instead of buffering without limit.
type Queue struct {
	mu           sync.Mutex
	backlog      []model.OrderEvent
	capacity     int
	notify       chan struct{}
	out          chan model.OrderEvent
	shuttingDown atomic.Bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
}

// New creates a Queue holding at most capacity pending events.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	outBuffer := capacity / 4
	if outBuffer < 1 {
		outBuffer = 1
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		out:      make(chan model.OrderEvent, outBuffer),
	}
}

// Start runs the broker loop.
func (q *Queue) Start(ctx context.Context) {
	go q.broker(ctx)
}

// broker moves backlog items to the output channel.
func (q *Queue) broker(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.flushOnce()
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// flushOnce drains backlog into the output buffer.
func (q *Queue) flushOnce() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.backlog) > 0 && len(q.out) < cap(q.out) {
		item := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.out <- item
	}
}

// Enqueue appends an event and notifies the broker. It returns false when
// intake is closed or the queue is at capacity.
func (q *Queue) Enqueue(ev model.OrderEvent) bool {
	if q.shuttingDown.Load() {
		return false
	}
	q.mu.Lock()
	if len(q.backlog)+len(q.out) >= q.capacity {
		q.mu.Unlock()
		obs.Logger.Warn("queue_full", "capacity", q.capacity, "order", ev.OrderName)
		return false
	}
	q.backlog = append(q.backlog, ev)
	q.mu.Unlock()
	q.enqueued.Add(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Out exposes the output channel of events.
func (q *Queue) Out() <-chan model.OrderEvent { return q.out }

// BacklogSize returns the number of enqueued-but-not-yet-output events.
func (q *Queue) BacklogSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Depth returns backlog plus buffered output items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	bl := len(q.backlog)
	q.mu.Unlock()
	return bl + len(q.out)
}

// MarkProcessed increases the processed counter.
func (q *Queue) MarkProcessed() { q.processed.Add(1) }

// Metrics returns counters and sizes for observability.
func (q *Queue) Metrics() (enq, proc uint64, backlog, depth int) {
	enq = q.enqueued.Load()
	proc = q.processed.Load()
	backlog = q.BacklogSize()
	depth = q.Depth()
	return enq, proc, backlog, depth
}

// CloseIntake disallows future enqueues.
func (q *Queue) CloseIntake() { q.shuttingDown.Store(true) }

// IsShuttingDown reports if intake has been closed.
func (q *Queue) IsShuttingDown() bool { return q.shuttingDown.Load() }
