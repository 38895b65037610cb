package queue

import (
	"context"
	"sync"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

// Handler processes one dequeued order event.
type Handler func(ctx context.Context, ev model.OrderEvent)

// ScalerConfig bounds the worker pool and tunes its autoscaling.
type ScalerConfig struct {
	Min                     int
	Max                     int
	Initial                 int
	ScaleInterval           time.Duration
	ScaleUpBacklogPerWorker int
	ScaleDownIdleTicks      int
}

// Manager coordinates workers draining the queue into the handler and
// scales the pool with the backlog.
type Manager struct {
	cfg     ScalerConfig
	q       *Queue
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc

	mu            sync.Mutex
	workerCancels []context.CancelFunc
	wg            sync.WaitGroup
}

// NewManager constructs a Manager with the given config, queue, and handler.
func NewManager(cfg ScalerConfig, q *Queue, handler Handler) *Manager {
	return &Manager{cfg: cfg, q: q, handler: handler}
}

// Start begins processing and autoscaling in the background.
func (m *Manager) Start(parent context.Context) {
	m.ctx, m.cancel = context.WithCancel(parent)
	m.q.Start(m.ctx)
	m.addWorkers(m.cfg.Initial)
	if m.cfg.ScaleInterval > 0 {
		go m.scaler()
	}
}

// Stop cancels background routines and waits for workers to return. A
// worker mid-event finishes that event first; only idle waiting is cut.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, c := range m.workerCancels {
		c()
	}
	m.workerCancels = nil
	m.mu.Unlock()
	m.wg.Wait()
}

// scaler adjusts worker count based on backlog and configuration.
func (m *Manager) scaler() {
	t := time.NewTicker(m.cfg.ScaleInterval)
	defer t.Stop()
	idleTicks := 0
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			backlog := m.q.BacklogSize()
			wc := m.WorkerCount()
			if backlog > wc*m.cfg.ScaleUpBacklogPerWorker && wc < m.cfg.Max {
				m.addWorkers(1)
				idleTicks = 0
				continue
			}
			if backlog == 0 {
				idleTicks++
				if idleTicks >= m.cfg.ScaleDownIdleTicks && wc > m.cfg.Min {
					m.removeWorkers(1)
					idleTicks = 0
				}
			} else {
				idleTicks = 0
			}
		}
	}
}

// addWorkers spawns n workers.
func (m *Manager) addWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(m.ctx)
		m.workerCancels = append(m.workerCancels, cancel)
		m.wg.Add(1)
		go m.worker(wctx)
	}
	obs.Logger.Info("workers_scaled", "worker_count", len(m.workerCancels))
}

// removeWorkers stops up to n workers.
func (m *Manager) removeWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.workerCancels) {
		n = len(m.workerCancels)
	}
	for i := 0; i < n; i++ {
		c := m.workerCancels[len(m.workerCancels)-1]
		m.workerCancels = m.workerCancels[:len(m.workerCancels)-1]
		c()
	}
	obs.Logger.Info("workers_scaled", "worker_count", len(m.workerCancels))
}

// worker drains events from the queue into the handler. The handler runs
// with a background-derived context so cancellation between events does
// not abandon a half-processed order.
func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.q.Out():
			m.handler(context.WithoutCancel(ctx), ev)
			m.q.MarkProcessed()
		}
	}
}

// Enqueue proxies to the underlying queue.
func (m *Manager) Enqueue(ev model.OrderEvent) bool { return m.q.Enqueue(ev) }

// BacklogSize returns pending items in the queue.
func (m *Manager) BacklogSize() int { return m.q.BacklogSize() }

// Depth returns backlog plus buffered output items.
func (m *Manager) Depth() int { return m.q.Depth() }

// WorkerCount returns the current number of workers.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workerCancels)
}

// IsShuttingDown reports whether new enqueues are rejected.
func (m *Manager) IsShuttingDown() bool { return m.q.IsShuttingDown() }

// CloseIntake disallows future enqueues.
func (m *Manager) CloseIntake() { m.q.CloseIntake() }

// QueueMetrics exposes the underlying queue metrics.
func (m *Manager) QueueMetrics() (enq, proc uint64, backlog, depth int) {
	return m.q.Metrics()
}

// DrainUntil blocks until the queue is fully drained or context is done.
func (m *Manager) DrainUntil(ctx context.Context) bool {
	for {
		enq, proc, backlog, depth := m.q.Metrics()
		if backlog == 0 && depth == 0 && enq == proc {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
