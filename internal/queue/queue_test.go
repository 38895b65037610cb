package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/model"
)

func ev(name string) model.OrderEvent {
	return model.OrderEvent{OrderName: name, LineItems: []model.LineItem{{SKU: "A", Quantity: 1}}}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := New(4)
	// Broker not started: everything stays in the backlog.
	for i := 0; i < 4; i++ {
		if ok := q.Enqueue(ev(fmt.Sprintf("#%d", i))); !ok {
			t.Fatalf("enqueue %d rejected below capacity", i)
		}
	}
	if ok := q.Enqueue(ev("#overflow")); ok {
		t.Fatalf("expected rejection at capacity")
	}
}

func TestQueueShutdownIntake(t *testing.T) {
	q := New(8)
	q.CloseIntake()
	if !q.IsShuttingDown() {
		t.Fatalf("expected shutting down true")
	}
	if ok := q.Enqueue(ev("#1")); ok {
		t.Fatalf("expected enqueue false when shutting down")
	}
}

func TestManagerProcessesAllEvents(t *testing.T) {
	var processed atomic.Int64
	q := New(64)
	mgr := NewManager(ScalerConfig{Min: 1, Max: 2, Initial: 2}, q, func(ctx context.Context, ev model.OrderEvent) {
		processed.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	for i := 0; i < 50; i++ {
		if ok := mgr.Enqueue(ev(fmt.Sprintf("#%d", i))); !ok {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if ok := mgr.DrainUntil(drainCtx); !ok {
		t.Fatalf("drain timed out")
	}
	if processed.Load() != 50 {
		t.Fatalf("expected 50 processed, got %d", processed.Load())
	}
}

func TestManagerStopWaitsForInFlightEvent(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	q := New(8)
	mgr := NewManager(ScalerConfig{Min: 1, Max: 1, Initial: 1}, q, func(ctx context.Context, ev model.OrderEvent) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	mgr.Enqueue(ev("#slow"))
	<-started
	mgr.Stop()
	if !finished.Load() {
		t.Fatalf("Stop returned before the in-flight event finished")
	}
}

func TestManagerScalesUpUnderBacklog(t *testing.T) {
	block := make(chan struct{})
	q := New(256)
	mgr := NewManager(ScalerConfig{
		Min: 1, Max: 3, Initial: 1,
		ScaleInterval:           10 * time.Millisecond,
		ScaleUpBacklogPerWorker: 5,
		ScaleDownIdleTicks:      1000,
	}, q, func(ctx context.Context, ev model.OrderEvent) {
		<-block
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer func() { close(block); mgr.Stop() }()

	for i := 0; i < 100; i++ {
		mgr.Enqueue(ev(fmt.Sprintf("#%d", i)))
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.WorkerCount() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("worker pool never scaled up, count=%d", mgr.WorkerCount())
}
