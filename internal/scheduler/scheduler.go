// Package scheduler triggers full-sync cycles on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

// Runner executes one sync cycle. Satisfied by *engine.Orchestrator.
type Runner interface {
	Run(ctx context.Context, opts engine.RunOptions) (*model.SyncResult, error)
}

// Scheduler fires a full sync every Interval. A tick that lands while a
// cycle is still running is skipped and logged, never queued, so slow
// APIs cannot stack cycles.
type Scheduler struct {
	Interval time.Duration
	Runner   Runner

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches the timer loop.
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	obs.Logger.Info("scheduler_started", "interval", s.Interval.String())
}

// Stop halts the timer and waits for an in-flight cycle to finish. The
// running cycle sees an uncancelled context, so its current batch is
// applied rather than abandoned mid-write.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	obs.Logger.Info("scheduler_stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	obs.Logger.Info("scheduled_sync_triggered")
	// Detach from the loop context: shutdown drains the cycle instead
	// of killing it mid-batch.
	result, err := s.Runner.Run(context.WithoutCancel(ctx), engine.RunOptions{})
	switch {
	case err == nil:
		obs.Logger.Info("scheduled_sync_done",
			"updated", len(result.Updated),
			"skipped", len(result.Skipped),
			"failed", len(result.Failed),
		)
	case engine.IsCode(err, engine.CodeCycleRunning):
		obs.Logger.Warn("scheduled_sync_skipped", "reason", "cycle already running")
	default:
		obs.Logger.Error("scheduled_sync_failed", "error", err)
	}
}
