package engine

import (
	"context"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

// Dispatcher applies a set of deltas to the storefront in bounded batches.
// Writes are dispatched serially to respect the Shopify per-second rate
// ceiling; one SKU's terminal failure never aborts the batch or the cycle.
type Dispatcher struct {
	Storefront StorefrontClient
	Directory  DirectoryClient
	Locks      *LockTable
	Retry      RetryPolicy
	BatchSize  int
	WriteDelay time.Duration
}

// Dispatch processes deltas in order, recording each outcome. With dryRun
// set no writes occur and every delta is reported as it would be applied.
func (d *Dispatcher) Dispatch(ctx context.Context, deltas []model.StockDelta, dryRun bool, rec *Recorder) {
	if len(deltas) == 0 {
		obs.Logger.Info("dispatch_noop", "reason", "no deltas pending")
		return
	}

	batchSize := d.BatchSize
	if batchSize < 1 {
		batchSize = 100
	}
	totalBatches := (len(deltas) + batchSize - 1) / batchSize

	for start := 0; start < len(deltas); start += batchSize {
		end := start + batchSize
		if end > len(deltas) {
			end = len(deltas)
		}
		batch := deltas[start:end]
		obs.Logger.Info("dispatch_batch",
			"batch", start/batchSize+1,
			"total_batches", totalBatches,
			"items", len(batch),
			"dry_run", dryRun,
		)

		for i, delta := range batch {
			// Every delta still ends up in the result on cancellation;
			// the ones never dispatched are failures, not omissions.
			if ctx.Err() != nil {
				recordCancelled(deltas[start+i:], rec)
				return
			}
			if dryRun {
				obs.Logger.Info("would_update", "sku", delta.SKU, "from", delta.From, "to", delta.To)
				rec.AddUpdated(delta)
				continue
			}
			d.applyOne(ctx, delta, rec)
			if d.WriteDelay > 0 && (i < len(batch)-1 || end < len(deltas)) {
				select {
				case <-ctx.Done():
					recordCancelled(deltas[start+i+1:], rec)
					return
				case <-time.After(d.WriteDelay):
				}
			}
		}
	}
}

func recordCancelled(remaining []model.StockDelta, rec *Recorder) {
	if len(remaining) == 0 {
		return
	}
	obs.Logger.Warn("dispatch_cancelled", "remaining", len(remaining))
	for _, delta := range remaining {
		rec.AddFailed(delta.SKU, "CancelledError", "cycle cancelled before dispatch")
	}
}

// applyOne writes a single delta under the SKU lock, retrying transient
// failures, then appends the audit movement best-effort.
func (d *Dispatcher) applyOne(ctx context.Context, delta model.StockDelta, rec *Recorder) {
	release := d.Locks.Acquire(delta.SKU)
	defer release()

	err := Retry(ctx, d.Retry, func(ctx context.Context) error {
		return d.Storefront.WriteQuantity(ctx, delta.SKU, delta.To)
	})
	if err != nil {
		obs.Logger.Error("update_failed", "sku", delta.SKU, "from", delta.From, "to", delta.To, "error", err)
		rec.AddFailed(delta.SKU, ErrorKind(err), err.Error())
		return
	}

	rec.AddUpdated(delta)
	obs.Logger.Info("updated", "sku", delta.SKU, "from", delta.From, "to", delta.To)

	// A failed audit append is a warning, not a failure: the quantity
	// write already succeeded and is not rolled back.
	movement := model.MovementRecord{
		SKU:            delta.SKU,
		QuantityChange: delta.To - delta.From,
		Type:           model.MovementSyncCorrection,
		Notes:          "full-sync correction",
		Timestamp:      time.Now().UTC(),
	}
	if err := d.Directory.AppendMovement(ctx, movement); err != nil {
		obs.Logger.Warn("movement_append_failed", "sku", delta.SKU, "error", err)
	}
}
