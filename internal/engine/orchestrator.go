package engine

import (
	"context"
	"errors"

	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

// MissingSKUPolicy decides what happens to a directory SKU that Shopify
// does not know about.
type MissingSKUPolicy string

const (
	// MissingSkip records the SKU as skipped with a distinct reason.
	MissingSkip MissingSKUPolicy = "skip"
	// MissingFail records the SKU as a per-item failure.
	MissingFail MissingSKUPolicy = "fail"
)

// RunOptions select the scope of one cycle.
type RunOptions struct {
	DryRun bool
	// SKU limits the cycle to a single SKU when non-empty.
	SKU string
}

// Orchestrator drives one end-to-end cycle: guard, snapshot, diff,
// dispatch, report. It is the only writer of the SyncResult it returns.
type Orchestrator struct {
	Directory  DirectoryClient
	Storefront StorefrontClient
	Dispatcher *Dispatcher
	Guard      *CycleGuard
	MissingSKU MissingSKUPolicy
	// Retry wraps the snapshot fetches; a cycle only aborts once transient
	// failures have exhausted this budget.
	Retry RetryPolicy
}

// Run executes one full-sync cycle.
//
// Contention on the cycle guard returns ErrCycleRunning. An unreachable
// directory or storefront aborts the whole cycle with a SYNC_ABORTED
// error and no partial result; per-SKU failures are entries within the
// result instead.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*model.SyncResult, error) {
	release, err := o.Guard.TryAcquire()
	if err != nil {
		obs.Logger.Warn("cycle_rejected", "reason", "already running")
		return nil, err
	}
	defer release()

	obs.Logger.Info("sync_started", "dry_run", opts.DryRun, "sku_filter", opts.SKU)
	rec := NewRecorder(opts.DryRun)

	snapshot, err := o.fetchDirectorySnapshot(ctx, opts.SKU)
	if err != nil {
		// A missing filtered SKU is a per-item outcome, not a broken
		// pre-condition for the cycle.
		var nf *NotFoundError
		if opts.SKU != "" && errors.As(err, &nf) {
			rec.SetTotal(1)
			rec.AddFailed(opts.SKU, ErrorKind(err), err.Error())
			return rec.Finalize(), nil
		}
		obs.Logger.Error("sync_aborted", "stage", "directory_fetch", "error", err)
		return nil, NewSyncAborted(err)
	}
	rec.SetTotal(len(snapshot))
	obs.Logger.Info("directory_snapshot", "items", len(snapshot))

	skus := make([]string, 0, len(snapshot))
	for _, item := range snapshot {
		skus = append(skus, item.SKU)
	}
	var storefront map[string]int
	var fetchFailed map[string]error
	err = Retry(ctx, o.Retry, func(ctx context.Context) error {
		var ferr error
		storefront, fetchFailed, ferr = o.Storefront.FetchQuantities(ctx, skus)
		return ferr
	})
	if err != nil {
		obs.Logger.Error("sync_aborted", "stage", "storefront_fetch", "error", err)
		return nil, NewSyncAborted(err)
	}

	// A terminal lookup failure scoped to one SKU is a per-item outcome,
	// not grounds to abort: record it and diff the rest.
	if len(fetchFailed) > 0 {
		kept := make([]model.StockItem, 0, len(snapshot))
		for _, item := range snapshot {
			if ferr, ok := fetchFailed[item.SKU]; ok {
				rec.AddFailed(item.SKU, ErrorKind(ferr), ferr.Error())
				continue
			}
			kept = append(kept, item)
		}
		snapshot = kept
	}

	deltas, skipped, missing := Diff(snapshot, storefront)
	for _, s := range skipped {
		rec.AddSkipped(s.SKU, s.Reason)
	}
	for _, sku := range missing {
		if o.MissingSKU == MissingFail {
			rec.AddFailed(sku, "SKUNotFoundError", "SKU not found in Shopify: "+sku)
		} else {
			rec.AddSkipped(sku, model.SkipNotInShop)
		}
	}
	obs.Logger.Info("diff_computed", "deltas", len(deltas), "unchanged", len(skipped), "missing", len(missing))

	o.Dispatcher.Dispatch(ctx, deltas, opts.DryRun, rec)

	result := rec.Finalize()
	obs.Logger.Info("sync_finished",
		"total", result.TotalItems,
		"updated", len(result.Updated),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
		"dry_run", result.DryRun,
		"duration_ms", result.Duration().Milliseconds(),
	)
	return result, nil
}

func (o *Orchestrator) fetchDirectorySnapshot(ctx context.Context, sku string) ([]model.StockItem, error) {
	// Login goes through the same budget as the fetches: a timed-out or
	// refused connection is transient, a rejected credential is not.
	if err := Retry(ctx, o.Retry, o.Directory.Authenticate); err != nil {
		return nil, err
	}
	var snapshot []model.StockItem
	err := Retry(ctx, o.Retry, func(ctx context.Context) error {
		if sku != "" {
			item, ferr := o.Directory.FetchOne(ctx, sku)
			if ferr != nil {
				return ferr
			}
			snapshot = []model.StockItem{item}
			return nil
		}
		var ferr error
		snapshot, ferr = o.Directory.FetchAll(ctx)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
