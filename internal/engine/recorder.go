package engine

import (
	"sync"

	"github.com/gaspcr/shopify-filemaker/internal/model"
)

// Recorder accumulates per-SKU outcomes into the SyncResult it owns.
// Safe for concurrent use, though the dispatcher writes serially today.
type Recorder struct {
	mu     sync.Mutex
	result *model.SyncResult
}

// NewRecorder starts a fresh result for one cycle.
func NewRecorder(dryRun bool) *Recorder {
	return &Recorder{result: model.NewSyncResult(dryRun)}
}

// SetTotal records the directory snapshot size.
func (r *Recorder) SetTotal(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.TotalItems = n
}

// AddUpdated records an applied (or would-apply, in dry-run) delta.
func (r *Recorder) AddUpdated(d model.StockDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Updated = append(r.result.Updated, d)
}

// AddSkipped records a SKU that needed no change.
func (r *Recorder) AddSkipped(sku string, reason model.SkipReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Skipped = append(r.result.Skipped, model.SkippedSKU{SKU: sku, Reason: reason})
}

// AddFailed records a SKU whose update failed terminally.
func (r *Recorder) AddFailed(sku, kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Failed = append(r.result.Failed, model.SyncError{SKU: sku, Kind: kind, Message: message})
}

// Counts returns the running updated/skipped/failed tallies.
func (r *Recorder) Counts() (updated, skipped, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.result.Updated), len(r.result.Skipped), len(r.result.Failed)
}

// Finalize stamps the end time and hands over the frozen result.
func (r *Recorder) Finalize() *model.SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Finalize()
	return r.result
}
