package model

import (
	"fmt"
	"strings"
	"time"
)

// StockDelta is a computed quantity difference for one SKU. It is only
// constructed when From != To; no-op deltas never reach the dispatcher.
type StockDelta struct {
	SKU  string
	From int
	To   int
}

// SkipReason explains why a SKU produced no delta.
type SkipReason string

const (
	SkipUnchanged  SkipReason = "unchanged"
	SkipNotInShop  SkipReason = "absent_from_shopify"
	SkipNoQuantity SkipReason = "no_quantity"
)

// SkippedSKU is one SKU that needed no update during a cycle.
type SkippedSKU struct {
	SKU    string
	Reason SkipReason
}

// SyncError records one SKU's terminal failure within a cycle.
type SyncError struct {
	SKU     string
	Kind    string
	Message string
}

// SyncResult aggregates the outcome of one full-sync cycle. It is owned
// exclusively by the orchestrator that created it and never shared across
// concurrent cycles.
type SyncResult struct {
	StartedAt  time.Time
	FinishedAt time.Time
	TotalItems int
	Updated    []StockDelta
	Skipped    []SkippedSKU
	Failed     []SyncError
	DryRun     bool
}

// NewSyncResult creates a result stamped with the cycle start time.
func NewSyncResult(dryRun bool) *SyncResult {
	return &SyncResult{StartedAt: time.Now().UTC(), DryRun: dryRun}
}

// Finalize stamps the cycle end time.
func (r *SyncResult) Finalize() { r.FinishedAt = time.Now().UTC() }

// Duration reports how long the cycle ran.
func (r *SyncResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Success reports whether the cycle completed without per-SKU failures.
func (r *SyncResult) Success() bool { return len(r.Failed) == 0 }

// Summary renders a human-readable report for CLI output and logs.
func (r *SyncResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync completed in %.2fs\n", r.Duration().Seconds())
	if r.DryRun {
		b.WriteString("DRY RUN - no changes were applied\n")
	}
	fmt.Fprintf(&b, "Total items: %d\n", r.TotalItems)
	fmt.Fprintf(&b, "Updated:     %d\n", len(r.Updated))
	fmt.Fprintf(&b, "Skipped:     %d\n", len(r.Skipped))
	fmt.Fprintf(&b, "Failed:      %d\n", len(r.Failed))
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):\n", len(r.Failed))
		max := len(r.Failed)
		if max > 5 {
			max = 5
		}
		for _, e := range r.Failed[:max] {
			fmt.Fprintf(&b, "  - %s: %s\n", e.SKU, e.Message)
		}
		if len(r.Failed) > 5 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(r.Failed)-5)
		}
	}
	return b.String()
}
