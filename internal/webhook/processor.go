package webhook

import (
	"context"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

// OutcomeStatus classifies one line item's processing result.
type OutcomeStatus string

const (
	OutcomeUpdated OutcomeStatus = "updated"
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeClamped is a data-integrity warning: the decrement would have
	// driven the quantity negative, so it was clamped to zero.
	OutcomeClamped OutcomeStatus = "quantity_clamped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// LineOutcome is the per-line-item processing result.
type LineOutcome struct {
	SKU     string
	Status  OutcomeStatus
	OldQty  int
	NewQty  int
	Message string
}

// Processor applies order decrements to the FileMaker directory, then
// pushes the fresh quantity back to Shopify. Every SKU write happens under
// the shared per-SKU lock so a concurrent full-sync cannot interleave.
type Processor struct {
	Directory  engine.DirectoryClient
	Storefront engine.StorefrontClient
	Locks      *engine.LockTable
	Retry      engine.RetryPolicy
}

// ProcessOrder runs each line item independently: one item's failure never
// blocks its siblings.
func (p *Processor) ProcessOrder(ctx context.Context, ev model.OrderEvent) []LineOutcome {
	obs.Logger.Info("order_processing", "order", ev.OrderName, "line_items", len(ev.LineItems))

	if err := p.Directory.Authenticate(ctx); err != nil {
		obs.Logger.Error("order_auth_failed", "order", ev.OrderName, "error", err)
		outcomes := make([]LineOutcome, 0, len(ev.LineItems))
		for _, item := range ev.LineItems {
			outcomes = append(outcomes, LineOutcome{SKU: item.SKU, Status: OutcomeFailed, Message: err.Error()})
		}
		return outcomes
	}

	outcomes := make([]LineOutcome, 0, len(ev.LineItems))
	for _, item := range ev.LineItems {
		if item.SKU == "" {
			obs.Logger.Warn("line_item_without_sku", "order", ev.OrderName, "title", item.Title)
			outcomes = append(outcomes, LineOutcome{Status: OutcomeSkipped, Message: "line item has no SKU"})
			continue
		}
		if item.Quantity <= 0 {
			obs.Logger.Warn("line_item_invalid_quantity", "order", ev.OrderName, "sku", item.SKU, "quantity", item.Quantity)
			outcomes = append(outcomes, LineOutcome{SKU: item.SKU, Status: OutcomeSkipped, Message: "invalid quantity"})
			continue
		}
		outcomes = append(outcomes, p.processLineItem(ctx, ev, item))
	}

	failed := 0
	for _, o := range outcomes {
		if o.Status == OutcomeFailed {
			failed++
		}
	}
	if failed == 0 {
		obs.Logger.Info("order_processed", "order", ev.OrderName, "items", len(outcomes))
	} else {
		obs.Logger.Warn("order_processed_with_errors", "order", ev.OrderName, "failed", failed)
	}
	return outcomes
}

// processLineItem performs the read-modify-write for one SKU under its
// lock: read directory quantity, clamp the decrement at zero, write back,
// append the audit movement, then mirror the new quantity to Shopify.
func (p *Processor) processLineItem(ctx context.Context, ev model.OrderEvent, item model.LineItem) LineOutcome {
	release := p.Locks.Acquire(item.SKU)
	defer release()

	current, err := p.fetchCurrent(ctx, item.SKU)
	if err != nil {
		return LineOutcome{SKU: item.SKU, Status: OutcomeFailed, Message: err.Error()}
	}

	newQty := current - item.Quantity
	clamped := false
	if newQty < 0 {
		obs.Logger.Warn("quantity_clamped", "sku", item.SKU, "current", current, "ordered", item.Quantity)
		newQty = 0
		clamped = true
	}

	err = engine.Retry(ctx, p.Retry, func(ctx context.Context) error {
		return p.Directory.WriteQuantity(ctx, item.SKU, newQty)
	})
	if err != nil {
		return LineOutcome{SKU: item.SKU, Status: OutcomeFailed, OldQty: current, Message: err.Error()}
	}

	movement := model.MovementRecord{
		SKU:            item.SKU,
		QuantityChange: newQty - current,
		Type:           model.MovementOrderDecrement,
		Notes:          "order " + ev.OrderName,
		Timestamp:      time.Now().UTC(),
	}
	if err := p.Directory.AppendMovement(ctx, movement); err != nil {
		obs.Logger.Warn("movement_append_failed", "sku", item.SKU, "error", err)
	}

	// Mirror the decrement to Shopify so the storefront quantity tracks
	// the directory without waiting for the next full sync.
	err = engine.Retry(ctx, p.Retry, func(ctx context.Context) error {
		return p.Storefront.WriteQuantity(ctx, item.SKU, newQty)
	})
	if err != nil {
		return LineOutcome{
			SKU: item.SKU, Status: OutcomeFailed, OldQty: current, NewQty: newQty,
			Message: "directory updated but storefront write failed: " + err.Error(),
		}
	}

	status := OutcomeUpdated
	if clamped {
		status = OutcomeClamped
	}
	obs.Logger.Info("line_item_processed", "sku", item.SKU, "from", current, "to", newQty, "status", string(status))
	return LineOutcome{SKU: item.SKU, Status: status, OldQty: current, NewQty: newQty}
}

func (p *Processor) fetchCurrent(ctx context.Context, sku string) (int, error) {
	var qty int
	err := engine.Retry(ctx, p.Retry, func(ctx context.Context) error {
		item, err := p.Directory.FetchOne(ctx, sku)
		if err != nil {
			return err
		}
		qty = item.Quantity
		return nil
	})
	return qty, err
}
