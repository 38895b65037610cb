// Package engine implements the stock reconciliation core: diffing,
// batched dispatch, retry discipline, and the concurrency controls that
// keep the scheduled sync, manual sync, and webhook decrements from
// racing on the same SKU.
package engine

import (
	"context"

	"github.com/gaspcr/shopify-filemaker/internal/model"
)

// DirectoryClient is the FileMaker-side capability: the authoritative
// source of stock quantities plus the audit movement trail.
type DirectoryClient interface {
	// Authenticate establishes (or refreshes) a session. Implementations
	// are expected to re-authenticate lazily on an expired-session error.
	Authenticate(ctx context.Context) error

	// FetchAll returns a snapshot of every sellable SKU.
	FetchAll(ctx context.Context) ([]model.StockItem, error)

	// FetchOne returns one SKU's snapshot, or a NotFoundError.
	FetchOne(ctx context.Context, sku string) (model.StockItem, error)

	// WriteQuantity sets the directory quantity for one SKU.
	WriteQuantity(ctx context.Context, sku string, quantity int) error

	// AppendMovement records an audit-trail entry.
	AppendMovement(ctx context.Context, rec model.MovementRecord) error
}

// StorefrontClient is the Shopify-side capability. All calls are subject
// to the platform's published rate ceiling; implementations own the
// limiter so every caller is throttled uniformly.
type StorefrontClient interface {
	// FetchQuantity returns the available quantity for a SKU at the
	// configured location. found is false when the SKU does not exist.
	FetchQuantity(ctx context.Context, sku string) (quantity int, found bool, err error)

	// FetchQuantities looks up many SKUs; absent SKUs are omitted from
	// the quantities map. Terminal failures scoped to a single SKU come
	// back in failed; err is reserved for failures that make every
	// further lookup pointless (auth rejection, exhausted transport).
	FetchQuantities(ctx context.Context, skus []string) (quantities map[string]int, failed map[string]error, err error)

	// WriteQuantity sets the available quantity for a SKU.
	WriteQuantity(ctx context.Context, sku string, quantity int) error
}
