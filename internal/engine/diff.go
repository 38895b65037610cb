package engine

import "github.com/gaspcr/shopify-filemaker/internal/model"

// Diff computes the minimal set of quantity changes needed to make the
// storefront match the directory snapshot. Pure function of its inputs:
// no network I/O, no clock.
//
// A delta is produced for every directory SKU whose Shopify quantity
// differs. SKUs absent from the storefront map are reported as missing
// rather than inferred to zero; the caller applies the configured policy.
func Diff(directory []model.StockItem, storefront map[string]int) (deltas []model.StockDelta, skipped []model.SkippedSKU, missing []string) {
	for _, item := range directory {
		current, ok := storefront[item.SKU]
		if !ok {
			missing = append(missing, item.SKU)
			continue
		}
		if current == item.Quantity {
			skipped = append(skipped, model.SkippedSKU{SKU: item.SKU, Reason: model.SkipUnchanged})
			continue
		}
		deltas = append(deltas, model.StockDelta{SKU: item.SKU, From: current, To: item.Quantity})
	}
	return deltas, skipped, missing
}
