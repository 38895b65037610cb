// Package model defines domain types shared by the sync engine and clients.
package model

import (
	"errors"
	"time"
)

// Source identifies which backing system produced a StockItem.
type Source string

const (
	SourceFileMaker Source = "filemaker"
	SourceShopify   Source = "shopify"
)

// StockItem is an immutable snapshot of one SKU's quantity in one system.
// A new value is produced on every fetch; it is never mutated in place.
type StockItem struct {
	SKU      string
	Quantity int
	Source   Source
	// Metadata carries system-specific record identifiers, e.g. the
	// FileMaker recordId or the Shopify inventoryItem GID.
	Metadata map[string]string
}

// Validate checks the StockItem invariants.
func (s StockItem) Validate() error {
	if s.SKU == "" {
		return errors.New("sku cannot be empty")
	}
	if s.Quantity < 0 {
		return errors.New("quantity cannot be negative")
	}
	if s.Source != SourceFileMaker && s.Source != SourceShopify {
		return errors.New("source must be filemaker or shopify")
	}
	return nil
}

// MovementType classifies an audit-trail movement record.
type MovementType string

const (
	MovementSyncCorrection MovementType = "sync_correction"
	MovementOrderDecrement MovementType = "order_decrement"
)

// MovementRecord is an append-only audit entry describing one quantity change.
type MovementRecord struct {
	SKU            string
	QuantityChange int // signed: negative for a decrement
	Type           MovementType
	Notes          string
	Timestamp      time.Time
}

// LineItem is one SKU/quantity pair within an order event.
type LineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Title    string `json:"title"`
}

// OrderEvent is a validated Shopify order webhook payload, consumed once
// by the decrement processor.
type OrderEvent struct {
	OrderID    int64      `json:"id"`
	OrderName  string     `json:"name"`
	LineItems  []LineItem `json:"line_items"`
	ShopDomain string     `json:"-"`
	ReceivedAt time.Time  `json:"-"`
}
