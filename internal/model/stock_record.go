package model

import "github.com/google/uuid"

// StockRecord is the unit of stock accounting: a variant, or a product when
// VariantID is nil. It is a read view, never persisted on its own.
type StockRecord struct {
	ProductID   uuid.UUID  `json:"product_id"`
	VariantID   *uuid.UUID `json:"variant_id,omitempty"`
	SKU         string     `json:"sku"`
	Qty         int        `json:"qty"`
	BaselineQty int        `json:"baseline_qty"`
	Version     int64      `json:"version"`
}

// Key identifies the record independently of its quantity.
func (r StockRecord) Key() string {
	return RecordKey(r.ProductID, r.VariantID)
}

func (r StockRecord) IsVariant() bool {
	return r.VariantID != nil
}

func RecordKey(productID uuid.UUID, variantID *uuid.UUID) string {
	if variantID == nil {
		return productID.String()
	}
	return productID.String() + ":" + variantID.String()
}
