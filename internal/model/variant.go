package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Variant struct {
	BaseModel
	ProductID  uuid.UUID         `gorm:"type:uuid;not null;index" json:"product_id"`
	SKU        string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"sku" validate:"required"`
	Attributes map[string]string `gorm:"type:text;serializer:json" json:"attributes"`
	Position   int               `gorm:"not null;default:0" json:"position"`

	Qty         int   `gorm:"not null;default:0" json:"qty" validate:"gte=0"`
	BaselineQty int   `gorm:"not null;default:0" json:"baseline_qty"`
	Version     int64 `gorm:"not null;default:0" json:"version"`

	// Price overrides; nil falls back to the product tier.
	WholesalePrice *decimal.Decimal `gorm:"type:decimal(14,2)" json:"wholesale_price,omitempty"`
	RetailPrice    *decimal.Decimal `gorm:"type:decimal(14,2)" json:"retail_price,omitempty"`
	ClubPrice      *decimal.Decimal `gorm:"type:decimal(14,2)" json:"club_price,omitempty"`
}

func (v *Variant) StockRecord() StockRecord {
	id := v.ID
	return StockRecord{
		ProductID:   v.ProductID,
		VariantID:   &id,
		SKU:         v.SKU,
		Qty:         v.Qty,
		BaselineQty: v.BaselineQty,
		Version:     v.Version,
	}
}
