package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	BaseModel
	Title       string `gorm:"type:varchar(255);not null" json:"title" validate:"required"`
	ArticleCode string `gorm:"type:varchar(64);uniqueIndex;not null" json:"article_code" validate:"required"`
	Brand       string `gorm:"type:varchar(100)" json:"brand"`
	Category    string `gorm:"type:varchar(100)" json:"category"`

	WholesalePrice decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"wholesale_price"`
	RetailPrice    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"retail_price"`
	ClubPrice      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"club_price"`
	CostBefore     decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"cost_before"`
	CostAfter      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"cost_after"`

	Archived bool `gorm:"not null;default:false;index" json:"archived"`

	// UsesGlobalStock lets a product with variants also sell from its own Qty
	// when a line item names no variant.
	UsesGlobalStock bool  `gorm:"not null;default:false" json:"uses_global_stock"`
	Qty             int   `gorm:"not null;default:0" json:"qty"`
	BaselineQty     int   `gorm:"not null;default:0" json:"baseline_qty"`
	Version         int64 `gorm:"not null;default:0" json:"version"`

	Variants []Variant `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
}

// HasGlobalStock reports whether the product itself is addressable as a stock record.
func (p *Product) HasGlobalStock() bool {
	return len(p.Variants) == 0 || p.UsesGlobalStock
}

// VariantIDs lists variant ids in display order.
func (p *Product) VariantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Variants))
	for _, v := range p.Variants {
		ids = append(ids, v.ID)
	}
	return ids
}

// StockRecord returns the product-level stock record.
func (p *Product) StockRecord() StockRecord {
	return StockRecord{
		ProductID:   p.ID,
		SKU:         p.ArticleCode,
		Qty:         p.Qty,
		BaselineQty: p.BaselineQty,
		Version:     p.Version,
	}
}
