package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePending, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	}
	return false
}

func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoicePaid || s == InvoiceCancelled
}

type Invoice struct {
	BaseModel
	Number         int64           `gorm:"uniqueIndex;not null" json:"number"`
	CustomerID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"customer_id" validate:"uuid_required"`
	Customer       *Customer       `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	Status         InvoiceStatus   `gorm:"type:varchar(20);not null;default:draft;index" json:"status"`
	StockProcessed bool            `gorm:"not null;default:false" json:"stock_processed"`
	// StockEpoch scopes the invoice's ledger history. A snapshot restore
	// starts a new epoch, so entries from before it no longer count.
	StockEpoch     int64           `gorm:"not null;default:0" json:"stock_epoch"`
	// StockOpening means the items were already deducted when the epoch began.
	StockOpening   bool            `gorm:"not null;default:false" json:"stock_opening"`
	Total          decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total"`
	Note           string          `json:"note"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID" json:"items"`
}

// Editable reports whether line items may still change. Once stock has been
// deducted the items are frozen until a revert restores it.
func (inv *Invoice) Editable() bool {
	return !inv.StockProcessed && !inv.Status.IsTerminal()
}

// Recalculate recomputes line totals and the invoice total.
func (inv *Invoice) Recalculate() {
	total := decimal.Zero
	for i := range inv.Items {
		it := &inv.Items[i]
		it.LineTotal = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(it.LineTotal)
	}
	inv.Total = total
}

type InvoiceItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID uuid.UUID       `gorm:"type:uuid;not null;index" json:"invoice_id"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id" validate:"uuid_required"`
	VariantID *uuid.UUID      `gorm:"type:uuid;index" json:"variant_id,omitempty"`
	Quantity  int             `gorm:"not null" json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"unit_price"`
	LineTotal decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"line_total"`
	Position  int             `gorm:"not null;default:0" json:"position"`
}

func (it *InvoiceItem) BeforeCreate(tx *gorm.DB) (err error) {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return
}
