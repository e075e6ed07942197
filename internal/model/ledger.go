package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LedgerReason string

const (
	ReasonInvoiceSent      LedgerReason = "invoice-sent"
	ReasonInvoiceReverted  LedgerReason = "invoice-reverted"
	ReasonManualAdjustment LedgerReason = "manual-adjustment"
	ReasonRestore          LedgerReason = "restore"
)

func (r LedgerReason) Valid() bool {
	switch r {
	case ReasonInvoiceSent, ReasonInvoiceReverted, ReasonManualAdjustment, ReasonRestore:
		return true
	}
	return false
}

// StockLedgerEntry is one signed quantity change. Rows are only ever inserted;
// corrections are new rows with the opposite sign.
type StockLedgerEntry struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"batch_id"`
	ProductID    uuid.UUID    `gorm:"type:uuid;not null;index:idx_ledger_record" json:"product_id"`
	VariantID    *uuid.UUID   `gorm:"type:uuid;index:idx_ledger_record" json:"variant_id,omitempty"`
	Delta        int          `gorm:"not null" json:"delta"`
	QtyBefore    int          `gorm:"not null" json:"qty_before"`
	QtyAfter     int          `gorm:"not null" json:"qty_after"`
	Reason       LedgerReason `gorm:"type:varchar(32);not null;index" json:"reason"`
	InvoiceID    *uuid.UUID   `gorm:"type:uuid;index" json:"invoice_id,omitempty"`
	// InvoiceEpoch is the invoice's StockEpoch when the entry was written.
	InvoiceEpoch int64        `gorm:"not null;default:0" json:"invoice_epoch,omitempty"`
	Note         string       `json:"note,omitempty"`
	Actor        string       `gorm:"type:varchar(255)" json:"actor,omitempty"`
	CreatedAt    time.Time    `gorm:"index" json:"created_at"`
}

func (e *StockLedgerEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}

// BeforeUpdate refuses any mutation of an existing entry.
func (e *StockLedgerEntry) BeforeUpdate(tx *gorm.DB) (err error) {
	return ErrLedgerImmutable
}

func (e *StockLedgerEntry) BeforeDelete(tx *gorm.DB) (err error) {
	return ErrLedgerImmutable
}

func (e *StockLedgerEntry) RecordKey() string {
	return RecordKey(e.ProductID, e.VariantID)
}
