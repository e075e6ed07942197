package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel carries the UUID primary key and timestamps shared by every table.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates the ID unless one was supplied (restores keep their ids).
func (base *BaseModel) BeforeCreate(tx *gorm.DB) (err error) {
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}
	return
}

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&Product{}, &Variant{}, &Customer{}, &Invoice{}, &InvoiceItem{},
		&StockLedgerEntry{}, &Snapshot{}, &Sequence{},
	}
}
