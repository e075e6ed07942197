package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TableCounts holds per-table row counts of a snapshot.
type TableCounts struct {
	Products     int64 `gorm:"not null;default:0" json:"products"`
	Variants     int64 `gorm:"not null;default:0" json:"variants"`
	Customers    int64 `gorm:"not null;default:0" json:"customers"`
	Invoices     int64 `gorm:"not null;default:0" json:"invoices"`
	InvoiceItems int64 `gorm:"not null;default:0" json:"invoice_items"`
}

type Snapshot struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	ObjectKey string      `gorm:"type:varchar(512);not null" json:"object_key"`
	Checksum  string      `gorm:"type:varchar(64);not null" json:"checksum"`
	SizeBytes int64       `gorm:"not null" json:"size_bytes"`
	Counts    TableCounts `gorm:"embedded;embeddedPrefix:count_" json:"counts"`
}

func (s *Snapshot) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return
}
