package model

const SequenceInvoice = "invoice"

// Sequence is a named persistent counter.
type Sequence struct {
	Name  string `gorm:"type:varchar(64);primaryKey" json:"name"`
	Value int64  `gorm:"not null;default:0" json:"value"`
}
