package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrStaleVersion  = errors.New("stock record was modified concurrently")
	ErrStatusChanged = errors.New("invoice status was modified concurrently")
	ErrInvoiceLocked = errors.New("invoice items are locked after stock processing")
)

func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Page is a 1-based offset page.
type Page struct {
	Page     int
	PageSize int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 500 {
		p.PageSize = 50
	}
	return p
}

func (p Page) Offset() int {
	p = p.normalize()
	return (p.Page - 1) * p.PageSize
}

func (p Page) Limit() int {
	return p.normalize().PageSize
}
