package repository

import (
	"context"

	"go-invoice-stock/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvoiceFilter struct {
	Status     model.InvoiceStatus
	CustomerID *uuid.UUID
	Page       Page
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *model.Invoice) error
	FindAll(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, int64, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	ReplaceItems(ctx context.Context, invoice *model.Invoice) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from StatusState, to StatusState) error
	ReferencesProduct(ctx context.Context, productID uuid.UUID) (bool, error)

	FindByNumberTx(tx *gorm.DB, number int64) (*model.Invoice, error)
	UpsertTx(tx *gorm.DB, invoice *model.Invoice) error
}

// StatusState is the pair guarded by UpdateStatus.
type StatusState struct {
	Status         model.InvoiceStatus
	StockProcessed bool
}

type invoiceRepo struct {
	db  *gorm.DB
	seq SequenceRepository
}

func NewInvoiceRepo(db *gorm.DB, seq SequenceRepository) InvoiceRepository {
	return &invoiceRepo{db: db, seq: seq}
}

func PreloadItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Create assigns the next invoice number in the same transaction as the insert.
func (r *invoiceRepo) Create(ctx context.Context, invoice *model.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := r.seq.NextTx(tx, model.SequenceInvoice)
		if err != nil {
			return err
		}
		invoice.Number = number
		return tx.Omit("Customer").Create(invoice).Error
	})
}

func (r *invoiceRepo) FindAll(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, int64, error) {
	var (
		invoices []model.Invoice
		total    int64
	)
	q := r.db.WithContext(ctx).Model(&model.Invoice{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.CustomerID != nil {
		q = q.Where("customer_id = ?", *filter.CustomerID)
	}
	q = q.Session(&gorm.Session{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Preload("Items", PreloadItems).
		Order("number DESC").
		Offset(filter.Page.Offset()).
		Limit(filter.Page.Limit()).
		Find(&invoices).Error
	return invoices, total, err
}

func (r *invoiceRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var invoice model.Invoice
	err := r.db.WithContext(ctx).
		Preload("Items", PreloadItems).
		Preload("Customer").
		First(&invoice, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &invoice, nil
}

// ReplaceItems swaps the item list while the invoice is still unprocessed.
func (r *invoiceRepo) ReplaceItems(ctx context.Context, invoice *model.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Invoice{}).
			Where("id = ? AND stock_processed = ?", invoice.ID, false).
			Update("total", invoice.Total)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&model.Invoice{}).Where("id = ?", invoice.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrInvoiceLocked
		}
		if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&model.InvoiceItem{}).Error; err != nil {
			return err
		}
		if len(invoice.Items) == 0 {
			return nil
		}
		for i := range invoice.Items {
			invoice.Items[i].InvoiceID = invoice.ID
		}
		return tx.Create(&invoice.Items).Error
	})
}

// UpdateStatus moves the invoice from one (status, processed) pair to another.
// ErrStatusChanged means another writer got there first.
func (r *invoiceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from StatusState, to StatusState) error {
	res := r.db.WithContext(ctx).Model(&model.Invoice{}).
		Where("id = ? AND status = ? AND stock_processed = ?", id, from.Status, from.StockProcessed).
		Updates(map[string]interface{}{
			"status":          to.Status,
			"stock_processed": to.StockProcessed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *invoiceRepo) ReferencesProduct(ctx context.Context, productID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.InvoiceItem{}).Where("product_id = ?", productID).Count(&n).Error
	return n > 0, err
}

func (r *invoiceRepo) FindByNumberTx(tx *gorm.DB, number int64) (*model.Invoice, error) {
	var invoice model.Invoice
	if err := tx.First(&invoice, "number = ?", number).Error; err != nil {
		return nil, translateError(err)
	}
	return &invoice, nil
}

// UpsertTx writes the invoice row and replaces its items. The row moves to a
// new stock epoch whose opening state is the restored StockProcessed, so
// ledger entries written before the restore stop counting for it.
func (r *invoiceRepo) UpsertTx(tx *gorm.DB, invoice *model.Invoice) error {
	epoch, err := r.lastEpochTx(tx, invoice.ID)
	if err != nil {
		return err
	}
	if invoice.StockEpoch > epoch {
		epoch = invoice.StockEpoch
	}

	row := *invoice
	row.Items = nil
	row.Customer = nil
	row.StockEpoch = epoch + 1
	row.StockOpening = invoice.StockProcessed
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"number", "customer_id", "status", "stock_processed", "stock_epoch", "stock_opening",
			"total", "note", "updated_at",
		}),
	}).Omit(clause.Associations).Create(&row).Error
	if err != nil {
		return err
	}
	if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&model.InvoiceItem{}).Error; err != nil {
		return err
	}
	if len(invoice.Items) == 0 {
		return nil
	}
	items := make([]model.InvoiceItem, len(invoice.Items))
	copy(items, invoice.Items)
	for i := range items {
		items[i].InvoiceID = invoice.ID
	}
	return tx.Create(&items).Error
}

// lastEpochTx is the highest epoch seen for the invoice on its row or in the ledger.
func (r *invoiceRepo) lastEpochTx(tx *gorm.DB, id uuid.UUID) (int64, error) {
	var onRow, inLedger int64
	if err := tx.Model(&model.Invoice{}).Select("COALESCE(MAX(stock_epoch), 0)").
		Where("id = ?", id).Scan(&onRow).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&model.StockLedgerEntry{}).Select("COALESCE(MAX(invoice_epoch), 0)").
		Where("invoice_id = ?", id).Scan(&inLedger).Error; err != nil {
		return 0, err
	}
	if inLedger > onRow {
		return inLedger, nil
	}
	return onRow, nil
}
