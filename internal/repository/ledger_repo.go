package repository

import (
	"context"
	"time"

	"go-invoice-stock/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockMovementData is one day of ledger movement for charts.
type StockMovementData struct {
	Date     string `json:"date"`
	Inbound  int    `json:"inbound"`
	Outbound int    `json:"outbound"`
}

// RecordNet is the summed delta of a set of entries for one stock record.
type RecordNet struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Net       int
}

func (n RecordNet) Key() string {
	return model.RecordKey(n.ProductID, n.VariantID)
}

type LedgerFilter struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Reason    model.LedgerReason
	Page      Page
}

type LedgerRepository interface {
	AppendTx(tx *gorm.DB, entries []model.StockLedgerEntry) error
	List(ctx context.Context, filter LedgerFilter) ([]model.StockLedgerEntry, int64, error)
	NetByInvoiceTx(tx *gorm.DB, invoiceID uuid.UUID, epoch int64) ([]RecordNet, error)
	NetByRecord(ctx context.Context) ([]RecordNet, error)
	GetStockMovement(ctx context.Context, startDate, endDate time.Time) ([]StockMovementData, error)
}

type ledgerRepo struct {
	db *gorm.DB
}

func NewLedgerRepo(db *gorm.DB) LedgerRepository {
	return &ledgerRepo{db}
}

func (r *ledgerRepo) AppendTx(tx *gorm.DB, entries []model.StockLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.Create(&entries).Error
}

func (r *ledgerRepo) List(ctx context.Context, filter LedgerFilter) ([]model.StockLedgerEntry, int64, error) {
	var (
		entries []model.StockLedgerEntry
		total   int64
	)
	q := r.db.WithContext(ctx).Model(&model.StockLedgerEntry{}).Where("product_id = ?", filter.ProductID)
	if filter.VariantID != nil {
		q = q.Where("variant_id = ?", *filter.VariantID)
	} else {
		q = q.Where("variant_id IS NULL")
	}
	if filter.Reason != "" {
		q = q.Where("reason = ?", filter.Reason)
	}
	q = q.Session(&gorm.Session{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").
		Offset(filter.Page.Offset()).
		Limit(filter.Page.Limit()).
		Find(&entries).Error
	return entries, total, err
}

// NetByInvoiceTx sums the invoice's entries written in the given epoch.
func (r *ledgerRepo) NetByInvoiceTx(tx *gorm.DB, invoiceID uuid.UUID, epoch int64) ([]RecordNet, error) {
	var nets []RecordNet
	err := tx.Model(&model.StockLedgerEntry{}).
		Select("product_id, variant_id, COALESCE(SUM(delta), 0) AS net").
		Where("invoice_id = ? AND invoice_epoch = ?", invoiceID, epoch).
		Group("product_id, variant_id").
		Scan(&nets).Error
	return nets, err
}

func (r *ledgerRepo) NetByRecord(ctx context.Context) ([]RecordNet, error) {
	var nets []RecordNet
	err := r.db.WithContext(ctx).Model(&model.StockLedgerEntry{}).
		Select("product_id, variant_id, COALESCE(SUM(delta), 0) AS net").
		Group("product_id, variant_id").
		Scan(&nets).Error
	return nets, err
}

func (r *ledgerRepo) GetStockMovement(ctx context.Context, startDate, endDate time.Time) ([]StockMovementData, error) {
	var results []StockMovementData

	rows, err := r.db.WithContext(ctx).Model(&model.StockLedgerEntry{}).
		Select(`
			DATE(created_at) as date,
			COALESCE(SUM(CASE WHEN delta > 0 THEN delta ELSE 0 END), 0) as inbound,
			COALESCE(SUM(CASE WHEN delta < 0 THEN -delta ELSE 0 END), 0) as outbound
		`).
		Where("created_at BETWEEN ? AND ?", startDate, endDate).
		Group("DATE(created_at)").
		Order("date ASC").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var data StockMovementData
		if err := rows.Scan(&data.Date, &data.Inbound, &data.Outbound); err != nil {
			return nil, err
		}
		results = append(results, data)
	}

	return results, rows.Err()
}
