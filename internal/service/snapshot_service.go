package service

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/pkg/blobstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const snapshotFormatVersion = 1

const (
	lineHeader   = "header"
	lineCustomer = "customer"
	lineProduct  = "product"
	lineInvoice  = "invoice"
	lineFooter   = "footer"
)

// snapshotLine is one NDJSON record of a snapshot object.
type snapshotLine struct {
	Kind     string             `json:"kind"`
	Version  int                `json:"version,omitempty"`
	TakenAt  *time.Time         `json:"taken_at,omitempty"`
	Customer *model.Customer    `json:"customer,omitempty"`
	Product  *model.Product     `json:"product,omitempty"`
	Invoice  *model.Invoice     `json:"invoice,omitempty"`
	Counts   *model.TableCounts `json:"counts,omitempty"`
}

type SnapshotConfig struct {
	BatchSize int
	Prefix    string
	Timeout   time.Duration
}

type SnapshotService interface {
	CreateSnapshot(ctx context.Context) (*model.Snapshot, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context) ([]model.Snapshot, error)
}

type snapshotService struct {
	db           *gorm.DB
	snapshotRepo repository.SnapshotRepository
	store        blobstore.Store
	events       event.Publisher
	logger       *zap.Logger
	cfg          SnapshotConfig
}

func NewSnapshotService(db *gorm.DB, sRepo repository.SnapshotRepository, store blobstore.Store, events event.Publisher, logger *zap.Logger, cfg SnapshotConfig) SnapshotService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if events == nil {
		events = event.Discard
	}
	return &snapshotService{
		db:           db,
		snapshotRepo: sRepo,
		store:        store,
		events:       events,
		logger:       logger.Named("snapshot"),
		cfg:          cfg,
	}
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// readTxOptions asks for a stable read view where the driver supports it.
func readTxOptions(db *gorm.DB) []*sql.TxOptions {
	if db.Dialector.Name() == "postgres" {
		return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead, ReadOnly: true}}
	}
	return nil
}

func (s *snapshotService) CreateSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	id := uuid.New()
	takenAt := time.Now().UTC()
	key := path.Join(s.cfg.Prefix, fmt.Sprintf("%s-%s.ndjson.gz", takenAt.Format("20060102T150405Z"), id))

	// cancelling writeCtx aborts an unfinished upload
	writeCtx, abort := context.WithCancel(ctx)
	defer abort()

	w, err := s.store.NewWriter(writeCtx, key)
	if err != nil {
		return nil, &ArchiveError{Stage: "open", Err: err}
	}
	hasher := sha256.New()
	size := &countingWriter{}
	gz := gzip.NewWriter(io.MultiWriter(w, hasher, size))

	discard := func() {
		abort()
		_ = w.Close()
		if derr := s.store.Delete(context.Background(), key); derr != nil {
			s.logger.Warn("failed to remove partial snapshot", zap.String("key", key), zap.Error(derr))
		}
	}

	counts, err := s.dump(ctx, json.NewEncoder(gz), takenAt)
	if err == nil {
		err = gz.Close()
	}
	if err != nil {
		discard()
		if ctx.Err() != nil {
			return nil, &ArchiveError{Stage: "cancelled", Err: ctx.Err()}
		}
		return nil, &ArchiveError{Stage: "read", Err: err}
	}
	if err := w.Close(); err != nil {
		discard()
		return nil, &ArchiveError{Stage: "upload", Err: err}
	}

	snapshot := &model.Snapshot{
		ID:        id,
		ObjectKey: key,
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes: size.n,
		Counts:    *counts,
	}
	if err := s.snapshotRepo.Create(context.WithoutCancel(ctx), snapshot); err != nil {
		discard()
		return nil, &ArchiveError{Stage: "record", Err: err}
	}

	s.logger.Info("snapshot created",
		zap.String("snapshot_id", id.String()),
		zap.String("key", key),
		zap.Int64("products", counts.Products),
		zap.Int64("variants", counts.Variants),
		zap.Int64("customers", counts.Customers),
		zap.Int64("invoices", counts.Invoices))
	s.events.Publish(event.Event{Type: event.SnapshotCreated, Reference: id.String(), At: time.Now()})
	return snapshot, nil
}

// dump streams every table from one read transaction, page by page.
func (s *snapshotService) dump(ctx context.Context, enc *json.Encoder, takenAt time.Time) (*model.TableCounts, error) {
	counts := &model.TableCounts{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := enc.Encode(snapshotLine{Kind: lineHeader, Version: snapshotFormatVersion, TakenAt: &takenAt}); err != nil {
			return err
		}

		var customers []model.Customer
		res := tx.FindInBatches(&customers, s.cfg.BatchSize, func(_ *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := range customers {
				if err := enc.Encode(snapshotLine{Kind: lineCustomer, Customer: &customers[i]}); err != nil {
					return err
				}
			}
			counts.Customers += int64(len(customers))
			return nil
		})
		if res.Error != nil {
			return fmt.Errorf("customers: %w", res.Error)
		}

		var products []model.Product
		res = tx.Preload("Variants", repository.PreloadVariants).FindInBatches(&products, s.cfg.BatchSize, func(_ *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := range products {
				if err := enc.Encode(snapshotLine{Kind: lineProduct, Product: &products[i]}); err != nil {
					return err
				}
				counts.Variants += int64(len(products[i].Variants))
			}
			counts.Products += int64(len(products))
			return nil
		})
		if res.Error != nil {
			return fmt.Errorf("products: %w", res.Error)
		}

		var invoices []model.Invoice
		res = tx.Preload("Items", repository.PreloadItems).FindInBatches(&invoices, s.cfg.BatchSize, func(_ *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := range invoices {
				if err := enc.Encode(snapshotLine{Kind: lineInvoice, Invoice: &invoices[i]}); err != nil {
					return err
				}
				counts.InvoiceItems += int64(len(invoices[i].Items))
			}
			counts.Invoices += int64(len(invoices))
			return nil
		})
		if res.Error != nil {
			return fmt.Errorf("invoices: %w", res.Error)
		}

		return enc.Encode(snapshotLine{Kind: lineFooter, Counts: counts})
	}, readTxOptions(s.db)...)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *snapshotService) GetSnapshot(ctx context.Context, id uuid.UUID) (*model.Snapshot, error) {
	snap, err := s.snapshotRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return snap, nil
}

func (s *snapshotService) ListSnapshots(ctx context.Context) ([]model.Snapshot, error) {
	return s.snapshotRepo.FindAll(ctx)
}
