package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/pkg/lock"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type BatchItem struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Delta     int
	Note      string
}

func (it BatchItem) key() string {
	return model.RecordKey(it.ProductID, it.VariantID)
}

// Batch is a set of quantity changes applied all together or not at all.
//
// Invoice batches count only entries in the invoice's current InvoiceEpoch.
// Opening is the deduction already in effect when that epoch began, as
// negative nets per record.
type Batch struct {
	Reason       model.LedgerReason
	InvoiceID    *uuid.UUID
	InvoiceEpoch int64
	Opening      []repository.RecordNet
	Actor        string
	Items        []BatchItem
}

type BatchResult struct {
	BatchID  uuid.UUID                `json:"batch_id"`
	Entries  []model.StockLedgerEntry `json:"entries"`
	Records  []model.StockRecord      `json:"records"`
	Attempts int                      `json:"attempts"`
}

type LedgerConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

type StockLedger interface {
	ApplyBatch(ctx context.Context, batch Batch) (*BatchResult, error)
	// RebaseTx sets a record to qty inside the caller's transaction, recording
	// the difference as a restore entry.
	RebaseTx(tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, qty int, actor string) (*model.StockLedgerEntry, error)
	// InvoiceNet sums the invoice's entries within one epoch.
	InvoiceNet(ctx context.Context, invoiceID uuid.UUID, epoch int64) ([]repository.RecordNet, error)
}

type stockLedger struct {
	db          *gorm.DB
	productRepo repository.ProductRepository
	ledgerRepo  repository.LedgerRepository
	locker      lock.Locker
	events      event.Publisher
	logger      *zap.Logger
	cfg         LedgerConfig
}

func NewStockLedger(db *gorm.DB, pRepo repository.ProductRepository, lRepo repository.LedgerRepository, locker lock.Locker, events event.Publisher, logger *zap.Logger, cfg LedgerConfig) StockLedger {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 4
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 20 * time.Millisecond
	}
	if events == nil {
		events = event.Discard
	}
	return &stockLedger{
		db:          db,
		productRepo: pRepo,
		ledgerRepo:  lRepo,
		locker:      locker,
		events:      events,
		logger:      logger.Named("ledger"),
		cfg:         cfg,
	}
}

// recordPlan is the validated state of one record touched by a batch.
type recordPlan struct {
	current model.StockRecord
	delta   int
}

func (l *stockLedger) ApplyBatch(ctx context.Context, batch Batch) (*BatchResult, error) {
	if err := validateBatch(batch); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(batch.Items))
	for _, it := range batch.Items {
		keys = append(keys, it.key())
	}
	if l.locker != nil {
		release, err := l.locker.Acquire(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("acquire stock locks: %w", err)
		}
		defer release()
	}

	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		plans, order, err := l.validate(ctx, batch)
		if err != nil {
			return nil, err
		}

		result, err := l.commit(ctx, batch, plans, order)
		if errors.Is(err, repository.ErrStaleVersion) {
			l.logger.Warn("stale stock record, retrying batch",
				zap.String("reason", string(batch.Reason)),
				zap.Int("attempt", attempt))
			if werr := sleepContext(ctx, time.Duration(attempt)*l.cfg.RetryBackoff); werr != nil {
				return nil, werr
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		result.Attempts = attempt
		l.logger.Info("stock batch committed",
			zap.String("batch_id", result.BatchID.String()),
			zap.String("reason", string(batch.Reason)),
			zap.Int("entries", len(result.Entries)),
			zap.Int("attempts", attempt))
		l.publish(batch, result)
		return result, nil
	}

	return nil, &ConcurrentModificationError{RecordKeys: lock.NormalizeKeys(keys), Attempts: l.cfg.MaxAttempts}
}

func validateBatch(batch Batch) error {
	if len(batch.Items) == 0 {
		return ErrEmptyBatch
	}
	switch batch.Reason {
	case model.ReasonInvoiceSent, model.ReasonInvoiceReverted:
		if batch.InvoiceID == nil {
			return fmt.Errorf("%w: %s batch requires an invoice id", ErrValidation, batch.Reason)
		}
	case model.ReasonManualAdjustment:
	default:
		return fmt.Errorf("%w: unsupported batch reason %q", ErrValidation, batch.Reason)
	}
	for i, it := range batch.Items {
		if it.Delta == 0 {
			return fmt.Errorf("%w: item %d has zero delta", ErrValidation, i)
		}
		if batch.Reason == model.ReasonInvoiceSent && it.Delta > 0 {
			return fmt.Errorf("%w: item %d: deduction must be negative", ErrValidation, i)
		}
		if batch.Reason == model.ReasonInvoiceReverted && it.Delta < 0 {
			return fmt.Errorf("%w: item %d: restoration must be positive", ErrValidation, i)
		}
	}
	return nil
}

// validate reads every record once and checks the summed deltas keep it non-negative.
func (l *stockLedger) validate(ctx context.Context, batch Batch) (map[string]*recordPlan, []string, error) {
	plans := make(map[string]*recordPlan)
	order := make([]string, 0, len(batch.Items))
	db := l.db.WithContext(ctx)

	for _, it := range batch.Items {
		k := it.key()
		p, ok := plans[k]
		if !ok {
			rec, err := l.productRepo.LoadStockRecord(db, it.ProductID, it.VariantID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return nil, nil, l.missingRecord(ctx, it)
				}
				return nil, nil, err
			}
			p = &recordPlan{current: *rec}
			plans[k] = p
			order = append(order, k)
		}
		p.delta += it.Delta
	}

	var short []Shortfall
	for _, k := range order {
		p := plans[k]
		if p.current.Qty+p.delta < 0 {
			short = append(short, Shortfall{
				ProductID: p.current.ProductID,
				VariantID: p.current.VariantID,
				SKU:       p.current.SKU,
				Requested: -p.delta,
				Available: p.current.Qty,
			})
		}
	}
	if len(short) > 0 {
		return nil, nil, &InsufficientStockError{Items: short}
	}
	return plans, order, nil
}

// missingRecord names what a failed record lookup was missing, listing the
// product's variants when only the variant is unknown.
func (l *stockLedger) missingRecord(ctx context.Context, it BatchItem) error {
	p, err := l.productRepo.FindByID(ctx, it.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &ProductNotFoundError{ProductID: it.ProductID}
		}
		return err
	}
	if it.VariantID == nil {
		return &ProductNotFoundError{ProductID: it.ProductID}
	}
	id := *it.VariantID
	return &VariantNotFoundError{ProductID: p.ID, VariantID: &id, AvailableVariantIDs: p.VariantIDs()}
}

func (l *stockLedger) commit(ctx context.Context, batch Batch, plans map[string]*recordPlan, order []string) (*BatchResult, error) {
	result := &BatchResult{BatchID: uuid.New()}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if batch.InvoiceID != nil {
			if err := l.guardInvoice(tx, batch); err != nil {
				return err
			}
		}

		for _, k := range order {
			p := plans[k]
			if err := l.productRepo.CompareAndSwapQty(tx, p.current, p.current.Qty+p.delta); err != nil {
				return err
			}
		}

		running := make(map[string]int, len(plans))
		for k, p := range plans {
			running[k] = p.current.Qty
		}
		entries := make([]model.StockLedgerEntry, 0, len(batch.Items))
		for _, it := range batch.Items {
			k := it.key()
			before := running[k]
			running[k] = before + it.Delta
			entries = append(entries, model.StockLedgerEntry{
				BatchID:      result.BatchID,
				ProductID:    it.ProductID,
				VariantID:    it.VariantID,
				Delta:        it.Delta,
				QtyBefore:    before,
				QtyAfter:     running[k],
				Reason:       batch.Reason,
				InvoiceID:    batch.InvoiceID,
				InvoiceEpoch: batch.InvoiceEpoch,
				Note:         it.Note,
				Actor:        batch.Actor,
			})
		}
		if err := l.ledgerRepo.AppendTx(tx, entries); err != nil {
			return err
		}

		result.Entries = entries
		for _, k := range order {
			rec := plans[k].current
			rec.Qty = running[k]
			rec.Version++
			result.Records = append(result.Records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// guardInvoice makes invoice batches idempotent: an invoice is deducted at
// most once until it is restored, and never restored beyond what was deducted.
func (l *stockLedger) guardInvoice(tx *gorm.DB, batch Batch) error {
	nets, err := l.ledgerRepo.NetByInvoiceTx(tx, *batch.InvoiceID, batch.InvoiceEpoch)
	if err != nil {
		return err
	}
	netByKey := make(map[string]int, len(nets)+len(batch.Opening))
	outstanding := false
	for _, n := range outstandingNets(nets, batch.Opening) {
		netByKey[n.Key()] = n.Net
		if n.Net != 0 {
			outstanding = true
		}
	}

	switch batch.Reason {
	case model.ReasonInvoiceSent:
		if outstanding {
			return &AlreadyProcessedError{InvoiceID: *batch.InvoiceID}
		}
	case model.ReasonInvoiceReverted:
		if !outstanding {
			return &AlreadyProcessedError{InvoiceID: *batch.InvoiceID}
		}
		for _, it := range batch.Items {
			netByKey[it.key()] += it.Delta
			if netByKey[it.key()] > 0 {
				return fmt.Errorf("%w: restoration of %s exceeds deducted quantity", ErrValidation, it.key())
			}
		}
	}
	return nil
}

// outstandingNets adds the epoch's ledger nets to its opening deduction, one
// entry per record in first-seen order.
func outstandingNets(nets, opening []repository.RecordNet) []repository.RecordNet {
	var out []repository.RecordNet
	pos := make(map[string]int)
	for _, src := range [][]repository.RecordNet{opening, nets} {
		for _, n := range src {
			k := n.Key()
			if i, ok := pos[k]; ok {
				out[i].Net += n.Net
				continue
			}
			pos[k] = len(out)
			out = append(out, n)
		}
	}
	return out
}

func (l *stockLedger) RebaseTx(tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, qty int, actor string) (*model.StockLedgerEntry, error) {
	if qty < 0 {
		return nil, ErrRestoreNegativeQuantity
	}
	rec, err := l.productRepo.LoadStockRecord(tx, productID, variantID)
	if err != nil {
		return nil, err
	}
	delta := qty - rec.Qty
	if delta == 0 {
		return nil, nil
	}
	if err := l.productRepo.CompareAndSwapQty(tx, *rec, qty); err != nil {
		return nil, err
	}
	entries := []model.StockLedgerEntry{{
		BatchID:   uuid.New(),
		ProductID: productID,
		VariantID: variantID,
		Delta:     delta,
		QtyBefore: rec.Qty,
		QtyAfter:  qty,
		Reason:    model.ReasonRestore,
		Note:      "snapshot restore",
		Actor:     actor,
	}}
	if err := l.ledgerRepo.AppendTx(tx, entries); err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (l *stockLedger) InvoiceNet(ctx context.Context, invoiceID uuid.UUID, epoch int64) ([]repository.RecordNet, error) {
	return l.ledgerRepo.NetByInvoiceTx(l.db.WithContext(ctx), invoiceID, epoch)
}

func (l *stockLedger) publish(batch Batch, result *BatchResult) {
	deltas := make(map[string]int, len(result.Records))
	for _, e := range result.Entries {
		deltas[e.RecordKey()] += e.Delta
	}
	now := time.Now()
	for _, rec := range result.Records {
		pid, qty := rec.ProductID, rec.Qty
		l.events.Publish(event.Event{
			Type:      event.StockChanged,
			ProductID: &pid,
			VariantID: rec.VariantID,
			InvoiceID: batch.InvoiceID,
			Qty:       &qty,
			Delta:     deltas[rec.Key()],
			Reference: string(batch.Reason),
			Actor:     batch.Actor,
			At:        now,
		})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
