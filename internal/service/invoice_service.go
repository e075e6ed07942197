package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InvoiceItemInput struct {
	ProductID uuid.UUID       `json:"product_id" validate:"uuid_required"`
	VariantID *uuid.UUID      `json:"variant_id"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"decimal_nonneg"`
}

type CreateInvoiceInput struct {
	CustomerID uuid.UUID          `json:"customer_id" validate:"uuid_required"`
	Note       string             `json:"note"`
	Items      []InvoiceItemInput `json:"items" validate:"dive"`
}

type StockReportItem struct {
	Index     int        `json:"index"`
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	SKU       string     `json:"sku,omitempty"`
	Delta     int        `json:"delta"`
	QtyAfter  *int       `json:"qty_after,omitempty"`
	Error     string     `json:"error,omitempty"`
}

const (
	StockActionNone    = "none"
	StockActionDeduct  = "deduct"
	StockActionRestore = "restore"
	StockActionResumed = "resumed"
)

type StockReport struct {
	Action  string            `json:"action"`
	BatchID *uuid.UUID        `json:"batch_id,omitempty"`
	Items   []StockReportItem `json:"items"`
}

type TransitionResult struct {
	Invoice *model.Invoice      `json:"invoice"`
	From    model.InvoiceStatus `json:"from"`
	To      model.InvoiceStatus `json:"to"`
	Report  StockReport         `json:"stock_report"`
}

type InvoiceService interface {
	CreateInvoice(ctx context.Context, in *CreateInvoiceInput) (*model.Invoice, error)
	UpdateItems(ctx context.Context, id uuid.UUID, items []InvoiceItemInput) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter repository.InvoiceFilter) ([]model.Invoice, int64, error)
	// ChangeStatus moves the invoice and its stock together. When the stock
	// move is refused the result is still returned with the per-item report.
	ChangeStatus(ctx context.Context, id uuid.UUID, to model.InvoiceStatus, actor string) (*TransitionResult, error)
}

type stockEffect int

const (
	effectNone stockEffect = iota
	effectDeduct
	effectRestore
)

// transitions is the only place status legality and stock side effects live.
var transitions = map[model.InvoiceStatus]map[model.InvoiceStatus]stockEffect{
	model.InvoiceDraft: {
		model.InvoicePending:   effectNone,
		model.InvoiceSent:      effectDeduct,
		model.InvoiceCancelled: effectRestore,
	},
	model.InvoicePending: {
		model.InvoiceSent:      effectDeduct,
		model.InvoiceCancelled: effectRestore,
	},
	model.InvoiceSent: {
		model.InvoiceDraft:     effectRestore,
		model.InvoicePaid:      effectNone,
		model.InvoiceOverdue:   effectNone,
		model.InvoiceCancelled: effectRestore,
	},
	model.InvoiceOverdue: {
		model.InvoicePaid:      effectNone,
		model.InvoiceCancelled: effectRestore,
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.InvoiceStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

type invoiceService struct {
	invoiceRepo  repository.InvoiceRepository
	customerRepo repository.CustomerRepository
	resolver     VariantResolver
	ledger       StockLedger
	events       event.Publisher
	logger       *zap.Logger
}

func NewInvoiceService(iRepo repository.InvoiceRepository, cRepo repository.CustomerRepository, resolver VariantResolver, ledger StockLedger, events event.Publisher, logger *zap.Logger) InvoiceService {
	if events == nil {
		events = event.Discard
	}
	return &invoiceService{
		invoiceRepo:  iRepo,
		customerRepo: cRepo,
		resolver:     resolver,
		ledger:       ledger,
		events:       events,
		logger:       logger.Named("invoice"),
	}
}

func validationError(data interface{}) error {
	if errs := validator.ValidateStruct(data); len(errs) > 0 {
		first := errs[0]
		return fmt.Errorf("%w: field '%s' failed on tag '%s'", ErrValidation, first.FailedField, first.Tag)
	}
	return nil
}

func buildItems(inputs []InvoiceItemInput) []model.InvoiceItem {
	items := make([]model.InvoiceItem, len(inputs))
	for i, in := range inputs {
		items[i] = model.InvoiceItem{
			ProductID: in.ProductID,
			VariantID: in.VariantID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Position:  i,
		}
	}
	return items
}

func (s *invoiceService) CreateInvoice(ctx context.Context, in *CreateInvoiceInput) (*model.Invoice, error) {
	if err := validationError(in); err != nil {
		return nil, err
	}
	if _, err := s.customerRepo.FindByID(ctx, in.CustomerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}

	inv := &model.Invoice{
		CustomerID: in.CustomerID,
		Status:     model.InvoiceDraft,
		Note:       in.Note,
		Items:      buildItems(in.Items),
	}
	inv.Recalculate()
	if err := s.invoiceRepo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.logger.Info("invoice created", zap.String("invoice_id", inv.ID.String()), zap.Int64("number", inv.Number))
	return inv, nil
}

func (s *invoiceService) UpdateItems(ctx context.Context, id uuid.UUID, inputs []InvoiceItemInput) (*model.Invoice, error) {
	for i := range inputs {
		if err := validationError(&inputs[i]); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.Editable() {
		return nil, ErrInvoiceLocked
	}
	inv.Items = buildItems(inputs)
	inv.Recalculate()
	if err := s.invoiceRepo.ReplaceItems(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrInvoiceLocked) {
			return nil, ErrInvoiceLocked
		}
		return nil, err
	}
	return s.GetInvoice(ctx, id)
}

func (s *invoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter repository.InvoiceFilter) ([]model.Invoice, int64, error) {
	return s.invoiceRepo.FindAll(ctx, filter)
}

func (s *invoiceService) ChangeStatus(ctx context.Context, id uuid.UUID, to model.InvoiceStatus, actor string) (*TransitionResult, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	from := inv.Status

	if from == to && to == model.InvoiceSent && inv.StockProcessed {
		return nil, &AlreadyProcessedError{InvoiceID: inv.ID}
	}
	if !to.Valid() || !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}

	result := &TransitionResult{From: from, To: to, Report: StockReport{Action: StockActionNone}}
	processed := inv.StockProcessed
	stockMoved := false

	switch transitions[from][to] {
	case effectDeduct:
		if !inv.StockProcessed {
			report, err := s.deduct(ctx, inv, actor)
			switch {
			case errors.Is(err, ErrAlreadyProcessed):
				// ledger committed on an earlier attempt whose status write never landed
				s.logger.Warn("resuming interrupted transition", zap.String("invoice_id", inv.ID.String()))
				report = StockReport{Action: StockActionResumed}
			case err != nil:
				result.Invoice = inv
				result.Report = report
				return result, err
			default:
				stockMoved = true
			}
			result.Report = report
			processed = true
		}
	case effectRestore:
		if inv.StockProcessed {
			report, err := s.restore(ctx, inv, to, actor)
			switch {
			case errors.Is(err, ErrAlreadyProcessed):
				s.logger.Warn("stock already restored, resuming transition", zap.String("invoice_id", inv.ID.String()))
				report = StockReport{Action: StockActionResumed}
			case err != nil:
				result.Invoice = inv
				result.Report = report
				return result, err
			default:
				stockMoved = true
			}
			result.Report = report
			processed = false
		}
	}

	err = s.invoiceRepo.UpdateStatus(ctx, inv.ID,
		repository.StatusState{Status: from, StockProcessed: inv.StockProcessed},
		repository.StatusState{Status: to, StockProcessed: processed})
	if errors.Is(err, repository.ErrStatusChanged) {
		err = s.lostStatusRace(ctx, inv, to, processed, stockMoved, actor)
	}
	if err != nil {
		var pe *AlreadyProcessedError
		var ce *ConcurrentModificationError
		if errors.As(err, &pe) || errors.As(err, &ce) {
			return nil, err
		}
		return nil, fmt.Errorf("persist invoice status: %w", err)
	}

	updated, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	result.Invoice = updated

	s.logger.Info("invoice status changed",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("stock_action", result.Report.Action))
	invID := inv.ID
	s.events.Publish(event.Event{
		Type:      event.InvoiceStatusChanged,
		InvoiceID: &invID,
		Status:    string(to),
		Actor:     actor,
		Message:   fmt.Sprintf("invoice #%d %s -> %s", inv.Number, from, to),
		At:        time.Now(),
	})
	return result, nil
}

// lostStatusRace handles a status write that found the invoice already
// changed by someone else. A nil return means the invoice ended up exactly
// where this call was taking it, with this call's ledger batch in effect.
func (s *invoiceService) lostStatusRace(ctx context.Context, inv *model.Invoice, to model.InvoiceStatus, processed, stockMoved bool, actor string) error {
	cur, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}
	if cur.Status == to && cur.StockProcessed == processed {
		if stockMoved {
			return nil
		}
		if to == model.InvoiceSent {
			return &AlreadyProcessedError{InvoiceID: inv.ID}
		}
		return &ConcurrentModificationError{RecordKeys: []string{"invoice:" + inv.ID.String()}, Attempts: 1}
	}
	if stockMoved {
		// our ledger batch committed but the invoice went elsewhere; undo it so
		// the ledger matches the winning status
		if processed && !cur.StockProcessed {
			if _, err := s.restore(ctx, cur, cur.Status, actor); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
				s.logger.Error("compensating restore failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
			}
		}
		if !processed && cur.StockProcessed {
			if _, err := s.deduct(ctx, cur, actor); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
				s.logger.Error("compensating deduction failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
			}
		}
	}
	return &ConcurrentModificationError{RecordKeys: []string{"invoice:" + inv.ID.String()}, Attempts: 1}
}

// resolveItems maps the invoice lines to stock records, collecting every
// line that does not resolve.
func (s *invoiceService) resolveItems(ctx context.Context, inv *model.Invoice) ([]*model.StockRecord, []ItemFailure) {
	refs := make([]ItemRef, len(inv.Items))
	for i, it := range inv.Items {
		refs[i] = ItemRef{ProductID: it.ProductID, VariantID: it.VariantID}
	}
	records, errs := s.resolver.ResolveItems(ctx, refs)
	return records, itemFailures(refs, errs)
}

func itemFailures(refs []ItemRef, errs []error) []ItemFailure {
	var failures []ItemFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, ItemFailure{
				Index: i, ProductID: refs[i].ProductID, VariantID: refs[i].VariantID, Err: err, Message: err.Error(),
			})
		}
	}
	return failures
}

func failureReport(report StockReport, failures []ItemFailure) StockReport {
	for _, f := range failures {
		report.Items = append(report.Items, StockReportItem{Index: f.Index, ProductID: f.ProductID, VariantID: f.VariantID, Error: f.Message})
	}
	return report
}

// openingNets is the deduction in effect when the invoice's epoch began: the
// frozen items of an invoice restored as processed, nothing otherwise.
func openingNets(inv *model.Invoice, records []*model.StockRecord) []repository.RecordNet {
	if !inv.StockOpening {
		return nil
	}
	nets := make([]repository.RecordNet, 0, len(records))
	for i, rec := range records {
		nets = append(nets, repository.RecordNet{ProductID: rec.ProductID, VariantID: rec.VariantID, Net: -inv.Items[i].Quantity})
	}
	return nets
}

func (s *invoiceService) deduct(ctx context.Context, inv *model.Invoice, actor string) (StockReport, error) {
	report := StockReport{Action: StockActionDeduct}
	if len(inv.Items) == 0 {
		return report, &TransitionError{InvoiceID: inv.ID, From: inv.Status, To: model.InvoiceSent, Cause: ErrEmptyBatch}
	}

	records, failures := s.resolveItems(ctx, inv)
	if len(failures) > 0 {
		return failureReport(report, failures), &TransitionError{InvoiceID: inv.ID, From: inv.Status, To: model.InvoiceSent, Items: failures}
	}

	batch := Batch{
		Reason:       model.ReasonInvoiceSent,
		InvoiceID:    &inv.ID,
		InvoiceEpoch: inv.StockEpoch,
		Opening:      openingNets(inv, records),
		Actor:        actor,
	}
	for i, it := range inv.Items {
		batch.Items = append(batch.Items, BatchItem{
			ProductID: records[i].ProductID,
			VariantID: records[i].VariantID,
			Delta:     -it.Quantity,
			Note:      fmt.Sprintf("invoice #%d line %d", inv.Number, i+1),
		})
	}

	res, err := s.ledger.ApplyBatch(ctx, batch)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return report, err
		}
		terr := &TransitionError{InvoiceID: inv.ID, From: inv.Status, To: model.InvoiceSent, Cause: err}
		var short *InsufficientStockError
		if errors.As(err, &short) {
			for i, rec := range records {
				for _, sf := range short.Items {
					if model.RecordKey(sf.ProductID, sf.VariantID) == rec.Key() {
						msg := fmt.Sprintf("%s: requested %d, available %d", rec.SKU, sf.Requested, sf.Available)
						report.Items = append(report.Items, StockReportItem{Index: i, ProductID: rec.ProductID, VariantID: rec.VariantID, SKU: rec.SKU, Error: msg})
					}
				}
			}
		}
		return report, terr
	}

	report.BatchID = &res.BatchID
	report.Items = reportFromBatch(res)
	return report, nil
}

// restore returns what is outstanding for the invoice in its current epoch:
// the opening deduction plus whatever the ledger recorded since, not whatever
// the item list says now.
func (s *invoiceService) restore(ctx context.Context, inv *model.Invoice, to model.InvoiceStatus, actor string) (StockReport, error) {
	report := StockReport{Action: StockActionRestore}
	nets, err := s.ledger.InvoiceNet(ctx, inv.ID, inv.StockEpoch)
	if err != nil {
		return report, err
	}
	var opening []repository.RecordNet
	if inv.StockOpening {
		records, failures := s.resolveItems(ctx, inv)
		if len(failures) > 0 {
			return failureReport(report, failures), &TransitionError{InvoiceID: inv.ID, From: inv.Status, To: to, Items: failures}
		}
		opening = openingNets(inv, records)
	}

	batch := Batch{
		Reason:       model.ReasonInvoiceReverted,
		InvoiceID:    &inv.ID,
		InvoiceEpoch: inv.StockEpoch,
		Opening:      opening,
		Actor:        actor,
	}
	for _, n := range outstandingNets(nets, opening) {
		if n.Net < 0 {
			batch.Items = append(batch.Items, BatchItem{
				ProductID: n.ProductID,
				VariantID: n.VariantID,
				Delta:     -n.Net,
				Note:      fmt.Sprintf("invoice #%d restored", inv.Number),
			})
		}
	}
	if len(batch.Items) == 0 {
		return report, &AlreadyProcessedError{InvoiceID: inv.ID}
	}

	res, err := s.ledger.ApplyBatch(ctx, batch)
	if err != nil {
		return report, err
	}
	report.BatchID = &res.BatchID
	report.Items = reportFromBatch(res)
	return report, nil
}

func reportFromBatch(res *BatchResult) []StockReportItem {
	items := make([]StockReportItem, len(res.Entries))
	skus := make(map[string]string, len(res.Records))
	for _, rec := range res.Records {
		skus[rec.Key()] = rec.SKU
	}
	for i, e := range res.Entries {
		after := e.QtyAfter
		items[i] = StockReportItem{
			Index:     i,
			ProductID: e.ProductID,
			VariantID: e.VariantID,
			SKU:       skus[e.RecordKey()],
			Delta:     e.Delta,
			QtyAfter:  &after,
		}
	}
	return items
}
