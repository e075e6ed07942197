package service

import (
	"context"

	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"

	"github.com/google/uuid"
)

type AdjustmentItem struct {
	ProductID uuid.UUID  `json:"product_id" validate:"uuid_required"`
	VariantID *uuid.UUID `json:"variant_id"`
	Delta     int        `json:"delta" validate:"ne=0"`
	Note      string     `json:"note"`
}

type AdjustmentInput struct {
	Items []AdjustmentItem `json:"items" validate:"required,min=1,dive"`
}

type LedgerPage struct {
	Entries  []model.StockLedgerEntry `json:"entries"`
	Total    int64                    `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

// Discrepancy is a record whose quantity no longer equals baseline plus ledger.
type Discrepancy struct {
	Record    model.StockRecord `json:"record"`
	LedgerSum int               `json:"ledger_sum"`
	Expected  int               `json:"expected"`
}

type ReconcileReport struct {
	Checked       int           `json:"checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

type StockService interface {
	GetStockRecord(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*model.StockRecord, error)
	ListLedgerEntries(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, page repository.Page) (*LedgerPage, error)
	AdjustStock(ctx context.Context, in *AdjustmentInput, actor string) (*BatchResult, error)
	Reconcile(ctx context.Context) (*ReconcileReport, error)
}

type stockService struct {
	resolver    VariantResolver
	ledger      StockLedger
	productRepo repository.ProductRepository
	ledgerRepo  repository.LedgerRepository
}

func NewStockService(resolver VariantResolver, ledger StockLedger, pRepo repository.ProductRepository, lRepo repository.LedgerRepository) StockService {
	return &stockService{resolver: resolver, ledger: ledger, productRepo: pRepo, ledgerRepo: lRepo}
}

func (s *stockService) GetStockRecord(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*model.StockRecord, error) {
	return s.resolver.Resolve(ctx, productID, variantID)
}

func (s *stockService) ListLedgerEntries(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, page repository.Page) (*LedgerPage, error) {
	rec, err := s.resolver.Resolve(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}
	entries, total, err := s.ledgerRepo.List(ctx, repository.LedgerFilter{
		ProductID: rec.ProductID,
		VariantID: rec.VariantID,
		Page:      page,
	})
	if err != nil {
		return nil, err
	}
	return &LedgerPage{Entries: entries, Total: total, Page: page.Page, PageSize: page.Limit()}, nil
}

// AdjustStock applies a manual correction batch, resolving every line first.
func (s *stockService) AdjustStock(ctx context.Context, in *AdjustmentInput, actor string) (*BatchResult, error) {
	if err := validationError(in); err != nil {
		return nil, err
	}
	refs := make([]ItemRef, len(in.Items))
	for i, it := range in.Items {
		refs[i] = ItemRef{ProductID: it.ProductID, VariantID: it.VariantID}
	}
	records, errs := s.resolver.ResolveItems(ctx, refs)
	if failures := itemFailures(refs, errs); len(failures) > 0 {
		return nil, &AdjustmentError{Items: failures}
	}

	batch := Batch{Reason: model.ReasonManualAdjustment, Actor: actor}
	for i, it := range in.Items {
		batch.Items = append(batch.Items, BatchItem{
			ProductID: records[i].ProductID,
			VariantID: records[i].VariantID,
			Delta:     it.Delta,
			Note:      it.Note,
		})
	}
	return s.ledger.ApplyBatch(ctx, batch)
}

func (s *stockService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	records, err := s.productRepo.ListStockRecords(ctx)
	if err != nil {
		return nil, err
	}
	nets, err := s.ledgerRepo.NetByRecord(ctx)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]int, len(nets))
	for _, n := range nets {
		sums[n.Key()] = n.Net
	}

	report := &ReconcileReport{Checked: len(records)}
	for _, rec := range records {
		sum := sums[rec.Key()]
		if expected := rec.BaselineQty + sum; expected != rec.Qty {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{Record: rec, LedgerSum: sum, Expected: expected})
		}
	}
	return report, nil
}
