package service

import (
	"errors"
	"fmt"
	"strings"

	"go-invoice-stock/internal/model"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound         = errors.New("product not found")
	ErrVariantNotFound         = errors.New("variant not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrAlreadyProcessed        = errors.New("stock already processed")
	ErrArchive                 = errors.New("snapshot archive failed")
	ErrRestoreIntegrity        = errors.New("restore integrity violation")
	ErrInvoiceNotFound         = errors.New("invoice not found")
	ErrCustomerNotFound        = errors.New("customer not found")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
	ErrInvoiceLocked           = errors.New("invoice items cannot change after stock processing")
	ErrSKUExists               = errors.New("sku already exists")
	ErrProductReferenced       = errors.New("product is referenced by invoices")
	ErrValidation              = errors.New("validation failed")
	ErrEmptyBatch              = errors.New("stock batch has no items")
	ErrRestoreNegativeQuantity = errors.New("restore quantity must not be negative")
)

type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// VariantNotFoundError also covers a missing variant id on a product that
// requires one; VariantID is then nil.
type VariantNotFoundError struct {
	ProductID           uuid.UUID
	VariantID           *uuid.UUID
	AvailableVariantIDs []uuid.UUID
}

func (e *VariantNotFoundError) Error() string {
	if e.VariantID == nil {
		return fmt.Sprintf("product %s has variants, a variant id is required (available: %s)",
			e.ProductID, joinIDs(e.AvailableVariantIDs))
	}
	return fmt.Sprintf("variant %s not found on product %s (available: %s)",
		*e.VariantID, e.ProductID, joinIDs(e.AvailableVariantIDs))
}

func (e *VariantNotFoundError) Is(target error) bool { return target == ErrVariantNotFound }

type Shortfall struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	SKU       string     `json:"sku"`
	Requested int        `json:"requested"`
	Available int        `json:"available"`
}

type InsufficientStockError struct {
	Items []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", it.SKU, it.Requested, it.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ConcurrentModificationError struct {
	RecordKeys []string
	Attempts   int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("stock records %s changed concurrently, gave up after %d attempts",
		strings.Join(e.RecordKeys, ","), e.Attempts)
}

func (e *ConcurrentModificationError) Is(target error) bool { return target == ErrConcurrentModification }

type InvalidTransitionError struct {
	From model.InvoiceStatus
	To   model.InvoiceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type AlreadyProcessedError struct {
	InvoiceID uuid.UUID
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("stock for invoice %s already processed", e.InvoiceID)
}

func (e *AlreadyProcessedError) Is(target error) bool { return target == ErrAlreadyProcessed }

type ArchiveError struct {
	Stage string
	Err   error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Stage, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

func (e *ArchiveError) Is(target error) bool { return target == ErrArchive }

type RestoreIntegrityViolation struct {
	Table      string
	Violations []string
}

func (e *RestoreIntegrityViolation) Error() string {
	return fmt.Sprintf("table %s: %d integrity violation(s): %s",
		e.Table, len(e.Violations), strings.Join(e.Violations, "; "))
}

func (e *RestoreIntegrityViolation) Is(target error) bool { return target == ErrRestoreIntegrity }

// ItemFailure ties a per-item error to its line position.
type ItemFailure struct {
	Index     int        `json:"index"`
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Err       error      `json:"-"`
	Message   string     `json:"message"`
}

// TransitionError reports every reason a status change was refused.
type TransitionError struct {
	InvoiceID uuid.UUID
	From      model.InvoiceStatus
	To        model.InvoiceStatus
	Items     []ItemFailure
	Cause     error
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invoice %s %s -> %s failed", e.InvoiceID, e.From, e.To)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	for _, it := range e.Items {
		fmt.Fprintf(&b, "; item %d: %s", it.Index, it.Message)
	}
	return b.String()
}

func (e *TransitionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Items)+1)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, it := range e.Items {
		errs = append(errs, it.Err)
	}
	return errs
}

// AdjustmentError lists every adjustment line that did not resolve.
type AdjustmentError struct {
	Items []ItemFailure
}

func (e *AdjustmentError) Error() string {
	var b strings.Builder
	b.WriteString("stock adjustment refused")
	for _, it := range e.Items {
		fmt.Fprintf(&b, "; item %d: %s", it.Index, it.Message)
	}
	return b.String()
}

func (e *AdjustmentError) Unwrap() []error {
	errs := make([]error, len(e.Items))
	for i, it := range e.Items {
		errs[i] = it.Err
	}
	return errs
}

func joinIDs(ids []uuid.UUID) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
