package service

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/pkg/blobstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	TableCustomers = "customers"
	TableProducts  = "products"
	TableInvoices  = "invoices"
)

const (
	TableRestored  = "restored"
	TableFailed    = "failed"
	TableSkipped   = "skipped"
	TableCancelled = "cancelled"
)

type TableReport struct {
	Table      string   `json:"table"`
	Status     string   `json:"status"`
	Rows       int      `json:"rows"`
	ChildRows  int      `json:"child_rows"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Violations []string `json:"violations,omitempty"`
	Error      string   `json:"error,omitempty"`
	Err        error    `json:"-"`
}

type RestoreReport struct {
	SnapshotID uuid.UUID     `json:"snapshot_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Tables     []TableReport `json:"tables"`
}

// OK reports whether every table was restored.
func (r *RestoreReport) OK() bool {
	for _, t := range r.Tables {
		if t.Status != TableRestored {
			return false
		}
	}
	return true
}

func (r *RestoreReport) Table(name string) *TableReport {
	for i := range r.Tables {
		if r.Tables[i].Table == name {
			return &r.Tables[i]
		}
	}
	return nil
}

type RestoreService interface {
	Restore(ctx context.Context, snapshotID uuid.UUID, actor string) (*RestoreReport, error)
}

type restoreService struct {
	db           *gorm.DB
	snapshotRepo repository.SnapshotRepository
	productRepo  repository.ProductRepository
	customerRepo repository.CustomerRepository
	invoiceRepo  repository.InvoiceRepository
	sequenceRepo repository.SequenceRepository
	ledger       StockLedger
	store        blobstore.Store
	events       event.Publisher
	logger       *zap.Logger
}

type RestoreDeps struct {
	SnapshotRepo repository.SnapshotRepository
	ProductRepo  repository.ProductRepository
	CustomerRepo repository.CustomerRepository
	InvoiceRepo  repository.InvoiceRepository
	SequenceRepo repository.SequenceRepository
	Ledger       StockLedger
	Store        blobstore.Store
	Events       event.Publisher
}

func NewRestoreService(db *gorm.DB, deps RestoreDeps, logger *zap.Logger) RestoreService {
	events := deps.Events
	if events == nil {
		events = event.Discard
	}
	return &restoreService{
		db:           db,
		snapshotRepo: deps.SnapshotRepo,
		productRepo:  deps.ProductRepo,
		customerRepo: deps.CustomerRepo,
		invoiceRepo:  deps.InvoiceRepo,
		sequenceRepo: deps.SequenceRepo,
		ledger:       deps.Ledger,
		store:        deps.Store,
		events:       events,
		logger:       logger.Named("restore"),
	}
}

// Restore writes the snapshot back table by table. Each table commits on its
// own; a table with integrity violations is rolled back and reported while
// tables that do not depend on it continue.
func (s *restoreService) Restore(ctx context.Context, snapshotID uuid.UUID, actor string) (*RestoreReport, error) {
	meta, err := s.snapshotRepo.FindByID(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	if err := s.verify(ctx, meta); err != nil {
		return nil, err
	}

	rc, err := s.store.NewReader(ctx, meta.ObjectKey)
	if err != nil {
		return nil, &ArchiveError{Stage: "open", Err: err}
	}
	defer rc.Close()
	gz, err := gzip.NewReader(rc)
	if err != nil {
		return nil, &ArchiveError{Stage: "decompress", Err: err}
	}
	defer gz.Close()

	run := newRestoreRun(ctx, s, actor)
	run.report.SnapshotID = snapshotID
	runErr := run.consume(json.NewDecoder(gz))
	run.report.FinishedAt = time.Now()

	for _, t := range run.report.Tables {
		fields := []zap.Field{
			zap.String("snapshot_id", snapshotID.String()),
			zap.String("table", t.Table),
			zap.String("status", t.Status),
			zap.Int("rows", t.Rows),
		}
		if t.Err != nil {
			fields = append(fields, zap.Error(t.Err))
		}
		s.logger.Info("restore table finished", fields...)
	}
	s.events.Publish(event.Event{Type: event.SnapshotRestored, Reference: snapshotID.String(), Actor: actor, At: time.Now()})
	return run.report, runErr
}

// verify checks the object checksum and that the footer counts match the rows
// actually present, before anything is written.
func (s *restoreService) verify(ctx context.Context, meta *model.Snapshot) error {
	rc, err := s.store.NewReader(ctx, meta.ObjectKey)
	if err != nil {
		return &ArchiveError{Stage: "open", Err: err}
	}
	defer rc.Close()

	hasher := sha256.New()
	tee := io.TeeReader(rc, hasher)
	gz, err := gzip.NewReader(tee)
	if err != nil {
		return &ArchiveError{Stage: "decompress", Err: err}
	}
	defer gz.Close()

	var (
		seen   model.TableCounts
		footer *model.TableCounts
	)
	dec := json.NewDecoder(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var line snapshotLine
		if err := dec.Decode(&line); err == io.EOF {
			break
		} else if err != nil {
			return &ArchiveError{Stage: "decode", Err: err}
		}
		switch line.Kind {
		case lineHeader:
			if line.Version != snapshotFormatVersion {
				return &ArchiveError{Stage: "decode", Err: fmt.Errorf("unsupported snapshot version %d", line.Version)}
			}
		case lineCustomer:
			seen.Customers++
		case lineProduct:
			seen.Products++
			if line.Product != nil {
				seen.Variants += int64(len(line.Product.Variants))
			}
		case lineInvoice:
			seen.Invoices++
			if line.Invoice != nil {
				seen.InvoiceItems += int64(len(line.Invoice.Items))
			}
		case lineFooter:
			footer = line.Counts
		}
	}
	// drain so the checksum covers the whole object
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return &ArchiveError{Stage: "read", Err: err}
	}

	var problems []string
	if sum := hex.EncodeToString(hasher.Sum(nil)); sum != meta.Checksum {
		problems = append(problems, fmt.Sprintf("checksum mismatch: recorded %s, object %s", meta.Checksum, sum))
	}
	if footer == nil {
		problems = append(problems, "snapshot footer missing")
	} else if *footer != seen {
		problems = append(problems, fmt.Sprintf("footer counts %+v do not match rows %+v", *footer, seen))
	}
	if seen != meta.Counts {
		problems = append(problems, fmt.Sprintf("recorded counts %+v do not match rows %+v", meta.Counts, seen))
	}
	if len(problems) > 0 {
		return &RestoreIntegrityViolation{Table: "snapshot", Violations: problems}
	}
	return nil
}

// restoreRun holds the state of one streaming restore.
type restoreRun struct {
	s      *restoreService
	ctx    context.Context
	actor  string
	report *RestoreReport

	current   string
	tx        *gorm.DB
	customers map[uuid.UUID]struct{}
	catalog   catalogSource
	skus      map[string]uuid.UUID
	numbers   map[int64]uuid.UUID
	maxNumber int64
	resolver  VariantResolver
}

var tableOrder = []string{TableCustomers, TableProducts, TableInvoices}

func newRestoreRun(ctx context.Context, s *restoreService, actor string) *restoreRun {
	r := &restoreRun{
		s:         s,
		ctx:       ctx,
		actor:     actor,
		report:    &RestoreReport{StartedAt: time.Now()},
		customers: make(map[uuid.UUID]struct{}),
		catalog:   make(catalogSource),
		skus:      make(map[string]uuid.UUID),
		numbers:   make(map[int64]uuid.UUID),
	}
	r.resolver = NewVariantResolver(r.catalog)
	for _, name := range tableOrder {
		r.report.Tables = append(r.report.Tables, TableReport{Table: name})
	}
	return r
}

func (r *restoreRun) table() *TableReport {
	return r.report.Table(r.current)
}

func tableForLine(kind string) string {
	switch kind {
	case lineCustomer:
		return TableCustomers
	case lineProduct:
		return TableProducts
	case lineInvoice:
		return TableInvoices
	}
	return ""
}

func tableIndex(name string) int {
	for i, t := range tableOrder {
		if t == name {
			return i
		}
	}
	return -1
}

func (r *restoreRun) consume(dec *json.Decoder) error {
	for {
		if err := r.ctx.Err(); err != nil {
			r.cancelRemaining(err)
			return err
		}
		var line snapshotLine
		if err := dec.Decode(&line); err == io.EOF {
			break
		} else if err != nil {
			aerr := &ArchiveError{Stage: "decode", Err: err}
			r.failRemaining(aerr)
			return aerr
		}

		name := tableForLine(line.Kind)
		if name == "" {
			continue
		}
		if name != r.current {
			if r.current != "" && tableIndex(name) < tableIndex(r.current) {
				aerr := &ArchiveError{Stage: "decode", Err: fmt.Errorf("table %s appears after %s", name, r.current)}
				r.failRemaining(aerr)
				return aerr
			}
			r.advanceTo(name)
		}

		switch line.Kind {
		case lineCustomer:
			r.customer(line.Customer)
		case lineProduct:
			r.product(line.Product)
		case lineInvoice:
			r.invoice(line.Invoice)
		}
	}
	r.advanceTo("")
	return nil
}

// advanceTo finishes every table up to name and opens name.
func (r *restoreRun) advanceTo(name string) {
	for _, t := range tableOrder {
		rep := r.report.Table(t)
		if rep.Status != "" {
			continue
		}
		if t == name {
			r.open(t)
			return
		}
		if r.current != t {
			r.open(t)
		}
		r.finish()
	}
}

func (r *restoreRun) open(name string) {
	r.current = name
	rep := r.table()
	if name == TableInvoices {
		for _, dep := range []string{TableCustomers, TableProducts} {
			if d := r.report.Table(dep); d.Status != TableRestored {
				rep.Violations = append(rep.Violations, fmt.Sprintf("depends on table %s which was not restored", dep))
			}
		}
		if len(rep.Violations) > 0 {
			rep.Status = TableSkipped
			rep.Err = &RestoreIntegrityViolation{Table: name, Violations: rep.Violations}
			rep.Error = rep.Err.Error()
			return
		}
	}
	r.tx = r.s.db.WithContext(r.ctx).Begin()
	if r.tx.Error != nil {
		r.setFailed(rep, r.tx.Error)
		r.tx = nil
	}
}

func (r *restoreRun) setFailed(rep *TableReport, err error) {
	rep.Status = TableFailed
	rep.Err = err
	rep.Error = err.Error()
}

// finish commits the current table or rolls it back.
func (r *restoreRun) finish() {
	rep := r.table()
	tx := r.tx
	r.tx = nil
	if rep.Status != "" {
		if tx != nil {
			tx.Rollback()
		}
		return
	}
	if len(rep.Violations) > 0 {
		tx.Rollback()
		r.setFailed(rep, &RestoreIntegrityViolation{Table: rep.Table, Violations: rep.Violations})
		return
	}
	if rep.Table == TableInvoices && r.maxNumber > 0 {
		if err := r.s.sequenceRepo.EnsureAtLeastTx(tx, model.SequenceInvoice, r.maxNumber); err != nil {
			tx.Rollback()
			r.setFailed(rep, err)
			return
		}
	}
	if err := tx.Commit().Error; err != nil {
		r.setFailed(rep, err)
		return
	}
	rep.Status = TableRestored
}

// writeFailed marks the table failed after a database error and rolls back.
func (r *restoreRun) writeFailed(err error) {
	rep := r.table()
	if rep.Status != "" {
		return
	}
	if r.tx != nil {
		r.tx.Rollback()
		r.tx = nil
	}
	r.setFailed(rep, err)
}

func (r *restoreRun) canWrite() bool {
	rep := r.table()
	return rep.Status == "" && len(rep.Violations) == 0 && r.tx != nil
}

func (r *restoreRun) cancelRemaining(err error) {
	if r.tx != nil {
		r.tx.Rollback()
		r.tx = nil
	}
	for i := range r.report.Tables {
		if r.report.Tables[i].Status == "" {
			r.report.Tables[i].Status = TableCancelled
			r.report.Tables[i].Err = err
			r.report.Tables[i].Error = err.Error()
		}
	}
}

func (r *restoreRun) failRemaining(err error) {
	if r.tx != nil {
		r.tx.Rollback()
		r.tx = nil
	}
	for i := range r.report.Tables {
		if r.report.Tables[i].Status == "" {
			r.setFailed(&r.report.Tables[i], err)
		}
	}
}

func (r *restoreRun) violate(format string, args ...interface{}) {
	rep := r.table()
	rep.Violations = append(rep.Violations, fmt.Sprintf(format, args...))
}

func (r *restoreRun) customer(c *model.Customer) {
	rep := r.table()
	rep.Rows++
	if c == nil || c.ID == uuid.Nil {
		r.violate("customer row %d has no id", rep.Rows)
		return
	}
	if _, dup := r.customers[c.ID]; dup {
		r.violate("customer %s appears twice", c.ID)
		return
	}
	r.customers[c.ID] = struct{}{}
	if c.Name == "" {
		r.violate("customer %s has no name", c.ID)
	}
	if !r.canWrite() {
		return
	}
	if err := r.s.customerRepo.UpsertTx(r.tx, c); err != nil {
		r.writeFailed(fmt.Errorf("customer %s: %w", c.ID, err))
		return
	}
	rep.Updated++
}

func (r *restoreRun) product(p *model.Product) {
	rep := r.table()
	rep.Rows++
	if p == nil || p.ID == uuid.Nil {
		r.violate("product row %d has no id", rep.Rows)
		return
	}
	if _, dup := r.catalog[p.ID]; dup {
		r.violate("product %s appears twice", p.ID)
		return
	}

	stub := &model.Product{BaseModel: model.BaseModel{ID: p.ID}, UsesGlobalStock: p.UsesGlobalStock}
	bad := false
	if p.ArticleCode == "" {
		r.violate("product %s has no article code", p.ID)
		bad = true
	} else if owner, taken := r.skus[p.ArticleCode]; taken {
		r.violate("sku %s used by %s and product %s", p.ArticleCode, owner, p.ID)
		bad = true
	} else {
		r.skus[p.ArticleCode] = p.ID
	}
	if p.Qty < 0 {
		r.violate("product %s has negative qty %d", p.ID, p.Qty)
		bad = true
	}
	for _, v := range p.Variants {
		rep.ChildRows++
		if v.ID == uuid.Nil {
			r.violate("product %s has a variant without id", p.ID)
			bad = true
			continue
		}
		if v.ProductID != p.ID {
			r.violate("variant %s references product %s, not its parent %s", v.ID, v.ProductID, p.ID)
			bad = true
		}
		if v.Qty < 0 {
			r.violate("variant %s has negative qty %d", v.ID, v.Qty)
			bad = true
		}
		if owner, taken := r.skus[v.SKU]; taken || v.SKU == "" {
			r.violate("variant %s sku %q conflicts with %s", v.ID, v.SKU, owner)
			bad = true
		} else {
			r.skus[v.SKU] = v.ID
		}
		stub.Variants = append(stub.Variants, model.Variant{BaseModel: model.BaseModel{ID: v.ID}, ProductID: p.ID})
	}
	r.catalog[p.ID] = stub
	if bad || !r.canWrite() {
		return
	}

	created, err := r.s.productRepo.UpsertProductTx(r.tx, p)
	if err != nil {
		r.writeFailed(fmt.Errorf("product %s: %w", p.ID, err))
		return
	}
	if !created {
		if _, err := r.s.ledger.RebaseTx(r.tx, p.ID, nil, p.Qty, r.actor); err != nil {
			r.writeFailed(fmt.Errorf("product %s qty: %w", p.ID, err))
			return
		}
	}
	r.count(rep, created)

	for i := range p.Variants {
		v := &p.Variants[i]
		created, err := r.s.productRepo.UpsertVariantTx(r.tx, v)
		if err != nil {
			r.writeFailed(fmt.Errorf("variant %s: %w", v.ID, err))
			return
		}
		if !created {
			vid := v.ID
			if _, err := r.s.ledger.RebaseTx(r.tx, p.ID, &vid, v.Qty, r.actor); err != nil {
				r.writeFailed(fmt.Errorf("variant %s qty: %w", v.ID, err))
				return
			}
		}
	}
}

func (r *restoreRun) count(rep *TableReport, created bool) {
	if created {
		rep.Created++
	} else {
		rep.Updated++
	}
}

func (r *restoreRun) invoice(inv *model.Invoice) {
	rep := r.table()
	rep.Rows++
	if inv == nil || inv.ID == uuid.Nil {
		r.violate("invoice row %d has no id", rep.Rows)
		return
	}
	rep.ChildRows += len(inv.Items)
	if rep.Status == TableSkipped {
		return
	}

	if _, ok := r.customers[inv.CustomerID]; !ok {
		r.violate("invoice %s references unknown customer %s", inv.ID, inv.CustomerID)
	}
	if !inv.Status.Valid() {
		r.violate("invoice %s has unknown status %q", inv.ID, inv.Status)
	}
	if inv.Number <= 0 {
		r.violate("invoice %s has no number", inv.ID)
	} else if owner, dup := r.numbers[inv.Number]; dup {
		r.violate("invoice number %d used by %s and %s", inv.Number, owner, inv.ID)
	} else {
		r.numbers[inv.Number] = inv.ID
		if inv.Number > r.maxNumber {
			r.maxNumber = inv.Number
		}
	}

	refs := make([]ItemRef, len(inv.Items))
	for i, it := range inv.Items {
		refs[i] = ItemRef{ProductID: it.ProductID, VariantID: it.VariantID}
		if it.Quantity <= 0 {
			r.violate("invoice %s item %d has quantity %d", inv.ID, i, it.Quantity)
		}
	}
	_, errs := r.resolver.ResolveItems(r.ctx, refs)
	for i, err := range errs {
		if err != nil {
			r.violate("invoice %s item %d: %v", inv.ID, i, err)
		}
	}

	if !r.canWrite() {
		return
	}
	existing, err := r.s.invoiceRepo.FindByNumberTx(r.tx, inv.Number)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		r.writeFailed(err)
		return
	}
	if existing != nil && existing.ID != inv.ID {
		r.violate("invoice number %d already belongs to invoice %s", inv.Number, existing.ID)
		return
	}
	if err := r.s.invoiceRepo.UpsertTx(r.tx, inv); err != nil {
		r.writeFailed(fmt.Errorf("invoice %s: %w", inv.ID, err))
		return
	}
	r.count(rep, existing == nil)
}
