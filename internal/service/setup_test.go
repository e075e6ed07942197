package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/pkg/blobstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	db        *gorm.DB
	products  repository.ProductRepository
	customers repository.CustomerRepository
	invoices  repository.InvoiceRepository
	ledgerDB  repository.LedgerRepository
	sequences repository.SequenceRepository
	snapRepo  repository.SnapshotRepository
	store     *blobstore.FileStore
	events    *recorder

	resolver  VariantResolver
	ledger    StockLedger
	catalog   CatalogService
	invoice   InvoiceService
	stock     StockService
	snapshots SnapshotService
	restorer  RestoreService
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection serializes writers the way row locks would
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(model.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	store, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	return newFixtureWith(t, db, store)
}

func newFixtureWith(t *testing.T, db *gorm.DB, store *blobstore.FileStore) *fixture {
	t.Helper()
	log := zap.NewNop()
	f := &fixture{db: db, store: store, events: &recorder{}}
	f.products = repository.NewProductRepo(db)
	f.customers = repository.NewCustomerRepo(db)
	f.sequences = repository.NewSequenceRepo(db)
	f.invoices = repository.NewInvoiceRepo(db, f.sequences)
	f.ledgerDB = repository.NewLedgerRepo(db)
	f.snapRepo = repository.NewSnapshotRepo(db)

	f.resolver = NewVariantResolver(f.products)
	f.ledger = NewStockLedger(db, f.products, f.ledgerDB, nil, f.events, log, LedgerConfig{MaxAttempts: 5, RetryBackoff: 0})
	f.catalog = NewCatalogService(f.products, f.invoices, f.customers, f.events, log)
	f.invoice = NewInvoiceService(f.invoices, f.customers, f.resolver, f.ledger, f.events, log)
	f.stock = NewStockService(f.resolver, f.ledger, f.products, f.ledgerDB)
	f.snapshots = NewSnapshotService(db, f.snapRepo, store, f.events, log, SnapshotConfig{BatchSize: 2})
	f.restorer = NewRestoreService(db, RestoreDeps{
		SnapshotRepo: f.snapRepo,
		ProductRepo:  f.products,
		CustomerRepo: f.customers,
		InvoiceRepo:  f.invoices,
		SequenceRepo: f.sequences,
		Ledger:       f.ledger,
		Store:        store,
		Events:       f.events,
	}, log)
	return f
}

var testCtx = context.Background()

// product creates a product; a non-empty variant list gives it those SKUs
// with the given quantities.
func (f *fixture) product(t *testing.T, sku string, qty int, variants map[string]int) *model.Product {
	t.Helper()
	in := &ProductInput{
		Title:       "Product " + sku,
		ArticleCode: sku,
		Qty:         qty,
		RetailPrice: decimal.NewFromInt(10),
	}
	// stable order so positions are predictable
	for _, vsku := range sortedKeys(variants) {
		in.Variants = append(in.Variants, VariantInput{SKU: vsku, Qty: variants[vsku]})
	}
	p, err := f.catalog.CreateProduct(testCtx, in, "tester")
	if err != nil {
		t.Fatalf("create product %s: %v", sku, err)
	}
	return p
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func variantBySKU(t *testing.T, p *model.Product, sku string) *model.Variant {
	t.Helper()
	for i := range p.Variants {
		if p.Variants[i].SKU == sku {
			return &p.Variants[i]
		}
	}
	t.Fatalf("variant %s not on product %s", sku, p.ArticleCode)
	return nil
}

func (f *fixture) customer(t *testing.T, name string) *model.Customer {
	t.Helper()
	c, err := f.catalog.CreateCustomer(testCtx, &CustomerInput{Name: name})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func line(productID uuid.UUID, variantID *uuid.UUID, qty int) InvoiceItemInput {
	return InvoiceItemInput{ProductID: productID, VariantID: variantID, Quantity: qty, UnitPrice: decimal.NewFromInt(10)}
}

func (f *fixture) draft(t *testing.T, customerID uuid.UUID, items ...InvoiceItemInput) *model.Invoice {
	t.Helper()
	inv, err := f.invoice.CreateInvoice(testCtx, &CreateInvoiceInput{CustomerID: customerID, Items: items})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func (f *fixture) qty(t *testing.T, productID uuid.UUID, variantID *uuid.UUID) int {
	t.Helper()
	rec, err := f.stock.GetStockRecord(testCtx, productID, variantID)
	if err != nil {
		t.Fatalf("get stock record: %v", err)
	}
	return rec.Qty
}

func (f *fixture) entries(t *testing.T, productID uuid.UUID, variantID *uuid.UUID) []model.StockLedgerEntry {
	t.Helper()
	page, err := f.stock.ListLedgerEntries(testCtx, productID, variantID, repository.Page{PageSize: 500})
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	return page.Entries
}

func (f *fixture) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&model.StockLedgerEntry{}).Count(&n).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	return n
}

// assertReconciled checks qty == baseline + ledger sum for every record.
func (f *fixture) assertReconciled(t *testing.T) {
	t.Helper()
	rep, err := f.stock.Reconcile(testCtx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	for _, d := range rep.Discrepancies {
		t.Errorf("record %s: qty %d, expected %d", d.Record.Key(), d.Record.Qty, d.Expected)
	}
}

func vid(v *model.Variant) *uuid.UUID {
	id := v.ID
	return &id
}
