package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go-invoice-stock/internal/config"
	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:   config.ServerConfig{AppEnv: "test"},
		Database: config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(dir, "stock")},
		Ledger:   config.LedgerConfig{MaxAttempts: 3},
		Snapshot: config.SnapshotConfig{Provider: "file", Dir: filepath.Join(dir, "snapshots")},
	}
}

func TestNewWiresServices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	p, err := a.Services.Catalog.CreateProduct(ctx, &service.ProductInput{
		Title: "Mug", ArticleCode: "MUG", Qty: 3, RetailPrice: decimal.NewFromInt(5),
	}, "tester")
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if _, err := a.Services.Stock.AdjustStock(ctx, &service.AdjustmentInput{
		Items: []service.AdjustmentItem{{ProductID: p.ID, Delta: -3}},
	}, "tester"); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	snap, err := a.Services.Snapshot.CreateSnapshot(ctx)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	rep, err := a.Services.Restore.Restore(ctx, snap.ID, "tester")
	if err != nil || !rep.OK() {
		t.Fatalf("Restore: %v %+v", err, rep)
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Provider = "ftp"
	if _, err := New(context.Background(), cfg, zap.NewNop()); !errors.Is(err, ErrUnknownStore) {
		t.Fatalf("got %v", err)
	}
}

func TestAuditEventsWarnsOnDepletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zap.InfoLevel)
	a, err := New(ctx, testConfig(t), zap.New(core))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	go a.Hub.Run(ctx)
	go a.AuditEvents(ctx)

	zero := 0
	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("stock record depleted").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no depletion warning logged")
		}
		// the subscriber registers asynchronously; keep publishing until it listens
		a.Hub.Publish(event.Event{Type: event.StockChanged, Qty: &zero, Actor: "tester", At: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}
}
