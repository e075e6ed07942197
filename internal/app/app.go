// Package app wires configuration into repositories, services and sinks so
// every command builds the same graph.
package app

import (
	"context"
	"errors"
	"fmt"

	"go-invoice-stock/internal/config"
	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"
	"go-invoice-stock/internal/repository"
	"go-invoice-stock/internal/service"
	"go-invoice-stock/internal/ws"
	"go-invoice-stock/pkg/blobstore"
	"go-invoice-stock/pkg/database"
	"go-invoice-stock/pkg/lock"
	"go-invoice-stock/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Services struct {
	Catalog   service.CatalogService
	Invoice   service.InvoiceService
	Stock     service.StockService
	Dashboard service.DashboardService
	Snapshot  service.SnapshotService
	Restore   service.RestoreService
	Ledger    service.StockLedger
}

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Hub      *ws.Hub
	Services Services

	closers []func() error
}

// New connects to the database, migrates it and builds the services. The
// returned App owns the connections; call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Connect(database.Config{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Name:            cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Tracing:         cfg.Database.Tracing,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, model.Models()...); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, DB: db, Hub: ws.NewHub(logger.Named("ws"))}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	publishers := []event.Publisher{a.Hub}
	if cfg.PubSub.Enabled() {
		ps, err := event.NewPubSubPublisher(ctx, event.PubSubConfig{
			ProjectID:       cfg.PubSub.ProjectID,
			Topic:           cfg.PubSub.Topic,
			CredentialsJSON: cfg.PubSub.CredentialsJSON,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
		a.closers = append(a.closers, ps.Close)
		publishers = append(publishers, ps)
	}
	events := event.Multi(publishers...)

	var locker lock.Locker
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		locker = lock.NewRedisLocker(rdb, cfg.Ledger.LockTTL)
		a.Logger.Info("ledger record locks enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	productRepo := repository.NewProductRepo(a.DB)
	customerRepo := repository.NewCustomerRepo(a.DB)
	sequenceRepo := repository.NewSequenceRepo(a.DB)
	invoiceRepo := repository.NewInvoiceRepo(a.DB, sequenceRepo)
	ledgerRepo := repository.NewLedgerRepo(a.DB)
	snapshotRepo := repository.NewSnapshotRepo(a.DB)

	resolver := service.NewVariantResolver(productRepo)
	ledger := service.NewStockLedger(a.DB, productRepo, ledgerRepo, locker, events, a.Logger, service.LedgerConfig{
		MaxAttempts:  cfg.Ledger.MaxAttempts,
		RetryBackoff: cfg.Ledger.RetryBackoff,
	})

	a.Services = Services{
		Catalog:   service.NewCatalogService(productRepo, invoiceRepo, customerRepo, events, a.Logger),
		Invoice:   service.NewInvoiceService(invoiceRepo, customerRepo, resolver, ledger, events, a.Logger),
		Stock:     service.NewStockService(resolver, ledger, productRepo, ledgerRepo),
		Dashboard: service.NewDashboardService(ledgerRepo),
		Snapshot: service.NewSnapshotService(a.DB, snapshotRepo, store, events, a.Logger, service.SnapshotConfig{
			BatchSize: cfg.Snapshot.BatchSize,
			Prefix:    cfg.Snapshot.Prefix,
			Timeout:   cfg.Snapshot.Timeout,
		}),
		Restore: service.NewRestoreService(a.DB, service.RestoreDeps{
			SnapshotRepo: snapshotRepo,
			ProductRepo:  productRepo,
			CustomerRepo: customerRepo,
			InvoiceRepo:  invoiceRepo,
			SequenceRepo: sequenceRepo,
			Ledger:       ledger,
			Store:        store,
			Events:       events,
		}, a.Logger),
		Ledger: ledger,
	}
	return nil
}

var ErrUnknownStore = errors.New("unknown snapshot provider")

func (a *App) openStore(ctx context.Context) (blobstore.Store, error) {
	cfg := a.Config.Snapshot
	switch cfg.Provider {
	case "", "file":
		return blobstore.NewFileStore(cfg.Dir)
	case "gcs":
		store, err := blobstore.NewGCSStore(ctx, blobstore.GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsJSON: cfg.CredentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.Provider)
}

// Close releases external clients and the database pool.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// NewLogger builds the zap logger described by cfg.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.NewZap(logger.Config{
		Development:       cfg.IsDevelopment(),
		Level:             cfg.Logger.Level,
		Encoding:          cfg.Logger.Encoding,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	})
}

// AuditEvents logs every hub event until ctx is done. Records that reach zero
// are logged as warnings.
func (a *App) AuditEvents(ctx context.Context) {
	events, cancel := a.Hub.Subscribe(64)
	defer cancel()
	log := a.Logger.Named("audit")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []zap.Field{zap.String("type", string(e.Type)), zap.String("actor", e.Actor)}
			if e.ProductID != nil {
				fields = append(fields, zap.String("product_id", e.ProductID.String()))
			}
			if e.InvoiceID != nil {
				fields = append(fields, zap.String("invoice_id", e.InvoiceID.String()))
			}
			if e.Qty != nil {
				fields = append(fields, zap.Int("qty", *e.Qty))
			}
			if e.Type == event.StockChanged && e.Qty != nil && *e.Qty == 0 {
				log.Warn("stock record depleted", fields...)
				continue
			}
			log.Info("event", fields...)
		}
	}
}
