package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-invoice-stock/internal/app"
	"go-invoice-stock/internal/config"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	interval := flag.Duration("interval", 0, "Take a snapshot every interval until interrupted (0 = once)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, relying on system env")
	}
	cfg := config.Load()
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	snapshot := func() error {
		s, err := a.Services.Snapshot.CreateSnapshot(ctx)
		if err != nil {
			return err
		}
		logger.Info("snapshot created",
			zap.String("id", s.ID.String()),
			zap.String("object", s.ObjectKey),
			zap.Int64("bytes", s.SizeBytes),
			zap.Int64("products", s.Counts.Products),
			zap.Int64("variants", s.Counts.Variants),
			zap.Int64("invoices", s.Counts.Invoices))
		return nil
	}

	if *interval <= 0 {
		if err := snapshot(); err != nil {
			logger.Fatal("snapshot failed", zap.Error(err))
		}
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := snapshot(); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("snapshot failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("backup loop stopped")
			return
		case <-ticker.C:
		}
	}
}
