package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go-invoice-stock/internal/app"
	"go-invoice-stock/internal/config"
	"go-invoice-stock/internal/report"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	xlsxPath := flag.String("xlsx", "", "Write the discrepancies to this workbook")
	timeout := flag.Duration("timeout", 5*time.Minute, "Abort after this long")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	rep, err := a.Services.Stock.Reconcile(ctx)
	if err != nil {
		logger.Fatal("reconcile failed", zap.Error(err))
	}

	fmt.Printf("checked %d stock records, %d discrepancies\n", rep.Checked, len(rep.Discrepancies))
	for _, d := range rep.Discrepancies {
		fmt.Printf("  %-24s qty=%d expected=%d (baseline %d, ledger %+d)\n",
			d.Record.Key(), d.Record.Qty, d.Expected, d.Record.BaselineQty, d.LedgerSum)
	}

	if *xlsxPath != "" {
		f, err := os.Create(*xlsxPath)
		if err != nil {
			logger.Fatal("create workbook", zap.Error(err))
		}
		if err := report.WriteReconcileXLSX(f, rep, time.Now()); err != nil {
			f.Close()
			logger.Fatal("write workbook", zap.Error(err))
		}
		if err := f.Close(); err != nil {
			logger.Fatal("close workbook", zap.Error(err))
		}
		logger.Info("workbook written", zap.String("path", *xlsxPath))
	}

	if len(rep.Discrepancies) > 0 {
		a.Close()
		os.Exit(2)
	}
}
