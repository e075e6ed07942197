package service

import (
	"context"
	"time"

	"go-invoice-stock/internal/repository"
)

type DashboardService interface {
	GetStockMovement(ctx context.Context, days int) ([]repository.StockMovementData, error)
}

type dashboardService struct {
	ledgerRepo repository.LedgerRepository
}

func NewDashboardService(ledgerRepo repository.LedgerRepository) DashboardService {
	return &dashboardService{ledgerRepo: ledgerRepo}
}

// GetStockMovement sums ledger inflow and outflow per day over the last days.
func (s *dashboardService) GetStockMovement(ctx context.Context, days int) ([]repository.StockMovementData, error) {
	endDate := time.Now()
	startDate := endDate.AddDate(0, 0, -days)

	return s.ledgerRepo.GetStockMovement(ctx, startDate, endDate)
}
