// Package analytics derives trading statistics from the trade ledger. It
// is a pure read-side consumer: no mutation, no locking.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/models"
)

// Timeframes accepted by ComputeStats.
var timeframes = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
	"all": 0,
}

// AnalyticsService defines read-only trade statistics.
type AnalyticsService interface {
	Start() error
	Stop() error
	ComputeStats(ctx context.Context, userID uuid.UUID, timeframe string) (*models.Stats, error)
}

// Service implements AnalyticsService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new AnalyticsService
func NewService(logger *zap.Logger, db *gorm.DB) (*Service, error) {
	return &Service{logger: logger, db: db}, nil
}

// Start starts the analytics service
func (s *Service) Start() error {
	s.logger.Info("Analytics service started")
	return nil
}

// Stop stops the analytics service
func (s *Service) Stop() error {
	s.logger.Info("Analytics service stopped")
	return nil
}

// ComputeStats aggregates the user's trades within the window. PnL follows
// the ledger's cash-flow convention: sells contribute positive notional,
// buys negative. Zero trades yields a zero win rate, not a division error.
func (s *Service) ComputeStats(ctx context.Context, userID uuid.UUID, timeframe string) (*models.Stats, error) {
	window, ok := timeframes[timeframe]
	if !ok {
		return nil, errs.Validation("timeframe", "must be one of 7d, 30d, 90d, 1y, all")
	}

	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if window > 0 {
		q = q.Where("created_at >= ?", time.Now().Add(-window))
	}

	var trades []*models.Trade
	if err := q.Order("created_at ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	stats := &models.Stats{
		Timeframe:   timeframe,
		TotalTrades: int64(len(trades)),
		TotalPnL:    decimal.Zero,
		TotalBought: decimal.Zero,
		TotalSold:   decimal.Zero,
		TotalFees:   decimal.Zero,
		TotalVolume: decimal.Zero,
		BestTrade:   decimal.Zero,
		WorstTrade:  decimal.Zero,
		WinRate:     decimal.Zero,
	}
	if len(trades) == 0 {
		stats.AvgTradeSize = decimal.Zero
		return stats, nil
	}

	for i, trade := range trades {
		contribution := trade.Total
		if trade.Side == "buy" {
			contribution = trade.Total.Neg()
			stats.TotalBought = stats.TotalBought.Add(trade.Total)
		} else {
			stats.TotalSold = stats.TotalSold.Add(trade.Total)
		}

		stats.TotalPnL = stats.TotalPnL.Add(contribution)
		stats.TotalFees = stats.TotalFees.Add(trade.Fee)
		stats.TotalVolume = stats.TotalVolume.Add(trade.Total)

		if contribution.IsPositive() {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
		if i == 0 || contribution.GreaterThan(stats.BestTrade) {
			stats.BestTrade = contribution
		}
		if i == 0 || contribution.LessThan(stats.WorstTrade) {
			stats.WorstTrade = contribution
		}
	}

	total := decimal.NewFromInt(stats.TotalTrades)
	stats.AvgTradeSize = stats.TotalVolume.Div(total)
	stats.WinRate = decimal.NewFromInt(stats.WinningTrades).
		Div(total).
		Mul(decimal.NewFromInt(100))

	return stats, nil
}
