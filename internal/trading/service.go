// Package trading implements the spot execution engine: it validates an
// order, settles it against the wallet ledger and appends the trade and
// transaction records, all inside a single database transaction.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/finbyte/tradesim/internal/database"
	"github.com/finbyte/tradesim/internal/wallet"
	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/metrics"
	"github.com/finbyte/tradesim/pkg/models"
)

// Notifier receives fire-and-forget events after a ledger commit. Delivery
// failures never affect ledger state.
type Notifier interface {
	Publish(topic string, payload interface{})
}

// TradingService defines spot execution operations.
type TradingService interface {
	Start() error
	Stop() error
	ExecuteOrder(ctx context.Context, userID uuid.UUID, symbol, side string, amount, price decimal.Decimal) (*models.Trade, error)
	ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Trade, int64, error)
}

// Service implements TradingService
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	wallets  wallet.WalletService
	notifier Notifier

	// beforeLedgerWrite runs inside the settlement transaction after the
	// wallet adjustments and before the trade/transaction inserts. Tests
	// use it to force a mid-operation fault and assert full rollback.
	beforeLedgerWrite func(tx *gorm.DB) error
}

// NewService creates a new TradingService
func NewService(logger *zap.Logger, db *gorm.DB, wallets wallet.WalletService, notifier Notifier) (*Service, error) {
	return &Service{logger: logger, db: db, wallets: wallets, notifier: notifier}, nil
}

// Start starts the trading service
func (s *Service) Start() error {
	s.logger.Info("Trading service started")
	return nil
}

// Stop stops the trading service
func (s *Service) Stop() error {
	s.logger.Info("Trading service stopped")
	return nil
}

// ExecuteOrder settles a spot buy or sell against the house.
//
// total = amount * price, fee = total * FeeRate. A buy debits the USD
// wallet by total+fee and credits the base wallet by amount; a sell debits
// the base wallet by amount and credits USD by total-fee. The balance
// checks, both wallet mutations and the trade/transaction inserts commit
// as one unit; any failure rolls everything back.
func (s *Service) ExecuteOrder(ctx context.Context, userID uuid.UUID, symbol, side string, amount, price decimal.Decimal) (*models.Trade, error) {
	if err := validateOrder(symbol, side, amount, price); err != nil {
		return nil, err
	}

	start := time.Now()
	total := amount.Mul(price)
	fee := total.Mul(models.FeeRate)

	trade := &models.Trade{
		ID:        uuid.New(),
		UserID:    userID,
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Total:     total,
		Fee:       fee,
		Status:    "completed",
		CreatedAt: time.Now(),
	}

	// The USD leg is the signed cash flow recorded in the transaction log.
	var cashDelta decimal.Decimal
	if side == "buy" {
		cashDelta = total.Add(fee).Neg()
	} else {
		cashDelta = total.Sub(fee)
	}

	err := database.RunInTx(ctx, s.db, func(tx *gorm.DB) error {
		if side == "buy" {
			if err := s.wallets.Adjust(tx, userID, models.QuoteCurrency, cashDelta, decimal.Zero); err != nil {
				return err
			}
			if err := s.wallets.Adjust(tx, userID, symbol, amount, decimal.Zero); err != nil {
				return err
			}
		} else {
			if err := s.wallets.Adjust(tx, userID, symbol, amount.Neg(), decimal.Zero); err != nil {
				return err
			}
			if err := s.wallets.Adjust(tx, userID, models.QuoteCurrency, cashDelta, decimal.Zero); err != nil {
				return err
			}
		}

		if s.beforeLedgerWrite != nil {
			if err := s.beforeLedgerWrite(tx); err != nil {
				return err
			}
		}

		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("failed to create trade: %w", err)
		}

		record := &models.Transaction{
			ID:          uuid.New(),
			UserID:      userID,
			Type:        "trade",
			Currency:    models.QuoteCurrency,
			Amount:      cashDelta,
			Status:      "completed",
			ReferenceID: &trade.ID,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == errs.ErrInsufficientFunds {
			metrics.InsufficientFundsRejections.Inc()
		}
		return nil, err
	}

	metrics.TradesExecuted.WithLabelValues(side).Inc()
	metrics.TradeLatency.Observe(time.Since(start).Seconds())
	s.logger.Info("Trade executed",
		zap.String("user_id", userID.String()),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()),
		zap.String("fee", fee.String()))

	// Broadcast strictly after commit; delivery is best-effort.
	if s.notifier != nil {
		s.notifier.Publish("trades", trade)
	}

	return trade, nil
}

// ListTrades lists a user's trades, newest first
func (s *Service) ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Trade, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Trade{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	var trades []*models.Trade
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&trades).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find trades: %w", err)
	}
	return trades, count, nil
}

func validateOrder(symbol, side string, amount, price decimal.Decimal) error {
	if symbol == "" {
		return errs.Validation("symbol", "must not be empty")
	}
	if symbol == models.QuoteCurrency {
		return errs.Validation("symbol", "cannot trade the quote currency against itself")
	}
	if side != "buy" && side != "sell" {
		return errs.Validation("side", "must be buy or sell")
	}
	if !amount.IsPositive() {
		return errs.Validation("amount", "must be positive")
	}
	if !price.IsPositive() {
		return errs.Validation("price", "must be positive")
	}
	return nil
}
