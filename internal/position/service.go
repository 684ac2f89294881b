// Package position implements the margin engine for leveraged positions:
// opening locks collateral from the USD wallet, closing releases it exactly
// once together with realized PnL.
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finbyte/tradesim/internal/database"
	"github.com/finbyte/tradesim/internal/trading"
	"github.com/finbyte/tradesim/internal/wallet"
	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/metrics"
	"github.com/finbyte/tradesim/pkg/models"
)

// PositionService defines margin/position engine operations.
type PositionService interface {
	Start() error
	Stop() error
	OpenPosition(ctx context.Context, userID uuid.UUID, req *models.OpenPositionRequest) (*models.Position, error)
	ClosePosition(ctx context.Context, userID, positionID uuid.UUID, currentPrice decimal.Decimal) (*models.Position, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error
	ListPositions(ctx context.Context, userID uuid.UUID, status string) ([]*models.Position, error)
	ListOrders(ctx context.Context, userID uuid.UUID, status string) ([]*models.Order, error)
}

// Service implements PositionService
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	wallets  wallet.WalletService
	notifier trading.Notifier
}

// NewService creates a new PositionService
func NewService(logger *zap.Logger, db *gorm.DB, wallets wallet.WalletService, notifier trading.Notifier) (*Service, error) {
	return &Service{logger: logger, db: db, wallets: wallets, notifier: notifier}, nil
}

// Start starts the position service
func (s *Service) Start() error {
	s.logger.Info("Position service started")
	return nil
}

// Stop stops the position service
func (s *Service) Stop() error {
	s.logger.Info("Position service stopped")
	return nil
}

// OpenPosition locks margin = notional/leverage plus a fee on the margin,
// creates the position, and for non-market entries a pending order. All of
// it commits atomically or not at all.
func (s *Service) OpenPosition(ctx context.Context, userID uuid.UUID, req *models.OpenPositionRequest) (*models.Position, error) {
	if err := validateOpen(req); err != nil {
		return nil, err
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = "market"
	}

	notional := req.Amount.Mul(req.EntryPrice)
	margin := notional.Div(decimal.NewFromInt(int64(req.Leverage)))
	fee := margin.Mul(models.FeeRate)
	now := time.Now()

	pos := &models.Position{
		ID:           uuid.New(),
		UserID:       userID,
		Symbol:       req.Symbol,
		Type:         req.Type,
		Size:         req.Amount,
		EntryPrice:   req.EntryPrice,
		CurrentPrice: req.EntryPrice,
		Leverage:     req.Leverage,
		Margin:       margin,
		Status:       models.PositionOpen,
		RealizedPnL:  decimal.Zero,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := database.RunInTx(ctx, s.db, func(tx *gorm.DB) error {
		// Debit margin+fee from spendable funds, park the margin as locked
		// collateral. The fee leaves the wallet entirely.
		if err := s.wallets.Adjust(tx, userID, models.QuoteCurrency, margin.Add(fee).Neg(), margin); err != nil {
			return err
		}

		if err := tx.Create(pos).Error; err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}

		record := &models.Transaction{
			ID:          uuid.New(),
			UserID:      userID,
			Type:        "trade",
			Currency:    models.QuoteCurrency,
			Amount:      fee.Neg(),
			Status:      "completed",
			ReferenceID: &pos.ID,
			CreatedAt:   now,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		if orderType != "market" {
			order := &models.Order{
				ID:        uuid.New(),
				UserID:    userID,
				Symbol:    req.Symbol,
				Type:      orderType,
				Side:      req.Type,
				Amount:    req.Amount,
				Price:     req.EntryPrice,
				Status:    models.OrderPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(order).Error; err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if err == errs.ErrInsufficientFunds {
			metrics.InsufficientFundsRejections.Inc()
		}
		return nil, err
	}

	metrics.PositionsOpened.WithLabelValues(req.Type).Inc()
	s.logger.Info("Position opened",
		zap.String("user_id", userID.String()),
		zap.String("position_id", pos.ID.String()),
		zap.String("symbol", req.Symbol),
		zap.String("type", req.Type),
		zap.Int("leverage", req.Leverage),
		zap.String("margin", margin.String()))

	if s.notifier != nil {
		s.notifier.Publish("positions", pos)
	}
	return pos, nil
}

// ClosePosition flips an open position to closed exactly once, releasing
// the locked margin and settling realized PnL into the spendable balance.
//
// pnl = (currentPrice - entryPrice) * size * direction * leverage
//
// The status precondition is enforced inside the same atomic step that
// flips it, so two concurrent closes cannot both succeed: the loser sees
// zero affected rows and gets ErrNotFound.
func (s *Service) ClosePosition(ctx context.Context, userID, positionID uuid.UUID, currentPrice decimal.Decimal) (*models.Position, error) {
	if !currentPrice.IsPositive() {
		return nil, errs.Validation("current_price", "must be positive")
	}

	var closed models.Position
	err := database.RunInTx(ctx, s.db, func(tx *gorm.DB) error {
		var pos models.Position
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ? AND status = ?", positionID, userID, models.PositionOpen).
			First(&pos).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.ErrNotFound
			}
			return fmt.Errorf("failed to lock position: %w", err)
		}

		pnl := currentPrice.Sub(pos.EntryPrice).
			Mul(pos.Size).
			Mul(pos.Direction()).
			Mul(decimal.NewFromInt(int64(pos.Leverage)))

		now := time.Now()
		res := tx.Model(&models.Position{}).
			Where("id = ? AND status = ?", pos.ID, models.PositionOpen).
			Updates(map[string]interface{}{
				"status":        models.PositionClosed,
				"current_price": currentPrice,
				"realized_pnl":  pnl,
				"updated_at":    now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to close position: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.ErrNotFound
		}

		// Release the collateral exactly once: available gains margin+pnl,
		// locked loses the margin.
		if err := s.wallets.Adjust(tx, userID, models.QuoteCurrency, pos.Margin.Add(pnl), pos.Margin.Neg()); err != nil {
			return err
		}

		record := &models.Transaction{
			ID:          uuid.New(),
			UserID:      userID,
			Type:        "trade",
			Currency:    models.QuoteCurrency,
			Amount:      pnl,
			Status:      "completed",
			ReferenceID: &pos.ID,
			CreatedAt:   now,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		closed = pos
		closed.Status = models.PositionClosed
		closed.CurrentPrice = currentPrice
		closed.RealizedPnL = pnl
		closed.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PositionsClosed.Inc()
	s.logger.Info("Position closed",
		zap.String("user_id", userID.String()),
		zap.String("position_id", positionID.String()),
		zap.String("realized_pnl", closed.RealizedPnL.String()))

	if s.notifier != nil {
		s.notifier.Publish("positions", &closed)
	}
	return &closed, nil
}

// CancelOrder transitions a pending order to cancelled. No balance effect:
// margin for leveraged entries is managed by the position, not the order.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	err := database.RunInTx(ctx, s.db, func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND user_id = ? AND status = ?", orderID, userID, models.OrderPending).
			Updates(map[string]interface{}{
				"status":     models.OrderCancelled,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to cancel order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order cancelled",
		zap.String("user_id", userID.String()),
		zap.String("order_id", orderID.String()))
	return nil
}

// ListPositions lists a user's positions, optionally filtered by status
func (s *Service) ListPositions(ctx context.Context, userID uuid.UUID, status string) ([]*models.Position, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var positions []*models.Position
	if err := q.Order("created_at DESC").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to find positions: %w", err)
	}
	return positions, nil
}

// ListOrders lists a user's orders, optionally filtered by status
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, status string) ([]*models.Order, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var orders []*models.Order
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	return orders, nil
}

func validateOpen(req *models.OpenPositionRequest) error {
	if req.Symbol == "" {
		return errs.Validation("symbol", "must not be empty")
	}
	if req.Symbol == models.QuoteCurrency {
		return errs.Validation("symbol", "cannot open a position on the quote currency")
	}
	if req.Type != "long" && req.Type != "short" {
		return errs.Validation("type", "must be long or short")
	}
	if !req.Amount.IsPositive() {
		return errs.Validation("amount", "must be positive")
	}
	if !req.EntryPrice.IsPositive() {
		return errs.Validation("entry_price", "must be positive")
	}
	if req.Leverage < 1 || req.Leverage > 100 {
		return errs.Validation("leverage", "must be between 1 and 100")
	}
	if req.OrderType != "" && req.OrderType != "market" && req.OrderType != "limit" && req.OrderType != "stop" {
		return errs.Validation("order_type", "must be market, limit or stop")
	}
	return nil
}
