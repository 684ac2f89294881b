// Package wallet implements the per-user, per-currency balance ledger.
// Every wallet carries an available and a locked sub-balance; both are
// non-negative at all times and change only through the adjustment path
// below, inside a database transaction.
package wallet

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
	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/models"
)

// WalletService defines balance ledger operations.
type WalletService interface {
	Start() error
	Stop() error
	GetWallets(ctx context.Context, userID uuid.UUID) ([]*models.Wallet, error)
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int64, error)
	Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Transaction, error)
	Withdraw(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Transaction, error)

	// CreateWallets lazily creates the fixed currency set for a new user
	// inside the caller's transaction.
	CreateWallets(tx *gorm.DB, userID uuid.UUID) error

	// Adjust applies a single atomic balance delta to one wallet inside the
	// caller's transaction. The row is locked for the duration of the
	// transaction, so concurrent adjustments on the same (user, currency)
	// key serialize. Fails with ErrInsufficientFunds if either resulting
	// sub-balance would go negative.
	Adjust(tx *gorm.DB, userID uuid.UUID, currency string, deltaAvailable, deltaLocked decimal.Decimal) error
}

// Service implements WalletService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new WalletService
func NewService(logger *zap.Logger, db *gorm.DB) (*Service, error) {
	return &Service{logger: logger, db: db}, nil
}

// Start starts the wallet service
func (s *Service) Start() error {
	s.logger.Info("Wallet service started")
	return nil
}

// Stop stops the wallet service
func (s *Service) Stop() error {
	s.logger.Info("Wallet service stopped")
	return nil
}

// GetWallets gets all wallets for a user
func (s *Service) GetWallets(ctx context.Context, userID uuid.UUID) ([]*models.Wallet, error) {
	var wallets []*models.Wallet
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("currency ASC").Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("failed to find wallets: %w", err)
	}
	return wallets, nil
}

// GetWallet gets a single wallet for a user
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.db.WithContext(ctx).Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	return &w, nil
}

// GetTransactions lists a user's transaction log, newest first
func (s *Service) GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	var txs []*models.Transaction
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&txs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find transactions: %w", err)
	}
	return txs, count, nil
}

// CreateWallets creates a zero-balance wallet per supported currency
func (s *Service) CreateWallets(tx *gorm.DB, userID uuid.UUID) error {
	now := time.Now()
	for _, currency := range models.SupportedCurrencies {
		w := &models.Wallet{
			ID:        uuid.New(),
			UserID:    userID,
			Currency:  currency,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(w).Error; err != nil {
			return fmt.Errorf("failed to create %s wallet: %w", currency, err)
		}
	}
	return nil
}

// Adjust applies deltaAvailable/deltaLocked to a wallet under a row lock
func (s *Service) Adjust(tx *gorm.DB, userID uuid.UUID, currency string, deltaAvailable, deltaLocked decimal.Decimal) error {
	var w models.Wallet
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&w).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errs.ErrNotFound
		}
		return fmt.Errorf("failed to lock wallet: %w", err)
	}

	newAvailable := w.Available.Add(deltaAvailable)
	newLocked := w.Locked.Add(deltaLocked)
	if newAvailable.IsNegative() || newLocked.IsNegative() {
		return errs.ErrInsufficientFunds
	}

	res := tx.Model(&models.Wallet{}).Where("id = ?", w.ID).Updates(map[string]interface{}{
		"available":  newAvailable,
		"locked":     newLocked,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update wallet: %w", res.Error)
	}
	return nil
}

// Deposit credits available funds and appends a signed transaction record
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, errs.Validation("amount", "must be positive")
	}
	if !supported(currency) {
		return nil, errs.Validation("currency", "unsupported currency")
	}

	record := &models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      "deposit",
		Currency:  currency,
		Amount:    amount,
		Status:    "completed",
		CreatedAt: time.Now(),
	}

	err := database.RunInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.Adjust(tx, userID, currency, amount, decimal.Zero); err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deposit completed",
		zap.String("user_id", userID.String()),
		zap.String("currency", currency),
		zap.String("amount", amount.String()))
	return record, nil
}

// Withdraw debits available funds and appends a signed transaction record
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, errs.Validation("amount", "must be positive")
	}
	if !supported(currency) {
		return nil, errs.Validation("currency", "unsupported currency")
	}

	record := &models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      "withdrawal",
		Currency:  currency,
		Amount:    amount.Neg(),
		Status:    "completed",
		CreatedAt: time.Now(),
	}

	err := database.RunInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.Adjust(tx, userID, currency, amount.Neg(), decimal.Zero); err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal completed",
		zap.String("user_id", userID.String()),
		zap.String("currency", currency),
		zap.String("amount", amount.String()))
	return record, nil
}

func supported(currency string) bool {
	for _, c := range models.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}
