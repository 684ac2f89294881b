package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/models"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	// Shared cache + immediate tx lock so concurrent writers serialize
	// instead of failing with SQLITE_BUSY.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Wallet{}, &models.Transaction{}))

	svc, err := NewService(zap.NewNop(), db)
	require.NoError(t, err)
	return svc
}

func seedUser(t *testing.T, s *Service) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	require.NoError(t, s.db.Transaction(func(tx *gorm.DB) error {
		return s.CreateWallets(tx, userID)
	}))
	return userID
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	userID := seedUser(t, s)

	before, err := s.GetWallet(ctx, userID, "USD")
	require.NoError(t, err)

	_, err = s.Deposit(ctx, userID, "USD", decimal.NewFromInt(500))
	require.NoError(t, err)
	_, err = s.Withdraw(ctx, userID, "USD", decimal.NewFromInt(500))
	require.NoError(t, err)

	after, err := s.GetWallet(ctx, userID, "USD")
	require.NoError(t, err)
	require.True(t, after.Available.Equal(before.Available), "available changed: %s", after.Available)

	txs, count, err := s.GetTransactions(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	// Newest first: withdrawal then deposit.
	require.True(t, txs[0].Amount.Equal(decimal.NewFromInt(-500)))
	require.True(t, txs[1].Amount.Equal(decimal.NewFromInt(500)))
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	userID := seedUser(t, s)

	_, err := s.Deposit(ctx, userID, "USD", decimal.NewFromInt(100))
	require.NoError(t, err)

	_, err = s.Withdraw(ctx, userID, "USD", decimal.NewFromInt(250))
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	w, err := s.GetWallet(ctx, userID, "USD")
	require.NoError(t, err)
	require.True(t, w.Available.Equal(decimal.NewFromInt(100)))

	// Rejected withdrawal must leave no transaction record.
	_, count, err := s.GetTransactions(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDepositValidation(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	userID := seedUser(t, s)

	_, err := s.Deposit(ctx, userID, "USD", decimal.Zero)
	require.True(t, errs.IsValidation(err))

	_, err = s.Deposit(ctx, userID, "DOGE", decimal.NewFromInt(10))
	require.True(t, errs.IsValidation(err))
}

func TestAdjustRejectsNegativeLocked(t *testing.T) {
	s := setupTestService(t)
	userID := seedUser(t, s)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.Adjust(tx, userID, "USD", decimal.Zero, decimal.NewFromInt(-1))
	})
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)
}

func TestAdjustUnknownWallet(t *testing.T) {
	s := setupTestService(t)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.Adjust(tx, uuid.New(), "USD", decimal.NewFromInt(1), decimal.Zero)
	})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConcurrentDeposits(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	userID := seedUser(t, s)

	n := 50
	amount := decimal.NewFromInt(10)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Deposit(ctx, userID, "USD", amount)
			if err != nil {
				t.Errorf("deposit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	w, err := s.GetWallet(ctx, userID, "USD")
	require.NoError(t, err)
	require.True(t, w.Available.Equal(decimal.NewFromInt(500)), "got %s", w.Available)

	_, count, err := s.GetTransactions(ctx, userID, 100, 0)
	require.NoError(t, err)
	require.EqualValues(t, n, count)
}

func TestConcurrentWithdrawalsNoOverdraft(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	userID := seedUser(t, s)

	_, err := s.Deposit(ctx, userID, "USD", decimal.NewFromInt(100))
	require.NoError(t, err)

	// 20 concurrent withdrawals of 10 against a balance of 100: exactly 10
	// may succeed, the rest must fail with insufficient funds.
	n := 20
	var succeeded int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Withdraw(ctx, userID, "USD", decimal.NewFromInt(10))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if err != errs.ErrInsufficientFunds {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 10, succeeded)
	w, err := s.GetWallet(ctx, userID, "USD")
	require.NoError(t, err)
	require.True(t, w.Available.IsZero(), "got %s", w.Available)
}
