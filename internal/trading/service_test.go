package trading

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/finbyte/tradesim/internal/wallet"
	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/models"
)

type testEnv struct {
	db      *gorm.DB
	wallets *wallet.Service
	svc     *Service
	userID  uuid.UUID
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Wallet{}, &models.Trade{}, &models.Transaction{}))

	wallets, err := wallet.NewService(zap.NewNop(), db)
	require.NoError(t, err)
	svc, err := NewService(zap.NewNop(), db, wallets, nil)
	require.NoError(t, err)

	userID := uuid.New()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return wallets.CreateWallets(tx, userID)
	}))

	return &testEnv{db: db, wallets: wallets, svc: svc, userID: userID}
}

func (e *testEnv) fundUSD(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, e.db.Transaction(func(tx *gorm.DB) error {
		return e.wallets.Adjust(tx, e.userID, "USD", decimal.NewFromInt(amount), decimal.Zero)
	}))
}

func (e *testEnv) balance(t *testing.T, currency string) *models.Wallet {
	t.Helper()
	w, err := e.wallets.GetWallet(context.Background(), e.userID, currency)
	require.NoError(t, err)
	return w
}

func TestExecuteOrderBuyFeeArithmetic(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 1000)

	// amount=2, price=100 -> total=200, fee=0.2, USD debit exactly 200.2
	trade, err := e.svc.ExecuteOrder(ctx, e.userID, "BTC", "buy", decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)

	require.True(t, trade.Total.Equal(decimal.NewFromInt(200)), "total %s", trade.Total)
	require.True(t, trade.Fee.Equal(decimal.NewFromFloat(0.2)), "fee %s", trade.Fee)

	usd := e.balance(t, "USD")
	require.True(t, usd.Available.Equal(decimal.NewFromFloat(799.8)), "usd %s", usd.Available)
	btc := e.balance(t, "BTC")
	require.True(t, btc.Available.Equal(decimal.NewFromInt(2)), "btc %s", btc.Available)
}

func TestExecuteOrderSellCreditsQuoteMinusFee(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 1000)

	_, err := e.svc.ExecuteOrder(ctx, e.userID, "ETH", "buy", decimal.NewFromInt(4), decimal.NewFromInt(50))
	require.NoError(t, err)
	_, err = e.svc.ExecuteOrder(ctx, e.userID, "ETH", "sell", decimal.NewFromInt(4), decimal.NewFromInt(50))
	require.NoError(t, err)

	// Round trip at the same price loses exactly the two fees (0.2 each).
	usd := e.balance(t, "USD")
	require.True(t, usd.Available.Equal(decimal.NewFromFloat(999.6)), "usd %s", usd.Available)
	eth := e.balance(t, "ETH")
	require.True(t, eth.Available.IsZero())
}

func TestExecuteOrderInsufficientFunds(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 100)

	_, err := e.svc.ExecuteOrder(ctx, e.userID, "BTC", "buy", decimal.NewFromInt(1), decimal.NewFromInt(45000))
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	usd := e.balance(t, "USD")
	require.True(t, usd.Available.Equal(decimal.NewFromInt(100)))
	btc := e.balance(t, "BTC")
	require.True(t, btc.Available.IsZero())

	var tradeCount int64
	require.NoError(t, e.db.Model(&models.Trade{}).Count(&tradeCount).Error)
	require.Zero(t, tradeCount)
}

func TestExecuteOrderSellWithoutHoldings(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 1000)

	_, err := e.svc.ExecuteOrder(ctx, e.userID, "SOL", "sell", decimal.NewFromInt(3), decimal.NewFromInt(20))
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	usd := e.balance(t, "USD")
	require.True(t, usd.Available.Equal(decimal.NewFromInt(1000)))
}

// A forced fault between the wallet adjustments and the ledger writes must
// leave both wallets and the ledger exactly as they were pre-call.
func TestExecuteOrderRollbackOnForcedFault(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 1000)

	boom := errors.New("forced fault")
	e.svc.beforeLedgerWrite = func(tx *gorm.DB) error { return boom }

	_, err := e.svc.ExecuteOrder(ctx, e.userID, "BTC", "buy", decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrPersistence)

	usd := e.balance(t, "USD")
	require.True(t, usd.Available.Equal(decimal.NewFromInt(1000)), "usd %s", usd.Available)
	btc := e.balance(t, "BTC")
	require.True(t, btc.Available.IsZero(), "btc %s", btc.Available)

	var tradeCount, txCount int64
	require.NoError(t, e.db.Model(&models.Trade{}).Count(&tradeCount).Error)
	require.NoError(t, e.db.Model(&models.Transaction{}).Count(&txCount).Error)
	require.Zero(t, tradeCount)
	require.Zero(t, txCount)
}

// Conservation: over any sequence of trades, USD.available plus the value
// of holdings at trade prices changes only by the fees paid.
func TestExecuteOrderConservation(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 10000)

	price := decimal.NewFromInt(250)
	var feesPaid decimal.Decimal
	for i := 0; i < 5; i++ {
		buy, err := e.svc.ExecuteOrder(ctx, e.userID, "BNB", "buy", decimal.NewFromInt(2), price)
		require.NoError(t, err)
		feesPaid = feesPaid.Add(buy.Fee)

		sell, err := e.svc.ExecuteOrder(ctx, e.userID, "BNB", "sell", decimal.NewFromInt(2), price)
		require.NoError(t, err)
		feesPaid = feesPaid.Add(sell.Fee)
	}

	usd := e.balance(t, "USD")
	require.True(t, usd.Available.Equal(decimal.NewFromInt(10000).Sub(feesPaid)),
		"usd %s, fees %s", usd.Available, feesPaid)
}

func TestExecuteOrderTransactionLog(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 1000)

	trade, err := e.svc.ExecuteOrder(ctx, e.userID, "XRP", "buy", decimal.NewFromInt(100), decimal.NewFromInt(2))
	require.NoError(t, err)

	var record models.Transaction
	require.NoError(t, e.db.Where("reference_id = ?", trade.ID).First(&record).Error)
	require.Equal(t, "trade", record.Type)
	require.Equal(t, "USD", record.Currency)
	// Buy of 100 XRP at 2: total 200, fee 0.2, signed cash flow -200.2.
	require.True(t, record.Amount.Equal(decimal.NewFromFloat(-200.2)), "amount %s", record.Amount)
}

func TestExecuteOrderValidation(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		symbol string
		side   string
		amount decimal.Decimal
		price  decimal.Decimal
	}{
		{"empty symbol", "", "buy", decimal.NewFromInt(1), decimal.NewFromInt(1)},
		{"quote symbol", "USD", "buy", decimal.NewFromInt(1), decimal.NewFromInt(1)},
		{"bad side", "BTC", "hold", decimal.NewFromInt(1), decimal.NewFromInt(1)},
		{"zero amount", "BTC", "buy", decimal.Zero, decimal.NewFromInt(1)},
		{"negative price", "BTC", "buy", decimal.NewFromInt(1), decimal.NewFromInt(-5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.ExecuteOrder(ctx, e.userID, tc.symbol, tc.side, tc.amount, tc.price)
			require.True(t, errs.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestListTrades(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()
	e.fundUSD(t, 10000)

	for i := 0; i < 3; i++ {
		_, err := e.svc.ExecuteOrder(ctx, e.userID, "BTC", "buy", decimal.NewFromInt(1), decimal.NewFromInt(10))
		require.NoError(t, err)
	}

	trades, count, err := e.svc.ListTrades(ctx, e.userID, 2, 0)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
	require.Len(t, trades, 2)
}
