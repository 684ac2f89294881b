package identities

import (
	"context"
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

func setupTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Wallet{}, &models.Transaction{}))

	wallets, err := wallet.NewService(zap.NewNop(), db)
	require.NoError(t, err)
	svc, err := NewService(zap.NewNop(), db, wallets, Config{
		JWTSecret:          "test-secret",
		JWTExpirationHours: 1,
		SeedDepositUSD:     decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	return svc
}

func registerReq() *models.RegisterRequest {
	return &models.RegisterRequest{
		Email:    "trader@example.com",
		Username: "trader1",
		Password: "correct-horse",
	}
}

func TestRegisterCreatesWalletsAndSeed(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, registerReq())
	require.NoError(t, err)

	var wallets []*models.Wallet
	require.NoError(t, s.db.Where("user_id = ?", user.ID).Find(&wallets).Error)
	require.Len(t, wallets, len(models.SupportedCurrencies))

	for _, w := range wallets {
		if w.Currency == "USD" {
			require.True(t, w.Available.Equal(decimal.NewFromInt(10000)), "usd %s", w.Available)
		} else {
			require.True(t, w.Available.IsZero())
		}
		require.True(t, w.Locked.IsZero())
	}

	var seedCount int64
	require.NoError(t, s.db.Model(&models.Transaction{}).
		Where("user_id = ? AND type = ?", user.ID, "deposit").Count(&seedCount).Error)
	require.EqualValues(t, 1, seedCount)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, registerReq())
	require.NoError(t, err)

	dup := registerReq()
	dup.Username = "someoneelse"
	_, err = s.Register(ctx, dup)
	require.True(t, errs.IsValidation(err))
}

func TestLoginAndValidateToken(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, registerReq())
	require.NoError(t, err)

	resp, err := s.Login(ctx, &models.LoginRequest{Login: "trader1", Password: "correct-horse"})
	require.NoError(t, err)
	require.False(t, resp.Requires2FA)
	require.NotEmpty(t, resp.Token)

	userID, err := s.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)
}

func TestLoginWrongPassword(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, registerReq())
	require.NoError(t, err)

	_, err = s.Login(ctx, &models.LoginRequest{Login: "trader1", Password: "wrong-password"})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	s := setupTestService(t)
	_, err := s.ValidateToken("not-a-jwt")
	require.Error(t, err)
}
