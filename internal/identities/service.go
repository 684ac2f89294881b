// Package identities handles registration, login and token validation.
// The ledger core trusts the user id this package authenticates.
package identities

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/finbyte/tradesim/internal/database"
	"github.com/finbyte/tradesim/internal/wallet"
	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/models"
)

// IdentityService defines user identity operations.
type IdentityService interface {
	Start() error
	Stop() error
	Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error)
	Login2FA(ctx context.Context, userID uuid.UUID, code string) (*models.LoginResponse, error)
	ValidateToken(token string) (uuid.UUID, error)
	Enable2FA(ctx context.Context, userID uuid.UUID) (string, error)
	Confirm2FA(ctx context.Context, userID uuid.UUID, code string) error
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// Config holds identity service settings.
type Config struct {
	JWTSecret          string
	JWTExpirationHours int
	TOTPIssuer         string
	// SeedDepositUSD is credited to every new account (paper money).
	SeedDepositUSD decimal.Decimal
}

// Service implements IdentityService
type Service struct {
	logger  *zap.Logger
	db      *gorm.DB
	wallets wallet.WalletService
	cfg     Config
}

// NewService creates a new IdentityService
func NewService(logger *zap.Logger, db *gorm.DB, wallets wallet.WalletService, cfg Config) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.JWTExpirationHours == 0 {
		cfg.JWTExpirationHours = 24
	}
	if cfg.TOTPIssuer == "" {
		cfg.TOTPIssuer = "tradesim"
	}
	return &Service{logger: logger, db: db, wallets: wallets, cfg: cfg}, nil
}

// Start starts the identities service
func (s *Service) Start() error {
	s.logger.Info("Identities service started")
	return nil
}

// Stop stops the identities service
func (s *Service) Stop() error {
	s.logger.Info("Identities service stopped")
	return nil
}

// Register creates a user together with their wallet set and the seed USD
// deposit, all in one transaction.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR username = ?", req.Email, req.Username).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing users: %w", err)
	}
	if count > 0 {
		return nil, errs.Validation("email", "email or username already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hashedPassword),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = database.RunInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		if err := s.wallets.CreateWallets(tx, user.ID); err != nil {
			return err
		}
		if s.cfg.SeedDepositUSD.IsPositive() {
			if err := s.wallets.Adjust(tx, user.ID, models.QuoteCurrency, s.cfg.SeedDepositUSD, decimal.Zero); err != nil {
				return err
			}
			seed := &models.Transaction{
				ID:        uuid.New(),
				UserID:    user.ID,
				Type:      "deposit",
				Currency:  models.QuoteCurrency,
				Amount:    s.cfg.SeedDepositUSD,
				Status:    "completed",
				CreatedAt: now,
			}
			if err := tx.Create(seed).Error; err != nil {
				return fmt.Errorf("failed to create seed transaction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("username", user.Username))
	return user, nil
}

// Login authenticates by email or username
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", req.Login, req.Login).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errs.ErrNotFound
	}

	if user.TwoFAEnabled {
		return &models.LoginResponse{Requires2FA: true, UserID: user.ID}, nil
	}

	return s.issueToken(ctx, &user)
}

// Login2FA completes a login for a 2FA-enabled account
func (s *Service) Login2FA(ctx context.Context, userID uuid.UUID, code string) (*models.LoginResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFAEnabled || !totp.Validate(code, user.TOTPSecret) {
		return nil, errs.ErrNotFound
	}
	return s.issueToken(ctx, user)
}

func (s *Service) issueToken(ctx context.Context, user *models.User) (*models.LoginResponse, error) {
	expires := time.Now().Add(time.Duration(s.cfg.JWTExpirationHours) * time.Hour)
	claims := jwt.RegisteredClaims{
		Subject:   user.ID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
		Issuer:    s.cfg.TOTPIssuer,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login", time.Now()).Error; err != nil {
		s.logger.Warn("Failed to update last login", zap.Error(err))
	}

	return &models.LoginResponse{User: user, Token: token}, nil
}

// ValidateToken verifies a JWT and returns the authenticated user id
func (s *Service) ValidateToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject: %w", err)
	}
	return userID, nil
}

// Enable2FA generates a TOTP secret; the user must confirm with a valid
// code before 2FA becomes active.
func (s *Service) Enable2FA(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return "", err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.TOTPIssuer,
		AccountName: user.Email,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("totp_secret", key.Secret()).Error; err != nil {
		return "", fmt.Errorf("failed to store totp secret: %w", err)
	}
	return key.URL(), nil
}

// Confirm2FA activates 2FA after verifying a code against the stored secret
func (s *Service) Confirm2FA(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" || !totp.Validate(code, user.TOTPSecret) {
		return errs.Validation("token", "invalid 2FA code")
	}

	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"two_fa_enabled": true,
			"verified":       true,
			"updated_at":     time.Now(),
		}).Error
}

// GetUser fetches a user by id
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, userID)
}

func (s *Service) getUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}
