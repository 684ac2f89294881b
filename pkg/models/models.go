package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SupportedCurrencies is the fixed currency set every user gets a wallet for.
// USD is the quote currency for every trading pair.
var SupportedCurrencies = []string{"USD", "BTC", "ETH", "SOL", "BNB", "XRP"}

// QuoteCurrency is the currency spot trades and position margin settle in.
const QuoteCurrency = "USD"

// FeeRate is the fixed 0.1% fee applied to trade and position notional.
var FeeRate = decimal.NewFromFloat(0.001)

// User represents a user in the system
type User struct {
	ID           uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Email        string    `json:"email" gorm:"uniqueIndex" validate:"required,email,max=254"`
	Username     string    `json:"username" gorm:"uniqueIndex" validate:"required,min=3,max=30,alphanum"`
	PasswordHash string    `json:"-" gorm:"column:password_hash" validate:"required,min=60"`
	FirstName    string    `json:"first_name" validate:"omitempty,max=50"`
	LastName     string    `json:"last_name" validate:"omitempty,max=50"`
	Verified     bool      `json:"verified"`
	TwoFAEnabled bool      `json:"two_fa_enabled"`
	TOTPSecret   string    `json:"-" gorm:"column:totp_secret" validate:"omitempty,base32"`
	LastLogin    time.Time `json:"last_login"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Wallet represents a user's balance for a single currency.
// Available funds are spendable; Locked funds are reserved as margin
// collateral and excluded from spendable checks. Both are non-negative
// at all times.
type Wallet struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index:idx_wallet_user_currency,unique" validate:"required,uuid"`
	Currency  string          `json:"currency" gorm:"index:idx_wallet_user_currency,unique" validate:"required"`
	Available decimal.Decimal `json:"available" gorm:"type:numeric(32,8)"`
	Locked    decimal.Decimal `json:"locked" gorm:"type:numeric(32,8)"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Trade represents an executed spot trade. Trades are append-only: created
// exactly once per successful execution, never mutated or deleted.
type Trade struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Symbol    string          `json:"symbol" gorm:"index" validate:"required"`
	Side      string          `json:"side" validate:"required,oneof=buy sell"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(32,8)"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(32,8)"`
	Total     decimal.Decimal `json:"total" gorm:"type:numeric(32,8)"`
	Fee       decimal.Decimal `json:"fee" gorm:"type:numeric(32,8)"`
	Status    string          `json:"status" validate:"required,oneof=completed"`
	CreatedAt time.Time       `json:"created_at" gorm:"index"`
}

// Transaction represents a balance-affecting event in the append-only
// transaction log. Amount is signed: credits positive, debits negative.
type Transaction struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID      uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Type        string          `json:"type" validate:"required,oneof=deposit withdrawal trade"`
	Currency    string          `json:"currency" validate:"required"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(32,8)"`
	Status      string          `json:"status" validate:"required,oneof=completed"`
	ReferenceID *uuid.UUID      `json:"reference_id,omitempty" gorm:"type:uuid;index"`
	CreatedAt   time.Time       `json:"created_at" gorm:"index"`
}

// Position statuses
const (
	PositionOpen       = "open"
	PositionClosed     = "closed"
	PositionLiquidated = "liquidated"
)

// Position represents a leveraged position. Margin is locked from the USD
// wallet on open and released exactly once on close, together with realized
// PnL. Closed positions are retained as history.
type Position struct {
	ID           uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID       uuid.UUID        `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Symbol       string           `json:"symbol" gorm:"index" validate:"required"`
	Type         string           `json:"type" validate:"required,oneof=long short"`
	Size         decimal.Decimal  `json:"size" gorm:"type:numeric(32,8)"`
	EntryPrice   decimal.Decimal  `json:"entry_price" gorm:"type:numeric(32,8)"`
	CurrentPrice decimal.Decimal  `json:"current_price" gorm:"type:numeric(32,8)"`
	Leverage     int              `json:"leverage" validate:"min=1,max=100"`
	Margin       decimal.Decimal  `json:"margin" gorm:"type:numeric(32,8)"`
	Status       string           `json:"status" gorm:"index" validate:"required,oneof=open closed liquidated"`
	RealizedPnL  decimal.Decimal  `json:"realized_pnl" gorm:"column:realized_pnl;type:numeric(32,8)"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty" gorm:"type:numeric(32,8)"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty" gorm:"type:numeric(32,8)"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Direction returns +1 for long positions and -1 for short positions.
func (p *Position) Direction() decimal.Decimal {
	if p.Type == "short" {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Order statuses
const (
	OrderPending   = "pending"
	OrderCancelled = "cancelled"
	OrderFilled    = "filled"
)

// Order represents a pending limit or stop entry created alongside a
// leveraged position. Cancellable only while pending; margin is managed by
// the Position, not the Order.
type Order struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Symbol    string          `json:"symbol" gorm:"index" validate:"required"`
	Type      string          `json:"type" validate:"required,oneof=limit stop"`
	Side      string          `json:"side" validate:"required,oneof=long short"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(32,8)"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(32,8)"`
	Status    string          `json:"status" gorm:"index" validate:"required,oneof=pending cancelled filled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Stats aggregates a user's trading activity over a time window.
type Stats struct {
	Timeframe     string          `json:"timeframe"`
	TotalTrades   int64           `json:"total_trades"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalBought   decimal.Decimal `json:"total_bought"`
	TotalSold     decimal.Decimal `json:"total_sold"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	AvgTradeSize  decimal.Decimal `json:"avg_trade_size"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	BestTrade     decimal.Decimal `json:"best_trade"`
	WorstTrade    decimal.Decimal `json:"worst_trade"`
	WinningTrades int64           `json:"winning_trades"`
	LosingTrades  int64           `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
}

// MarketPrice represents the latest quoted price for a symbol.
type MarketPrice struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email" validate:"required,email,max=254"`
	Username  string `json:"username" binding:"required,min=3,max=30" validate:"required,min=3,max=30,alphanum"`
	Password  string `json:"password" binding:"required,min=8" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"omitempty,max=50"`
	LastName  string `json:"last_name" validate:"omitempty,max=50"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Login    string `json:"login" binding:"required" validate:"required,max=254"` // email or username
	Password string `json:"password" binding:"required" validate:"required,min=8,max=128"`
}

// LoginResponse represents a user login response
type LoginResponse struct {
	User        *User     `json:"user,omitempty"`
	Token       string    `json:"token,omitempty"`
	Requires2FA bool      `json:"requires_2fa"`
	UserID      uuid.UUID `json:"user_id,omitempty"`
}

// TwoFALoginRequest completes a login that required a 2FA code.
type TwoFALoginRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required" validate:"required"`
	Token  string    `json:"token" binding:"required" validate:"required,len=6,numeric"`
}

// TwoFAVerifyRequest represents a 2FA verification request
type TwoFAVerifyRequest struct {
	Token string `json:"token" binding:"required" validate:"required,len=6,numeric"`
}

// TradeRequest represents a spot order execution request
type TradeRequest struct {
	Symbol string          `json:"symbol" binding:"required" validate:"required"`
	Side   string          `json:"side" binding:"required,oneof=buy sell" validate:"required,oneof=buy sell"`
	Amount decimal.Decimal `json:"amount" binding:"required" validate:"required"`
	Price  decimal.Decimal `json:"price" binding:"required" validate:"required"`
}

// OpenPositionRequest represents a request to open a leveraged position
type OpenPositionRequest struct {
	Symbol     string           `json:"symbol" binding:"required" validate:"required"`
	Type       string           `json:"type" binding:"required,oneof=long short" validate:"required,oneof=long short"`
	Amount     decimal.Decimal  `json:"amount" binding:"required" validate:"required"`
	Leverage   int              `json:"leverage" binding:"required" validate:"required,min=1,max=100"`
	EntryPrice decimal.Decimal  `json:"entry_price" binding:"required" validate:"required"`
	OrderType  string           `json:"order_type" validate:"omitempty,oneof=market limit stop"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// ClosePositionRequest represents a request to close an open position
// at the supplied market price.
type ClosePositionRequest struct {
	CurrentPrice decimal.Decimal `json:"current_price" binding:"required" validate:"required"`
}

// MoveFundsRequest represents a deposit or withdrawal request
type MoveFundsRequest struct {
	Currency string          `json:"currency" binding:"required" validate:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required" validate:"required"`
}
