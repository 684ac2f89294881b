// Package marketdata fetches symbol prices from an external provider.
// Rate-limiter and retry state live on the client instance, not in
// process-wide globals. Prices are inputs to the ledger; failures here
// never affect a ledger commit.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finbyte/tradesim/pkg/models"
)

// symbolIDs maps wallet currencies to provider asset ids.
var symbolIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"BNB": "binancecoin",
	"XRP": "ripple",
}

// rateLimiter enforces a minimum interval between outbound requests.
// Each Client owns its own limiter; there is no process-wide state.
type rateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastRequest time.Time
}

func (r *rateLimiter) wait(ctx context.Context) error {
	r.mu.Lock()
	sleep := r.minInterval - time.Since(r.lastRequest)
	r.lastRequest = time.Now().Add(sleep)
	r.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	select {
	case <-time.After(sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config holds market data client settings.
type Config struct {
	BaseURL     string
	MinInterval time.Duration
	MaxRetries  int
	CacheTTL    time.Duration
}

// Client is a rate-limited price fetcher with an optional Redis
// read-through cache.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	limiter    *rateLimiter
	maxRetries int
	cache      *redis.Client
	cacheTTL   time.Duration
}

// NewClient creates a market data client. cache may be nil.
func NewClient(logger *zap.Logger, httpClient *http.Client, cache *redis.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Client{
		logger:     logger,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    &rateLimiter{minInterval: cfg.MinInterval},
		maxRetries: cfg.MaxRetries,
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
	}
}

// GetPrice returns the current USD price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	assetID, ok := symbolIDs[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown symbol: %s", symbol)
	}

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, "price:"+symbol).Result(); err == nil {
			if price, err := decimal.NewFromString(cached); err == nil {
				return price, nil
			}
		}
	}

	price, err := c.fetchPrice(ctx, assetID)
	if err != nil {
		return decimal.Zero, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, "price:"+symbol, price.String(), c.cacheTTL).Err(); err != nil {
			c.logger.Warn("Failed to cache price", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return price, nil
}

// GetPrices fetches all supported symbols.
func (c *Client) GetPrices(ctx context.Context) ([]*models.MarketPrice, error) {
	prices := make([]*models.MarketPrice, 0, len(symbolIDs))
	for symbol := range symbolIDs {
		price, err := c.GetPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		prices = append(prices, &models.MarketPrice{
			Symbol:    symbol,
			Price:     price,
			UpdatedAt: time.Now(),
		})
	}
	return prices, nil
}

func (c *Client) fetchPrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, assetID)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.wait(ctx); err != nil {
			return decimal.Zero, err
		}
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			}
		}

		price, err := c.doRequest(ctx, url, assetID)
		if err == nil {
			return price, nil
		}
		lastErr = err
		c.logger.Warn("Price fetch failed",
			zap.String("asset", assetID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return decimal.Zero, fmt.Errorf("price fetch exhausted retries: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, url, assetID string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("malformed provider response: %w", err)
	}

	quote, ok := payload[assetID]
	if !ok {
		return decimal.Zero, fmt.Errorf("asset %s missing from response", assetID)
	}
	raw, ok := quote["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("usd quote missing for %s", assetID)
	}
	return decimal.NewFromString(raw.String())
}

// StreamPrices polls all symbols at the given interval and publishes each
// tick. Intended to feed the WebSocket hub; runs until ctx is cancelled.
func (c *Client) StreamPrices(ctx context.Context, interval time.Duration, publish func(topic string, payload interface{})) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prices, err := c.GetPrices(ctx)
			if err != nil {
				c.logger.Warn("Price stream tick failed", zap.Error(err))
				continue
			}
			publish("prices", prices)
		}
	}
}
