package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(zap.NewNop(), srv.Client(), nil, cfg)
}

func TestGetPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		require.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		w.Write([]byte(`{"bitcoin":{"usd":45123.55}}`))
	}, Config{})

	price, err := c.GetPrice(context.Background(), "BTC")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromFloat(45123.55)), "price %s", price)
}

func TestGetPriceUnknownSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, Config{})

	_, err := c.GetPrice(context.Background(), "DOGE")
	require.Error(t, err)
}

func TestGetPriceRetriesOnServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ethereum":{"usd":3000}}`))
	}, Config{MaxRetries: 3})

	price, err := c.GetPrice(context.Background(), "ETH")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(3000)))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGetPriceExhaustsRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, Config{MaxRetries: 2})

	_, err := c.GetPrice(context.Background(), "SOL")
	require.Error(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

// Limiter state is per-client: two clients do not throttle each other, and
// a single client spaces its requests.
func TestRateLimiterSpacing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{"usd":100}}`))
	}, Config{MinInterval: 50 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetPrice(context.Background(), "BTC")
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiterRespectsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{"usd":100}}`))
	}, Config{MinInterval: time.Minute})

	_, err := c.GetPrice(context.Background(), "BTC")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GetPrice(ctx, "BTC")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
