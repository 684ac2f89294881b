package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TradesExecuted counts settled spot trades by side (buy/sell)
var TradesExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradesim_trades_executed_total",
		Help: "Total number of spot trades settled by the execution engine",
	},
	[]string{"side"},
)

// TradeLatency records latency distribution for spot order execution
var TradeLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tradesim_trade_execution_latency_seconds",
		Help:    "Latency in seconds to execute and settle a spot order",
		Buckets: prometheus.DefBuckets,
	},
)

// Position lifecycle counters
var (
	PositionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_positions_opened_total",
			Help: "Total number of leveraged positions opened",
		},
		[]string{"type"},
	)

	PositionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradesim_positions_closed_total",
			Help: "Total number of leveraged positions closed",
		},
	)
)

// Ledger failure counters
var (
	InsufficientFundsRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradesim_insufficient_funds_rejections_total",
			Help: "Total number of operations rejected for insufficient funds",
		},
	)

	ConflictRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradesim_conflict_retries_total",
			Help: "Total number of ledger operations retried after a concurrency conflict",
		},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradesim_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradesim_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradesim_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(TradesExecuted, TradeLatency)
	prometheus.MustRegister(PositionsOpened, PositionsClosed)
	prometheus.MustRegister(InsufficientFundsRejections, ConflictRetries)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
