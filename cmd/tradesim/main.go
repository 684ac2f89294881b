package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finbyte/tradesim/api"
	"github.com/finbyte/tradesim/internal/analytics"
	"github.com/finbyte/tradesim/internal/config"
	"github.com/finbyte/tradesim/internal/database"
	"github.com/finbyte/tradesim/internal/identities"
	"github.com/finbyte/tradesim/internal/marketdata"
	"github.com/finbyte/tradesim/internal/position"
	"github.com/finbyte/tradesim/internal/trading"
	"github.com/finbyte/tradesim/internal/wallet"
	"github.com/finbyte/tradesim/internal/ws"
	"github.com/finbyte/tradesim/pkg/logger"
	"github.com/finbyte/tradesim/pkg/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis cache for market data is optional.
	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := cache.Ping(context.Background()).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, running without price cache", zap.Error(err))
			cache = nil
		}
	}

	seedDeposit, err := decimal.NewFromString(cfg.Auth.SeedDepositUSD)
	if err != nil {
		zapLogger.Fatal("Invalid seed deposit amount", zap.Error(err))
	}

	hub := ws.NewHub(zapLogger)

	walletSvc, err := wallet.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create wallet service", zap.Error(err))
	}
	identitySvc, err := identities.NewService(zapLogger, db, walletSvc, identities.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		JWTExpirationHours: cfg.Auth.JWTExpirationHours,
		TOTPIssuer:         cfg.Auth.TOTPIssuer,
		SeedDepositUSD:     seedDeposit,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create identities service", zap.Error(err))
	}
	tradingSvc, err := trading.NewService(zapLogger, db, walletSvc, hub)
	if err != nil {
		zapLogger.Fatal("Failed to create trading service", zap.Error(err))
	}
	positionSvc, err := position.NewService(zapLogger, db, walletSvc, hub)
	if err != nil {
		zapLogger.Fatal("Failed to create position service", zap.Error(err))
	}
	analyticsSvc, err := analytics.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create analytics service", zap.Error(err))
	}

	market := marketdata.NewClient(zapLogger, nil, cache, marketdata.Config{
		BaseURL:     cfg.MarketData.BaseURL,
		MinInterval: cfg.MarketData.MinInterval,
		MaxRetries:  cfg.MarketData.MaxRetries,
		CacheTTL:    cfg.MarketData.CacheTTL,
	})

	services := []interface{ Start() error }{
		walletSvc, identitySvc, tradingSvc, positionSvc, analyticsSvc,
	}
	for _, svc := range services {
		if err := svc.Start(); err != nil {
			zapLogger.Fatal("Failed to start service", zap.Error(err))
		}
	}

	// Stream provider prices to WebSocket subscribers until shutdown.
	streamCtx, stopStream := context.WithCancel(context.Background())
	go market.StreamPrices(streamCtx, 10*time.Second, hub.Publish)

	// DB pool metrics every 30s.
	poolTicker := time.NewTicker(30 * time.Second)
	go func() {
		for range poolTicker.C {
			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				metrics.DBOpenConns.WithLabelValues("postgres").Set(float64(stats.OpenConnections))
				metrics.DBIdleConns.WithLabelValues("postgres").Set(float64(stats.Idle))
				metrics.DBInUseConns.WithLabelValues("postgres").Set(float64(stats.InUse))
			}
		}
	}()

	apiServer := api.NewServer(zapLogger, identitySvc, walletSvc, tradingSvc,
		positionSvc, analyticsSvc, market, hub)

	go func() {
		if err := apiServer.Start(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down")
	stopStream()
	poolTicker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("API server shutdown failed", zap.Error(err))
	}
	hub.Close()

	stoppers := []interface{ Stop() error }{
		analyticsSvc, positionSvc, tradingSvc, identitySvc, walletSvc,
	}
	for _, svc := range stoppers {
		if err := svc.Stop(); err != nil {
			zapLogger.Error("Service stop failed", zap.Error(err))
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Shutdown complete")
}
