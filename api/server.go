// Package api exposes the trading platform over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finbyte/tradesim/internal/analytics"
	"github.com/finbyte/tradesim/internal/identities"
	"github.com/finbyte/tradesim/internal/marketdata"
	"github.com/finbyte/tradesim/internal/position"
	"github.com/finbyte/tradesim/internal/trading"
	"github.com/finbyte/tradesim/internal/wallet"
	"github.com/finbyte/tradesim/internal/ws"
)

// Server wires the service layer into a gin router.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	validate   *validator.Validate

	identities *identities.Service
	wallets    *wallet.Service
	trading    *trading.Service
	positions  *position.Service
	analytics  *analytics.Service
	market     *marketdata.Client
	hub        *ws.Hub
}

// NewServer creates the API server with injected services.
func NewServer(
	logger *zap.Logger,
	identitySvc *identities.Service,
	walletSvc *wallet.Service,
	tradingSvc *trading.Service,
	positionSvc *position.Service,
	analyticsSvc *analytics.Service,
	market *marketdata.Client,
	hub *ws.Hub,
) *Server {
	s := &Server{
		logger:     logger,
		validate:   validator.New(),
		identities: identitySvc,
		wallets:    walletSvc,
		trading:    tradingSvc,
		positions:  positionSvc,
		analytics:  analyticsSvc,
		market:     market,
		hub:        hub,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router = router
	s.registerRoutes()
	return s
}

// Start begins serving on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	public := s.router.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/register", s.register)
			auth.POST("/login", s.login)
			auth.POST("/login/2fa", s.login2FA)
		}

		market := public.Group("/market")
		{
			market.GET("/prices", s.getMarketPrices)
			market.GET("/price/:symbol", s.getMarketPrice)
		}
	}

	protected := s.router.Group("/api/v1")
	protected.Use(s.authMiddleware())
	{
		user := protected.Group("/user")
		{
			user.GET("/profile", s.getProfile)
			twoFA := user.Group("/2fa")
			{
				twoFA.POST("/enable", s.enable2FA)
				twoFA.POST("/confirm", s.confirm2FA)
			}
		}

		wallets := protected.Group("/wallets")
		{
			wallets.GET("", s.listWallets)
			wallets.GET("/:currency", s.getWallet)
			wallets.POST("/deposit", s.deposit)
			wallets.POST("/withdraw", s.withdraw)
		}
		protected.GET("/transactions", s.listTransactions)

		trades := protected.Group("/trades")
		{
			trades.POST("", s.executeTrade)
			trades.GET("", s.listTrades)
		}

		positions := protected.Group("/positions")
		{
			positions.POST("", s.openPosition)
			positions.GET("", s.listPositions)
			positions.POST("/:id/close", s.closePosition)
		}

		orders := protected.Group("/orders")
		{
			orders.GET("", s.listOrders)
			orders.POST("/:id/cancel", s.cancelOrder)
		}

		protected.GET("/stats", s.getStats)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
