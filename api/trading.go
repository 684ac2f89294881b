package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finbyte/tradesim/pkg/models"
)

func (s *Server) executeTrade(c *gin.Context) {
	var req models.TradeRequest
	if !s.bindJSON(c, &req) {
		return
	}
	trade, err := s.trading.ExecuteOrder(c.Request.Context(), currentUserID(c),
		strings.ToUpper(req.Symbol), req.Side, req.Amount, req.Price)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (s *Server) listTrades(c *gin.Context) {
	limit, offset := pagination(c)
	trades, total, err := s.trading.ListTrades(c.Request.Context(), currentUserID(c), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "total": total})
}

func (s *Server) openPosition(c *gin.Context) {
	var req models.OpenPositionRequest
	if !s.bindJSON(c, &req) {
		return
	}
	req.Symbol = strings.ToUpper(req.Symbol)
	pos, err := s.positions.OpenPosition(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pos)
}

func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.positions.ListPositions(c.Request.Context(), currentUserID(c), c.Query("status"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) closePosition(c *gin.Context) {
	positionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position id"})
		return
	}
	var req models.ClosePositionRequest
	if !s.bindJSON(c, &req) {
		return
	}
	pos, err := s.positions.ClosePosition(c.Request.Context(), currentUserID(c), positionID, req.CurrentPrice)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.positions.ListOrders(c.Request.Context(), currentUserID(c), c.Query("status"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	if err := s.positions.CancelOrder(c.Request.Context(), currentUserID(c), orderID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order cancelled"})
}

func (s *Server) getStats(c *gin.Context) {
	timeframe := c.DefaultQuery("timeframe", "all")
	stats, err := s.analytics.ComputeStats(c.Request.Context(), currentUserID(c), timeframe)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getMarketPrices(c *gin.Context) {
	prices, err := s.market.GetPrices(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

func (s *Server) getMarketPrice(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	price, err := s.market.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.MarketPrice{Symbol: symbol, Price: price, UpdatedAt: time.Now()})
}
