package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/finbyte/tradesim/pkg/models"
)

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Server) listWallets(c *gin.Context) {
	wallets, err := s.wallets.GetWallets(c.Request.Context(), currentUserID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": wallets})
}

func (s *Server) getWallet(c *gin.Context) {
	currency := strings.ToUpper(c.Param("currency"))
	w, err := s.wallets.GetWallet(c.Request.Context(), currentUserID(c), currency)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) deposit(c *gin.Context) {
	var req models.MoveFundsRequest
	if !s.bindJSON(c, &req) {
		return
	}
	tx, err := s.wallets.Deposit(c.Request.Context(), currentUserID(c), strings.ToUpper(req.Currency), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) withdraw(c *gin.Context) {
	var req models.MoveFundsRequest
	if !s.bindJSON(c, &req) {
		return
	}
	tx, err := s.wallets.Withdraw(c.Request.Context(), currentUserID(c), strings.ToUpper(req.Currency), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) listTransactions(c *gin.Context) {
	limit, offset := pagination(c)
	txs, total, err := s.wallets.GetTransactions(c.Request.Context(), currentUserID(c), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "total": total})
}
