package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finbyte/tradesim/pkg/models"
)

func (s *Server) register(c *gin.Context) {
	var req models.RegisterRequest
	if !s.bindJSON(c, &req) {
		return
	}
	user, err := s.identities.Register(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) login(c *gin.Context) {
	var req models.LoginRequest
	if !s.bindJSON(c, &req) {
		return
	}
	resp, err := s.identities.Login(c.Request.Context(), &req)
	if err != nil {
		// Do not leak which of the credentials was wrong.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) login2FA(c *gin.Context) {
	var req models.TwoFALoginRequest
	if !s.bindJSON(c, &req) {
		return
	}
	resp, err := s.identities.Login2FA(c.Request.Context(), req.UserID, req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getProfile(c *gin.Context) {
	user, err := s.identities.GetUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) enable2FA(c *gin.Context) {
	secret, err := s.identities.Enable2FA(c.Request.Context(), currentUserID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret})
}

func (s *Server) confirm2FA(c *gin.Context) {
	var req models.TwoFAVerifyRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.identities.Confirm2FA(c.Request.Context(), currentUserID(c), req.Token); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "2FA enabled"})
}
