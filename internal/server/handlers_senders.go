package server

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/teemow/mailminder/internal/model"
)

type createSenderRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleMe(c *gin.Context) {
	user, err := s.store.GetUser(c.Request.Context(), identity(c).UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleListSenders(c *gin.Context) {
	senders, err := s.store.ListSenders(c.Request.Context(), identity(c).UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if senders == nil {
		senders = []model.Sender{}
	}
	c.JSON(http.StatusOK, gin.H{"senders": senders})
}

func (s *Server) handleCreateSender(c *gin.Context) {
	var req createSenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, invalidRequest(err.Error()))
		return
	}

	// Addresses are stored bare and lowercased so the Gmail query and the
	// uniqueness constraint see one form.
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		abortWithError(c, invalidRequest("email is not a valid address"))
		return
	}

	sender, err := s.store.CreateSender(c.Request.Context(), identity(c).UserID, strings.ToLower(addr.Address), strings.TrimSpace(req.DisplayName))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sender)
}

func (s *Server) handleDeleteSender(c *gin.Context) {
	if err := s.store.DeleteSender(c.Request.Context(), identity(c).UserID, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListEmails(c *gin.Context) {
	emails, err := s.store.ListEmails(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if emails == nil {
		emails = []model.Email{}
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails})
}
