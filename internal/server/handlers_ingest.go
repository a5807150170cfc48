package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type ingestRequest struct {
	SenderID    string `json:"senderId"`
	SenderEmail string `json:"senderEmail"`
}

type ingestResponse struct {
	Success       bool   `json:"success"`
	EmailsFetched int    `json:"emailsFetched"`
	EmailsStored  int    `json:"emailsStored"`
	Message       string `json:"message,omitempty"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, invalidRequest(err.Error()))
		return
	}

	res, err := s.ingester.Ingest(c.Request.Context(), identity(c), req.SenderID, req.SenderEmail)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ingestResponse{
		Success:       true,
		EmailsFetched: res.Fetched,
		EmailsStored:  res.Stored,
		Message:       res.Message,
	})
}
