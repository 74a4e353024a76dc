package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/gin-gonic/gin"
)

const verifierKeyHeader = "X-Verifier-Key"

// Confirm is called by the external face matcher after a positive match.
func (h *Handlers) Confirm(c *gin.Context) {
	if h.VerifierKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "disabled", "message": "external verification is not configured"})
		return
	}
	key := c.GetHeader(verifierKeyHeader)
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.VerifierKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "bad verifier key"})
		return
	}

	var req models.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.Verifier.Confirm(req.SessionID, req.StudentID) {
		c.JSON(http.StatusGone, gin.H{"error": "window_closed", "message": "no pending verification for this scan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": true})
}

func (h *Handlers) WindowStatus(c *gin.Context) {
	w, ok := h.Verifier.Window(c.Param("sessionId"), c.Param("studentId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_window", "message": "no verification window for this student"})
		return
	}
	c.JSON(http.StatusOK, w)
}
