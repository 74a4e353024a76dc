package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/gin-gonic/gin"
)

var statusByCode = map[models.ErrorCode]int{
	models.CodeInvalidFormat:   http.StatusBadRequest,
	models.CodeScopeRequired:   http.StatusBadRequest,
	models.CodeAccessDenied:    http.StatusForbidden,
	models.CodeNotEnrolled:     http.StatusForbidden,
	models.CodeSessionNotFound: http.StatusNotFound,
	models.CodeNoToken:         http.StatusNotFound,
	models.CodeAlreadyUsed:     http.StatusConflict,
	models.CodeExpiredCode:     http.StatusGone,
	models.CodeSessionClosed:   http.StatusGone,
}

// StatusFor maps a coded error to its HTTP status. Uncoded errors are 500.
func StatusFor(err error) int {
	if status, ok := statusByCode[models.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	var coded *models.Error
	if errors.As(err, &coded) {
		c.JSON(StatusFor(err), gin.H{"error": coded.Code, "message": coded.Message})
		return
	}
	slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": models.CodeInvalidFormat, "message": err.Error()})
}
