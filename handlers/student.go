package handlers

import (
	"net/http"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/gin-gonic/gin"
)

func (h *Handlers) Scan(c *gin.Context) {
	var req models.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Scanner.SubmitScan(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == models.ScanAcceptedPendingSecondary {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (h *Handlers) CheckAccess(c *gin.Context) {
	var req models.CheckAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	report, err := h.Scanner.CheckAccess(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
