package handlers

import (
	"net/http"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/gin-gonic/gin"
)

type tokenView struct {
	models.Token
	SecondsRemaining int `json:"secondsRemaining"`
}

func (h *Handlers) viewOf(t models.Token) tokenView {
	return tokenView{Token: t, SecondsRemaining: t.SecondsRemaining(h.Clock.Now())}
}

// OpenSession opens a session and issues its first token so the presenter
// has something to display immediately.
func (h *Handlers) OpenSession(c *gin.Context) {
	var req models.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.Sessions.OpenSession(c.Request.Context(), req.CourseID, req.Department, req.Year)
	if err != nil {
		writeError(c, err)
		return
	}
	tok, err := h.Tokens.IssueToken(sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess, "token": h.viewOf(tok)})
}

func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.Sessions.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "summary": sess.Summary()})
}

func (h *Handlers) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.Sessions.CloseSession(id); err != nil {
		writeError(c, err)
		return
	}
	sess, err := h.Sessions.Session(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "summary": sess.Summary()})
}

func (h *Handlers) RotateToken(c *gin.Context) {
	tok, err := h.Tokens.RotateToken(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.viewOf(tok))
}

func (h *Handlers) CurrentToken(c *gin.Context) {
	tok, err := h.Tokens.CurrentToken(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.viewOf(tok))
}
