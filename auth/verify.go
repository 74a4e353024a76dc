package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
)

func verificationKey(sessionID, srn string) string {
	return sessionID + "/" + srn
}

// BeginVerification starts an assertion for the pending window named by
// the sessionId query parameter.
func (s *Service) BeginVerification(c *gin.Context) {
	srn := srnFrom(c)
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if srn == "" || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format", "message": "SRN and sessionId are required"})
		return
	}
	user, err := s.users.GetUser(c.Request.Context(), srn)
	if err != nil || len(user.Credentials) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_registered", "message": "no credential found for this user"})
		return
	}

	options, session, err := s.webAuthn.BeginLogin(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	s.verifications.Store(verificationKey(sessionID, srn), session)
	c.JSON(http.StatusOK, options)
}

// FinishVerification checks the assertion and, on success, confirms the
// student's pending window.
func (s *Service) FinishVerification(c *gin.Context) {
	srn := srnFrom(c)
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	key := verificationKey(sessionID, srn)
	v, ok := s.verifications.LoadAndDelete(key)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_ceremony", "message": "verification was not started"})
		return
	}
	session := v.(*webauthn.SessionData)

	ctx := c.Request.Context()
	user, err := s.users.GetUser(ctx, srn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_user", "message": err.Error()})
		return
	}
	credential, err := s.webAuthn.FinishLogin(user, *session, c.Request)
	if err != nil {
		s.logger.InfoContext(ctx, "assertion rejected",
			"session_id", sessionID, "student_id", srn, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ceremony_failed", "message": err.Error()})
		return
	}
	if err := s.users.UpdateCredential(ctx, srn, credential); err != nil {
		s.logger.WarnContext(ctx, "update sign counter", "student_id", srn, "error", err)
	}

	if !s.gate.Confirm(sessionID, srn) {
		c.JSON(http.StatusGone, gin.H{"error": "window_closed", "message": "no pending verification for this scan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": true})
}
