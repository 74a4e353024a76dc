package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"gorm.io/gorm"
)

const srnCookie = "SRN"

// srnFrom reads the student's SRN from the SRN header, falling back to the
// cookie set after registration.
func srnFrom(c *gin.Context) string {
	if srn := strings.TrimSpace(c.GetHeader("SRN")); srn != "" {
		return srn
	}
	srn, _ := c.Cookie(srnCookie)
	return strings.TrimSpace(srn)
}

func (s *Service) BeginRegistration(c *gin.Context) {
	srn := srnFrom(c)
	if srn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "srn_required", "message": "SRN header not found"})
		return
	}
	user, err := s.users.GetOrCreateUser(c.Request.Context(), srn)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "load user", "student_id", srn, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	if len(user.Credentials) > 0 {
		// Already bound to another authenticator.
		c.JSON(http.StatusConflict, gin.H{"error": "already_registered", "message": "user already registered"})
		return
	}

	options, session, err := s.webAuthn.BeginRegistration(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	s.registrations.Store(srn, session)
	c.JSON(http.StatusOK, options)
}

func (s *Service) FinishRegistration(c *gin.Context) {
	srn := srnFrom(c)
	v, ok := s.registrations.Load(srn)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_ceremony", "message": "registration was not started"})
		return
	}
	session := v.(*webauthn.SessionData)

	ctx := c.Request.Context()
	user, err := s.users.GetUser(ctx, srn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_user", "message": err.Error()})
		return
	}
	credential, err := s.webAuthn.FinishRegistration(user, *session, c.Request)
	if err != nil {
		s.logger.InfoContext(ctx, "registration rejected", "student_id", srn, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "ceremony_failed", "message": err.Error()})
		return
	}
	if err := s.users.AddCredential(ctx, srn, credential); err != nil {
		s.logger.ErrorContext(ctx, "store credential", "student_id", srn, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	s.registrations.Delete(srn)
	s.logger.InfoContext(ctx, "registered authenticator", "student_id", srn)

	c.SetCookie(srnCookie, srn, int(^uint32(0)>>1), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"message": "success"})
}

func (s *Service) CheckRegistered(c *gin.Context) {
	srn := srnFrom(c)
	if srn == "" {
		c.JSON(http.StatusOK, gin.H{"registered": false})
		return
	}
	user, err := s.users.GetUser(c.Request.Context(), srn)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"registered": false})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": len(user.Credentials) > 0})
}
