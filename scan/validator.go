// Package scan validates a student's scan of a session token and turns an
// accepted scan into either recorded presence or a secondary-factor window.
package scan

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/anuragrao04/qr-attendance-core/clock"
	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/anuragrao04/qr-attendance-core/tokens"
)

type TokenStore interface {
	Resolve(p tokens.Presented) (models.Token, error)
	Consume(t models.Token) error
}

type SessionStore interface {
	Session(sessionID string) (models.Session, error)
	RecordPresence(sessionID, studentID string) (models.PresenceResult, error)
	IsPresent(sessionID, studentID string) bool
	RefreshRosterSize(ctx context.Context, sessionID string)
}

type RosterChecker interface {
	IsEnrolled(ctx context.Context, studentID, department, year string) (bool, error)
}

type WindowOpener interface {
	OpenWindow(sessionID, studentID string, deadline time.Time) (models.PendingVerification, bool)
}

type Options struct {
	RequireSecondaryFactor bool
	FaceTTL                time.Duration
	RosterTimeout          time.Duration
	Clock                  clock.Clock
}

type Validator struct {
	tokens   TokenStore
	sessions SessionStore
	roster   RosterChecker
	gate     WindowOpener

	requireSecondary bool
	faceTTL          time.Duration
	rosterTimeout    time.Duration
	clock            clock.Clock
	logger           *slog.Logger
}

func NewValidator(tokenStore TokenStore, sessions SessionStore, roster RosterChecker, gate WindowOpener, opts Options) *Validator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.FaceTTL <= 0 {
		opts.FaceTTL = 30 * time.Second
	}
	if opts.RosterTimeout <= 0 {
		opts.RosterTimeout = 2 * time.Second
	}
	return &Validator{
		tokens:           tokenStore,
		sessions:         sessions,
		roster:           roster,
		gate:             gate,
		requireSecondary: opts.RequireSecondaryFactor,
		faceTTL:          opts.FaceTTL,
		rosterTimeout:    opts.RosterTimeout,
		clock:            opts.Clock,
		logger:           slog.Default().With("module", "scan"),
	}
}

// SubmitScan runs one scan attempt. Every rejection is a *models.Error.
func (v *Validator) SubmitScan(ctx context.Context, req models.ScanRequest) (models.ScanResult, error) {
	studentID := strings.TrimSpace(req.StudentID)

	presented, err := tokens.Parse(req.Token)
	if err != nil {
		return models.ScanResult{}, v.reject(ctx, "", studentID, err)
	}
	token, err := v.tokens.Resolve(presented)
	if err != nil {
		return models.ScanResult{}, v.reject(ctx, "", studentID, err)
	}
	sessionID := token.SessionID

	sess, err := v.sessions.Session(sessionID)
	if err != nil {
		// A token that outlived its session's retention names nothing.
		return models.ScanResult{}, v.reject(ctx, sessionID, studentID, models.ErrExpiredCode)
	}
	// Scope is checked before the token is judged so a token carried to
	// another department or year never reports anything but AccessDenied.
	if !scopeMatches(sess, req.Department, req.Year) {
		return models.ScanResult{}, v.reject(ctx, sessionID, studentID, models.ErrAccessDenied)
	}
	if !sess.IsOpen() {
		return models.ScanResult{}, v.reject(ctx, sessionID, studentID, models.ErrSessionClosed)
	}
	if err := v.tokens.Consume(token); err != nil {
		return models.ScanResult{}, v.reject(ctx, sessionID, studentID, err)
	}

	enrolled, err := v.isEnrolled(ctx, studentID, sess.Department, sess.Year)
	if err != nil {
		v.logger.WarnContext(ctx, "roster unavailable, rejecting scan",
			"session_id", sessionID, "student_id", studentID, "error", err)
		return models.ScanResult{}, v.reject(ctx, sessionID, studentID, models.ErrNotEnrolled)
	}
	if !enrolled {
		return models.ScanResult{}, v.reject(ctx, sessionID, studentID, models.ErrNotEnrolled)
	}
	v.sessions.RefreshRosterSize(ctx, sessionID)

	result := models.ScanResult{SessionID: sessionID, StudentID: studentID}

	if !v.requireSecondary || v.sessions.IsPresent(sessionID, studentID) {
		presence, err := v.sessions.RecordPresence(sessionID, studentID)
		if err != nil {
			return models.ScanResult{}, v.reject(ctx, sessionID, studentID, err)
		}
		result.Outcome = models.ScanAccepted
		result.AlreadyPresent = presence.AlreadyPresent
		result.MarkedAt = &presence.MarkedAt
		return result, nil
	}

	window, _ := v.gate.OpenWindow(sessionID, studentID, v.clock.Now().Add(v.faceTTL))
	result.Outcome = models.ScanAcceptedPendingSecondary
	result.Deadline = &window.Deadline
	v.logger.InfoContext(ctx, "scan accepted, awaiting secondary factor",
		"session_id", sessionID, "student_id", studentID)
	return result, nil
}

// CheckAccess reports whether a student could scan into the session
// without touching any token.
func (v *Validator) CheckAccess(ctx context.Context, req models.CheckAccessRequest) (models.AccessReport, error) {
	sess, err := v.sessions.Session(strings.TrimSpace(req.SessionID))
	if err != nil {
		return models.AccessReport{}, err
	}
	report := models.AccessReport{
		SessionID:  sess.ID,
		ScopeMatch: scopeMatches(sess, req.Department, req.Year),
		Department: sess.Department,
		Year:       sess.Year,
	}
	enrolled, err := v.isEnrolled(ctx, strings.TrimSpace(req.StudentID), sess.Department, sess.Year)
	if err != nil {
		v.logger.WarnContext(ctx, "roster unavailable during access check",
			"session_id", sess.ID, "error", err)
	}
	report.Enrolled = err == nil && enrolled
	report.HasAccess = report.ScopeMatch && report.Enrolled && sess.IsOpen()
	return report, nil
}

func (v *Validator) isEnrolled(ctx context.Context, studentID, department, year string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.rosterTimeout)
	defer cancel()
	return v.roster.IsEnrolled(ctx, studentID, department, year)
}

func (v *Validator) reject(ctx context.Context, sessionID, studentID string, err error) error {
	code := models.CodeOf(err)
	attrs := []any{"session_id", sessionID, "student_id", studentID, "error_code", code}
	switch code {
	case models.CodeExpiredCode, models.CodeInvalidFormat:
		v.logger.DebugContext(ctx, "scan rejected", attrs...)
	case models.CodeAlreadyUsed, models.CodeAccessDenied, models.CodeNotEnrolled, models.CodeSessionClosed:
		v.logger.InfoContext(ctx, "scan rejected", attrs...)
	default:
		v.logger.WarnContext(ctx, "scan rejected", append(attrs, "error", err)...)
	}
	return err
}

func scopeMatches(sess models.Session, department, year string) bool {
	return strings.EqualFold(strings.TrimSpace(department), sess.Department) &&
		strings.EqualFold(strings.TrimSpace(year), sess.Year)
}
