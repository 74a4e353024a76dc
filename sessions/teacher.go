package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/google/uuid"
)

// OpenSession creates an OPEN session scoped to department and year. The
// roster size lookup is best effort: if the resolver fails the session
// opens with a zero roster and is corrected by RefreshRosterSize.
func (m *Manager) OpenSession(ctx context.Context, courseID, department, year string) (models.Session, error) {
	department = strings.TrimSpace(department)
	year = strings.TrimSpace(year)
	if department == "" || year == "" {
		return models.Session{}, models.ErrScopeRequired
	}

	size, err := m.fetchRosterSize(ctx, department, year)
	stale := err != nil
	if stale {
		m.logger.WarnContext(ctx, "roster size unavailable, opening with empty roster",
			"department", department, "year", year, "error", err)
	}

	s := &session{
		meta: models.Session{
			ID:         uuid.NewString(),
			CourseID:   strings.TrimSpace(courseID),
			Department: department,
			Year:       year,
			Status:     models.SessionOpen,
			CreatedAt:  m.clock.Now(),
			RosterSize: size,
		},
		present:     make(map[string]time.Time),
		rosterStale: stale,
	}

	m.mu.Lock()
	m.sessions[s.meta.ID] = s
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "opened session",
		"session_id", s.meta.ID, "course_id", s.meta.CourseID,
		"department", department, "year", year, "roster_size", size)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// CloseSession moves the session to CLOSED. Closing an already closed
// session is a no-op.
func (m *Manager) CloseSession(sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return models.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.meta.Status == models.SessionClosed {
		s.mu.Unlock()
		return nil
	}
	now := m.clock.Now()
	s.meta.Status = models.SessionClosed
	s.meta.ClosedAt = &now
	snap := s.snapshotLocked()
	s.mu.Unlock()

	m.hooksMu.Lock()
	hooks := append([]func(models.Session){}, m.closeHooks...)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(snap)
	}

	summary := snap.Summary()
	m.publisher.Publish(models.Event{
		Type:      models.EventSessionClosed,
		SessionID: sessionID,
		At:        now,
		Data:      models.SessionClosed{Summary: summary},
	})
	m.logger.Info("closed session",
		"session_id", sessionID, "present", summary.Present, "total", summary.Total)

	if m.retention > 0 {
		m.clock.AfterFunc(m.retention, func() { m.evict(sessionID) })
	}
	return nil
}

// RefreshRosterSize retries the roster lookup for a session that opened
// while the resolver was unavailable. It is a no-op otherwise.
func (m *Manager) RefreshRosterSize(ctx context.Context, sessionID string) {
	s := m.lookup(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	stale := s.rosterStale
	department, year := s.meta.Department, s.meta.Year
	s.mu.Unlock()
	if !stale {
		return
	}

	size, err := m.fetchRosterSize(ctx, department, year)
	if err != nil {
		m.logger.WarnContext(ctx, "roster size still unavailable",
			"session_id", sessionID, "error", err)
		return
	}

	s.mu.Lock()
	s.meta.RosterSize = size
	s.rosterStale = false
	s.mu.Unlock()
	m.logger.InfoContext(ctx, "corrected roster size", "session_id", sessionID, "roster_size", size)
}

func (m *Manager) fetchRosterSize(ctx context.Context, department, year string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.rosterTimeout)
	defer cancel()
	return m.roster.RosterSize(ctx, department, year)
}
