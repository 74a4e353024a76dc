package sessions

import (
	"time"

	"github.com/anuragrao04/qr-attendance-core/models"
)

// RecordPresence adds studentID to the session's present-set. It is the
// only writer of that set and is idempotent: a repeat call reports
// AlreadyPresent and changes nothing.
func (m *Manager) RecordPresence(sessionID, studentID string) (models.PresenceResult, error) {
	return m.record(sessionID, studentID, nil)
}

// FinalizePending records presence for a secondary verification window
// opened at openedAt. Unlike RecordPresence it still succeeds after the
// session closed, provided the window was opened before the close.
func (m *Manager) FinalizePending(sessionID, studentID string, openedAt time.Time) (models.PresenceResult, error) {
	return m.record(sessionID, studentID, &openedAt)
}

func (m *Manager) IsPresent(sessionID, studentID string) bool {
	s := m.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.present[studentID]
	return ok
}

func (m *Manager) record(sessionID, studentID string, windowOpenedAt *time.Time) (models.PresenceResult, error) {
	s := m.lookup(sessionID)
	if s == nil {
		return models.PresenceResult{}, models.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.meta.Status == models.SessionClosed {
		lateConfirm := windowOpenedAt != nil && windowOpenedAt.Before(*s.meta.ClosedAt)
		if !lateConfirm {
			s.mu.Unlock()
			return models.PresenceResult{}, models.ErrSessionClosed
		}
	}

	if markedAt, ok := s.present[studentID]; ok {
		present, remaining := s.countsLocked()
		s.mu.Unlock()
		return models.PresenceResult{
			AlreadyPresent: true,
			MarkedAt:       markedAt,
			CountPresent:   present,
			CountRemaining: remaining,
		}, nil
	}

	now := m.clock.Now()
	s.present[studentID] = now
	present, remaining := s.countsLocked()
	// Published under the session lock so observers see counts in order.
	m.publisher.Publish(models.Event{
		Type:      models.EventPresenceConfirmed,
		SessionID: sessionID,
		At:        now,
		Data: models.PresenceConfirmed{
			StudentID:      studentID,
			CountPresent:   present,
			CountRemaining: remaining,
		},
	})
	s.mu.Unlock()

	m.logger.Info("marked present",
		"session_id", sessionID, "student_id", studentID,
		"present", present, "remaining", remaining)

	return models.PresenceResult{
		MarkedAt:       now,
		CountPresent:   present,
		CountRemaining: remaining,
	}, nil
}
