// Package verification runs the secondary-factor window that follows a
// successful primary scan when a biometric confirmation is required.
package verification

import (
	"log/slog"
	"sync"
	"time"

	"github.com/anuragrao04/qr-attendance-core/clock"
	"github.com/anuragrao04/qr-attendance-core/models"
)

// PresenceFinalizer records presence once a window is confirmed.
type PresenceFinalizer interface {
	FinalizePending(sessionID, studentID string, openedAt time.Time) (models.PresenceResult, error)
}

type Publisher interface {
	Publish(ev models.Event)
}

// Gate tracks at most one window per (session, student). Windows of one
// session share a lock; different sessions never contend.
type Gate struct {
	presence  PresenceFinalizer
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionWindows
}

type sessionWindows struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	state models.PendingVerification
	timer clock.Timer
}

func NewGate(presence PresenceFinalizer, publisher Publisher, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gate{
		presence:  presence,
		publisher: publisher,
		clock:     clk,
		logger:    slog.Default().With("module", "verification"),
		sessions:  make(map[string]*sessionWindows),
	}
}

// OpenWindow creates a PENDING window that expires at deadline. If one is
// already pending for the key it is returned unchanged, so a retry never
// pushes the deadline out. The bool reports whether a new window was made.
func (g *Gate) OpenWindow(sessionID, studentID string, deadline time.Time) (models.PendingVerification, bool) {
	sw := g.windowsFor(sessionID, true)
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if w, ok := sw.windows[studentID]; ok && w.state.Status == models.VerificationPending {
		return w.state, false
	}

	now := g.clock.Now()
	w := &window{state: models.PendingVerification{
		SessionID: sessionID,
		StudentID: studentID,
		OpenedAt:  now,
		Deadline:  deadline,
		Status:    models.VerificationPending,
	}}
	sw.windows[studentID] = w

	g.publisher.Publish(models.Event{
		Type:      models.EventVerificationPending,
		SessionID: sessionID,
		At:        now,
		Data:      models.VerificationPending{StudentID: studentID, Deadline: deadline},
	})
	g.logger.Info("opened verification window",
		"session_id", sessionID, "student_id", studentID, "deadline", deadline)

	if d := deadline.Sub(now); d > 0 {
		w.timer = g.clock.AfterFunc(d, func() { g.expire(sw, w) })
	} else {
		g.expireLocked(w, now)
	}
	return w.state, true
}

// Confirm is called by a verification source after a positive match. It
// returns false, with no side effect, when there is no pending window or
// the window has lapsed. Confirming an already confirmed window succeeds.
func (g *Gate) Confirm(sessionID, studentID string) bool {
	sw := g.windowsFor(sessionID, false)
	if sw == nil {
		return false
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()

	w, ok := sw.windows[studentID]
	if !ok {
		return false
	}
	switch w.state.Status {
	case models.VerificationConfirmed:
		return true
	case models.VerificationExpired:
		return false
	}

	now := g.clock.Now()
	if now.After(w.state.Deadline) {
		// The expiry timer has not run yet; settle it here so the window
		// still expires exactly once.
		if w.timer != nil {
			w.timer.Stop()
		}
		g.expireLocked(w, now)
		return false
	}

	if _, err := g.presence.FinalizePending(sessionID, studentID, w.state.OpenedAt); err != nil {
		g.logger.Warn("confirmed window could not record presence",
			"session_id", sessionID, "student_id", studentID, "error", err)
		return false
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.state.Status = models.VerificationConfirmed
	w.state.ResolvedAt = &now
	g.logger.Info("verification confirmed", "session_id", sessionID, "student_id", studentID)
	return true
}

// Window returns the current state of the key's window, if any.
func (g *Gate) Window(sessionID, studentID string) (models.PendingVerification, bool) {
	sw := g.windowsFor(sessionID, false)
	if sw == nil {
		return models.PendingVerification{}, false
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	w, ok := sw.windows[studentID]
	if !ok {
		return models.PendingVerification{}, false
	}
	return w.state, true
}

// Drop cancels every timer for an evicted session and forgets its windows.
func (g *Gate) Drop(sessionID string) {
	g.mu.Lock()
	sw := g.sessions[sessionID]
	delete(g.sessions, sessionID)
	g.mu.Unlock()
	if sw == nil {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for _, w := range sw.windows {
		if w.timer != nil {
			w.timer.Stop()
		}
	}
	sw.windows = map[string]*window{}
}

func (g *Gate) expire(sw *sessionWindows, w *window) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	// A newer window may have replaced w after a fresh scan.
	if sw.windows[w.state.StudentID] != w {
		return
	}
	g.expireLocked(w, g.clock.Now())
}

func (g *Gate) expireLocked(w *window, now time.Time) {
	if w.state.Status != models.VerificationPending {
		return
	}
	w.state.Status = models.VerificationExpired
	w.state.ResolvedAt = &now
	g.publisher.Publish(models.Event{
		Type:      models.EventVerificationExpired,
		SessionID: w.state.SessionID,
		At:        now,
		Data:      models.VerificationExpired{StudentID: w.state.StudentID},
	})
	g.logger.Debug("verification window lapsed",
		"session_id", w.state.SessionID, "student_id", w.state.StudentID)
}

func (g *Gate) windowsFor(sessionID string, create bool) *sessionWindows {
	g.mu.Lock()
	defer g.mu.Unlock()
	sw, ok := g.sessions[sessionID]
	if !ok && create {
		sw = &sessionWindows{windows: make(map[string]*window)}
		g.sessions[sessionID] = sw
	}
	return sw
}
