// Package sessions owns attendance sessions: their scope, lifecycle and
// present-set. Other components hold a *Manager and observe lifecycle
// changes through OnClose and OnEvict hooks.
package sessions

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/anuragrao04/qr-attendance-core/clock"
	"github.com/anuragrao04/qr-attendance-core/models"
)

// RosterSizer is the part of the roster resolver the manager needs.
type RosterSizer interface {
	RosterSize(ctx context.Context, department, year string) (int, error)
}

type Publisher interface {
	Publish(ev models.Event)
}

type Options struct {
	Clock clock.Clock
	// Retention is how long a closed session stays queryable before it is
	// evicted. Zero keeps closed sessions forever.
	Retention     time.Duration
	RosterTimeout time.Duration
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	roster        RosterSizer
	publisher     Publisher
	clock         clock.Clock
	retention     time.Duration
	rosterTimeout time.Duration
	logger        *slog.Logger

	hooksMu    sync.Mutex
	closeHooks []func(models.Session)
	evictHooks []func(sessionID string)
}

// session is the live record. mu serialises every mutation of one session;
// the manager lock is only held for map access.
type session struct {
	mu          sync.Mutex
	meta        models.Session
	present     map[string]time.Time
	rosterStale bool
}

func NewManager(roster RosterSizer, publisher Publisher, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.RosterTimeout <= 0 {
		opts.RosterTimeout = 2 * time.Second
	}
	return &Manager{
		sessions:      make(map[string]*session),
		roster:        roster,
		publisher:     publisher,
		clock:         opts.Clock,
		retention:     opts.Retention,
		rosterTimeout: opts.RosterTimeout,
		logger:        slog.Default().With("module", "sessions"),
	}
}

// OnClose registers fn to run once per session, right after it closes and
// before the session_closed event is published.
func (m *Manager) OnClose(fn func(models.Session)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.closeHooks = append(m.closeHooks, fn)
}

// OnEvict registers fn to run when a closed session is dropped from memory.
func (m *Manager) OnEvict(fn func(sessionID string)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.evictHooks = append(m.evictHooks, fn)
}

// Session returns a snapshot of the session.
func (m *Manager) Session(sessionID string) (models.Session, error) {
	s := m.lookup(sessionID)
	if s == nil {
		return models.Session{}, models.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (m *Manager) lookup(sessionID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

func (m *Manager) evict(sessionID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.hooksMu.Lock()
	hooks := append([]func(string){}, m.evictHooks...)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
	m.logger.Debug("evicted closed session", "session_id", sessionID)
}

func (s *session) snapshotLocked() models.Session {
	snap := s.meta
	snap.Present = make([]string, 0, len(s.present))
	for id := range s.present {
		snap.Present = append(snap.Present, id)
	}
	sort.Strings(snap.Present)
	if s.meta.ClosedAt != nil {
		closed := *s.meta.ClosedAt
		snap.ClosedAt = &closed
	}
	return snap
}

func (s *session) countsLocked() (present, remaining int) {
	present = len(s.present)
	remaining = s.meta.RosterSize - present
	if remaining < 0 {
		remaining = 0
	}
	return present, remaining
}
