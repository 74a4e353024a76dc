// Package broadcast fans session events out to the dashboards subscribed to
// that session, and optionally forwards them to an external sink.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/anuragrao04/qr-attendance-core/models"
)

const defaultBuffer = 64

// Sink receives every non-countdown event after local fan-out. Send must
// not block.
type Sink interface {
	Send(ev models.Event)
}

// Hub keeps one topic per session. The hub lock only guards the topic map;
// delivery takes the topic's own lock so sessions never contend.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
	buffer int
	sink   Sink
	logger *slog.Logger
}

type topic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithSink(s Sink) Option {
	return func(h *Hub) { h.sink = s }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics: make(map[string]*topic),
		buffer: defaultBuffer,
		logger: slog.Default().With("module", "broadcast"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one viewer's queue. Events is closed when the viewer
// unsubscribes, when the session is dropped, or when the viewer fell a full
// buffer behind (Lagged reports true in that case).
type Subscription struct {
	SessionID string

	events chan models.Event
	hub    *Hub
	once   sync.Once
	lagged atomic.Bool
}

func (s *Subscription) Events() <-chan models.Event { return s.events }

func (s *Subscription) Lagged() bool { return s.lagged.Load() }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	t := s.hub.lookup(s.SessionID)
	if t == nil {
		s.closeChan()
		return
	}
	t.mu.Lock()
	delete(t.subs, s)
	t.mu.Unlock()
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.events) })
}

func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		SessionID: sessionID,
		events:    make(chan models.Event, h.buffer),
		hub:       h,
	}

	h.mu.Lock()
	t, ok := h.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[sessionID] = t
	}
	h.mu.Unlock()

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	return sub
}

// Publish delivers ev to the subscribers of ev.SessionID only. It never
// blocks: a subscriber whose queue is full is disconnected.
func (h *Hub) Publish(ev models.Event) {
	if t := h.lookup(ev.SessionID); t != nil {
		t.mu.Lock()
		for sub := range t.subs {
			select {
			case sub.events <- ev:
			default:
				delete(t.subs, sub)
				sub.lagged.Store(true)
				sub.closeChan()
				h.logger.Info("disconnected lagging subscriber",
					"session_id", ev.SessionID, "event", ev.Type)
			}
		}
		t.mu.Unlock()
	}

	if h.sink != nil && ev.Type != models.EventCountdown {
		h.sink.Send(ev)
	}
}

// Subscribers reports how many viewers are attached to a session.
func (h *Hub) Subscribers(sessionID string) int {
	t := h.lookup(sessionID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Drop closes every subscription for the session and forgets the topic.
func (h *Hub) Drop(sessionID string) {
	h.mu.Lock()
	t, ok := h.topics[sessionID]
	delete(h.topics, sessionID)
	h.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	for sub := range t.subs {
		delete(t.subs, sub)
		sub.closeChan()
	}
	t.mu.Unlock()
}

func (h *Hub) lookup(sessionID string) *topic {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.topics[sessionID]
}
