package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/anuragrao04/qr-attendance-core/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingSink) Send(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func receive(t *testing.T, sub *Subscription) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	return models.Event{}
}

func TestPublishIsScopedToSession(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("S_A")
	b := hub.Subscribe("S_B")
	defer a.Close()
	defer b.Close()

	hub.Publish(models.Event{Type: models.EventCountdown, SessionID: "S_A"})

	if ev := receive(t, a); ev.SessionID != "S_A" {
		t.Fatalf("got event for %q", ev.SessionID)
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("unrelated session received %v", ev.Type)
	default:
	}
}

func TestEverySubscriberReceivesEvent(t *testing.T) {
	hub := NewHub()
	subs := []*Subscription{hub.Subscribe("S1"), hub.Subscribe("S1"), hub.Subscribe("S1")}
	if n := hub.Subscribers("S1"); n != 3 {
		t.Fatalf("subscribers = %d", n)
	}

	hub.Publish(models.Event{Type: models.EventSessionClosed, SessionID: "S1"})
	for _, s := range subs {
		if ev := receive(t, s); ev.Type != models.EventSessionClosed {
			t.Fatalf("got %v", ev.Type)
		}
		s.Close()
	}
	if n := hub.Subscribers("S1"); n != 0 {
		t.Fatalf("subscribers after close = %d", n)
	}
}

func TestLaggingSubscriberIsDisconnected(t *testing.T) {
	hub := NewHub(WithBuffer(2))
	slow := hub.Subscribe("S1")

	for i := 0; i < 3; i++ {
		hub.Publish(models.Event{Type: models.EventCountdown, SessionID: "S1"})
	}

	if !slow.Lagged() {
		t.Fatalf("subscriber should be marked lagged")
	}
	drained := 0
	for range slow.Events() {
		drained++
	}
	if drained != 2 {
		t.Fatalf("drained %d buffered events, want 2", drained)
	}
	slow.Close()
}

func TestSinkSkipsCountdown(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(WithSink(sink))

	hub.Publish(models.Event{Type: models.EventCountdown, SessionID: "S1"})
	hub.Publish(models.Event{Type: models.EventPresenceConfirmed, SessionID: "S1"})

	got := sink.types()
	if len(got) != 1 || got[0] != models.EventPresenceConfirmed {
		t.Fatalf("sink received %v", got)
	}
}

func TestDropClosesSubscriptions(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("S1")
	hub.Drop("S1")

	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed channel after drop")
	}
	sub.Close()
}
