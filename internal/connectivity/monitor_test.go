package connectivity

import (
	"io"
	"log"
	"testing"
)

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func TestSetStateEmitsOncePerEdge(t *testing.T) {
	m := New(nil, quietConfig())

	var events []Event
	unsubscribe := m.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsubscribe()

	m.SetState(Online)
	m.SetState(Online) // no edge, no event
	m.SetState(Offline)
	m.SetState(Online)

	if len(events) != 3 {
		t.Fatalf("got %d events; want 3", len(events))
	}
	want := []struct{ from, to State }{
		{Offline, Online},
		{Online, Offline},
		{Offline, Online},
	}
	for i, w := range want {
		if events[i].From != w.from || events[i].To != w.to {
			t.Errorf("event[%d] = %s->%s; want %s->%s", i, events[i].From, events[i].To, w.from, w.to)
		}
	}
}

func TestIsOnline(t *testing.T) {
	m := New(nil, quietConfig())
	if m.IsOnline() {
		t.Error("monitor should start offline")
	}
	m.SetState(Online)
	if !m.IsOnline() {
		t.Error("IsOnline false after going online")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := New(nil, quietConfig())

	count := 0
	unsubscribe := m.Subscribe(func(Event) { count++ })

	m.SetState(Online)
	unsubscribe()
	unsubscribe() // second call is harmless
	m.SetState(Offline)

	if count != 1 {
		t.Errorf("handler ran %d times; want 1", count)
	}
}

func TestSubscriberCanResubscribeFromHandler(t *testing.T) {
	m := New(nil, quietConfig())

	fired := false
	m.Subscribe(func(ev Event) {
		// Handlers run outside the monitor lock, so calling back in
		// must not deadlock.
		if !fired {
			fired = true
			_ = m.IsOnline()
		}
	})

	m.SetState(Online)
	if !fired {
		t.Error("handler did not run")
	}
}
