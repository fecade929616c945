// Package connectivity observes network reachability and publishes
// online/offline transition events.
//
// The reachability signal is a hint about link state, not end-to-end
// server reachability; the sync orchestrator still verifies with a real
// remote call before trusting it.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// State is the best-known reachability state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Event is published once per state edge.
type Event struct {
	From State
	To   State
	At   time.Time
}

// Probe reports whether the network currently looks reachable.
type Probe func(ctx context.Context) bool

// HTTPProbe builds a probe that issues a HEAD request against url with a
// short timeout. Any response, including an error status, counts as
// reachable; only transport failures count as offline.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Config holds configuration for the monitor.
type Config struct {
	// ProbeInterval is how often reachability is re-checked.
	ProbeInterval time.Duration

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 15 * time.Second,
		Logger:        log.New(os.Stderr, "[connectivity] ", log.LstdFlags),
	}
}

// Monitor polls a probe and fans transition events out to subscribers.
type Monitor struct {
	probe  Probe
	config *Config

	mu     sync.Mutex
	state  State
	nextID int
	subs   map[int]func(Event)

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor in the Offline state. Call Start to begin
// polling, or drive it manually with SetState in tests.
func New(probe Probe, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Monitor{
		probe:  probe,
		config: config,
		state:  Offline,
		subs:   make(map[int]func(Event)),
	}
}

// IsOnline returns the current best-known state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Online
}

// Subscribe registers a handler invoked exactly once per state edge.
// The returned function deregisters the handler; calling it more than
// once is harmless.
func (m *Monitor) Subscribe(handler func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// SetState records a new state and, on an edge, notifies subscribers.
// Handlers run outside the monitor lock so they may call back into it.
func (m *Monitor) SetState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	ev := Event{From: m.state, To: s, At: time.Now()}
	m.state = s
	handlers := make([]func(Event), 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	m.config.Logger.Printf("Connectivity changed: %s -> %s", ev.From, ev.To)
	for _, h := range handlers {
		h(ev)
	}
}

// Start begins periodic probing until the context is cancelled or Stop
// is called. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.check(ctx)

		ticker := time.NewTicker(m.config.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the poll goroutine to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) check(ctx context.Context) {
	if m.probe(ctx) {
		m.SetState(Online)
	} else {
		m.SetState(Offline)
	}
}
