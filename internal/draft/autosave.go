// Package draft autosaves in-progress form answers so a crash or a
// navigation away does not lose a long data-collection session.
package draft

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/chmdznr/fieldsync/internal/store"
	"github.com/chmdznr/fieldsync/pkg/models"
)

// Config holds configuration for an autosave session.
type Config struct {
	// Debounce is how long after the last edit the draft is committed,
	// so rapid successive edits coalesce into one write.
	Debounce time.Duration

	// Logger for autosave activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 2 * time.Second,
		Logger:   log.New(os.Stderr, "[draft] ", log.LstdFlags),
	}
}

// Session is the autosave task for one open form. Each Update resets an
// explicit cancellable timer; Close stops it deterministically when the
// form is left.
type Session struct {
	db     *store.DB
	formID string
	config *Config

	mu      sync.Mutex
	pending models.Payload
	timer   *time.Timer
	closed  bool
}

// NewSession starts an autosave session for formID.
func NewSession(db *store.DB, formID string, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[draft] ", log.LstdFlags)
	}
	return &Session{db: db, formID: formID, config: config}
}

// Load returns the saved draft payload for a form so it can pre-populate
// the answer state on reopen, or nil when no draft exists.
func Load(ctx context.Context, db *store.DB, formID string) (models.Payload, error) {
	d, err := db.GetDraft(ctx, formID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.Payload, nil
}

// Update records the full current answer state and (re)arms the
// debounce timer. Payloads with no answered field are not persisted.
func (s *Session) Update(payload models.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(payload) == 0 {
		return
	}

	s.pending = payload.Clone()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.config.Debounce, s.commit)
}

// commit writes the latest snapshot once the debounce window elapses.
func (s *Session) commit() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.config.Logger.Printf("Autosave failed for form %s: %v", s.formID, err)
	}
}

// Flush commits the pending snapshot immediately, if there is one.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	payload := s.pending
	s.pending = nil
	s.mu.Unlock()

	if payload == nil {
		return nil
	}
	return s.db.PutDraft(ctx, &models.FormDraft{
		FormID:  s.formID,
		Payload: payload,
		SavedAt: time.Now().UTC(),
	})
}

// Close cancels the scheduled task and commits any edit still inside
// the debounce window. The session cannot be reused.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.Flush(ctx)
}

// Discard deletes the draft for a form (explicit user discard).
func Discard(ctx context.Context, db *store.DB, formID string) error {
	return db.DeleteDraft(ctx, formID)
}
