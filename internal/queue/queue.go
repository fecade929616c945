// Package queue mediates all writes to queued submissions: enqueue while
// offline, attempt bookkeeping, and removal after a confirmed sync.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chmdznr/fieldsync/internal/store"
	"github.com/chmdznr/fieldsync/pkg/models"
)

// MaxAttempts is the retry ceiling: after this many consecutive failed
// attempts an item is kept but excluded from automatic passes until the
// user explicitly retries.
const MaxAttempts = 5

// ErrDuplicateID is returned when an enqueue would overwrite an existing
// submission. Identifiers are assigned once at creation time, so a
// collision is a logic error in the caller.
var ErrDuplicateID = errors.New("submission id already queued")

// Manager owns the submission queue lifecycle.
type Manager struct {
	db     *store.DB
	logger *log.Logger
}

// New creates a queue manager. If logger is nil, a default logger
// writing to stderr is used.
func New(db *store.DB, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Manager{db: db, logger: logger}
}

// Enqueue persists a new submission with synced=false and a zero attempt
// counter. The submission must carry a pre-assigned unique id, a form id,
// and a non-empty payload; the payload checksum is computed here so the
// orchestrator can detect local corruption before transmitting.
func (m *Manager) Enqueue(ctx context.Context, sub *models.QueuedSubmission) error {
	if sub.ID == "" {
		return fmt.Errorf("submission id is required")
	}
	if sub.FormID == "" {
		return fmt.Errorf("form id is required")
	}
	if len(sub.Payload) == 0 {
		return fmt.Errorf("payload is empty")
	}

	if _, err := m.db.GetSubmission(ctx, sub.ID); err == nil {
		return ErrDuplicateID
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	checksum, err := sub.Payload.Checksum()
	if err != nil {
		return fmt.Errorf("failed to checksum payload: %v", err)
	}
	sub.Checksum = checksum
	sub.Synced = false
	sub.AttemptCount = 0
	sub.LastError = ""
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	if err := m.db.PutSubmission(ctx, sub); err != nil {
		return err
	}
	m.logger.Printf("Enqueued submission %s (form %s)", sub.ID, sub.FormID)
	return nil
}

// ListPending returns all unsynced submissions, oldest-first.
func (m *Manager) ListPending(ctx context.Context) ([]models.QueuedSubmission, error) {
	return m.db.ListPendingSubmissions(ctx)
}

// RecordFailure increments the attempt counter and overwrites the stored
// error message. A missing id is a no-op: the item may have been synced
// and removed concurrently.
func (m *Manager) RecordFailure(ctx context.Context, id, errorMessage string) error {
	sub, err := m.db.GetSubmission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	sub.AttemptCount++
	sub.LastError = errorMessage
	if err := m.db.PutSubmission(ctx, sub); err != nil {
		return err
	}
	m.logger.Printf("Submission %s failed (attempt %d): %s", id, sub.AttemptCount, errorMessage)
	return nil
}

// RecordSuccessAndRemove deletes the submission after a confirmed remote
// write. Idempotent: removing an already-removed id is not an error.
func (m *Manager) RecordSuccessAndRemove(ctx context.Context, id string) error {
	return m.db.DeleteSubmission(ctx, id)
}

// Exhausted reports whether a submission has reached the retry ceiling.
func Exhausted(sub *models.QueuedSubmission) bool {
	return sub.AttemptCount >= MaxAttempts
}
