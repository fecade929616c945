package models

import "time"

// FieldDescriptor describes a single form field as produced by the
// XForm parser. The parser itself is an external collaborator; fieldsync
// only consumes its output.
type FieldDescriptor struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// FieldParser turns raw XForm XML into an ordered field list. Supplied
// by the caller when the server response does not already carry parsed
// descriptors.
type FieldParser func(xml string) ([]FieldDescriptor, error)

// FormDefinition is a downloaded, self-contained copy of a form.
// Immutable once stored; a re-download replaces the record wholesale.
type FormDefinition struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"projectId"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	XML          string            `json:"xml"`
	Fields       []FieldDescriptor `json:"fields"`
	DownloadedAt time.Time         `json:"downloadedAt"`
}

// QueuedSubmission is a unit of field-collected data awaiting
// transmission. The ID is generated client-side at creation time and
// doubles as the idempotency key for remote writes.
type QueuedSubmission struct {
	ID           string    `json:"id"`
	FormID       string    `json:"formId"`
	UserID       string    `json:"userId,omitempty"` // empty means anonymous
	Payload      Payload   `json:"payload"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"createdAt"`
	Synced       bool      `json:"synced"`
	AttemptCount int       `json:"attemptCount"`
	LastError    string    `json:"lastError,omitempty"`
}

// FormDraft holds autosaved in-progress answers for a form not yet
// submitted. At most one draft exists per form.
type FormDraft struct {
	FormID  string    `json:"formId"`
	Payload Payload   `json:"payload"`
	SavedAt time.Time `json:"savedAt"`
}

// SheetFailure records a secondary-target push that failed after the
// primary remote write already succeeded. It is keyed by the
// server-side record id, not the local queue id, because the local
// queue entry is resolved by then.
type SheetFailure struct {
	RecordID string    `json:"recordId"`
	FormID   string    `json:"formId"`
	Payload  Payload   `json:"payload"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// Stats summarizes the local store for status output.
type Stats struct {
	Forms            int64
	PendingItems     int64
	ExhaustedItems   int64
	Drafts           int64
	SheetRetries     int64
	OldestPendingAge time.Duration
}
