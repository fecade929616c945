// Package store is the local durable store: crash-safe SQLite persistence
// for downloaded forms, queued submissions, and in-progress drafts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/fieldsync/pkg/models"
)

// ErrNotFound is returned by Get* methods when no record exists for the
// given key. Absence is an expected result, not a storage failure.
var ErrNotFound = errors.New("record not found")

// StorageError wraps an underlying storage-engine failure (quota,
// corruption, locked database). The store performs no retry internally.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// DB represents the on-device database.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the database at path.
// The pragmas ride on the DSN so they apply to every pooled connection:
// synchronous=FULL so a put is on disk before the call returns.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on")
	if err != nil {
		return nil, storageErr("open", err)
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, storageErr("initialize", err)
	}
	return db, nil
}

// initialize creates the necessary tables if they don't exist.
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			name TEXT PRIMARY KEY,
			remote_endpoint TEXT,
			api_token TEXT,
			device_id TEXT,
			media_endpoint TEXT,
			media_bucket TEXT,
			media_access_key TEXT,
			media_secret_key TEXT,
			media_use_ssl INTEGER,
			sheets_endpoint TEXT,
			workbook_path TEXT
		);
		CREATE TABLE IF NOT EXISTS forms (
			form_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			version TEXT,
			xml TEXT,
			fields TEXT,
			downloaded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_forms_project ON forms(project_id);
		CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			form_id TEXT NOT NULL,
			user_id TEXT,
			payload TEXT NOT NULL,
			checksum TEXT NOT NULL,
			created_at TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_submissions_synced ON submissions(synced, created_at);
		CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions(form_id);
		CREATE TABLE IF NOT EXISTS drafts (
			form_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sheet_failures (
			record_id TEXT PRIMARY KEY,
			form_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			error TEXT,
			failed_at TEXT NOT NULL
		);
	`)
	return err
}

// timeLayout is RFC 3339 with the fractional second zero-padded to a
// fixed width. Timestamps are stored as TEXT and compared with ORDER BY
// and MIN(), so the encoding must sort the same as the instants; the
// trailing-zero trimming of RFC3339Nano breaks that ("...00.5Z" sorts
// before "...00Z"). All writers format in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveProfile upserts the device profile.
func (db *DB) SaveProfile(ctx context.Context, p *models.Profile) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO profiles (
			name, remote_endpoint, api_token, device_id,
			media_endpoint, media_bucket, media_access_key, media_secret_key, media_use_ssl,
			sheets_endpoint, workbook_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.Name, p.Remote.Endpoint, p.Remote.APIToken, p.Remote.DeviceID,
		p.Media.Endpoint, p.Media.Bucket, p.Media.AccessKey, p.Media.SecretKey, boolToInt(p.Media.UseSSL),
		p.Sheets.Endpoint, p.Sheets.WorkbookPath,
	)
	return storageErr("save profile", err)
}

// GetProfile retrieves a profile by name.
func (db *DB) GetProfile(ctx context.Context, name string) (*models.Profile, error) {
	var p models.Profile
	var useSSL int
	err := db.QueryRowContext(ctx, `
		SELECT name, remote_endpoint, api_token, device_id,
			media_endpoint, media_bucket, media_access_key, media_secret_key, media_use_ssl,
			sheets_endpoint, workbook_path
		FROM profiles WHERE name = ?
	`, name).Scan(
		&p.Name, &p.Remote.Endpoint, &p.Remote.APIToken, &p.Remote.DeviceID,
		&p.Media.Endpoint, &p.Media.Bucket, &p.Media.AccessKey, &p.Media.SecretKey, &useSSL,
		&p.Sheets.Endpoint, &p.Sheets.WorkbookPath,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get profile", err)
	}
	p.Media.UseSSL = useSSL != 0
	return &p, nil
}

// PutForm stores a form definition, replacing any existing record
// wholesale. Forms are immutable per id; there is no partial update.
func (db *DB) PutForm(ctx context.Context, form *models.FormDefinition) error {
	fields, err := json.Marshal(form.Fields)
	if err != nil {
		return storageErr("encode form fields", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO forms (form_id, project_id, name, version, xml, fields, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, form.ID, form.ProjectID, form.Name, form.Version, form.XML, string(fields),
		form.DownloadedAt.UTC().Format(timeLayout))
	return storageErr("put form", err)
}

// GetForm retrieves a form definition by id.
func (db *DB) GetForm(ctx context.Context, id string) (*models.FormDefinition, error) {
	var form models.FormDefinition
	var fields, downloadedAt string
	err := db.QueryRowContext(ctx, `
		SELECT form_id, project_id, name, version, xml, fields, downloaded_at
		FROM forms WHERE form_id = ?
	`, id).Scan(&form.ID, &form.ProjectID, &form.Name, &form.Version, &form.XML, &fields, &downloadedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get form", err)
	}
	if err := json.Unmarshal([]byte(fields), &form.Fields); err != nil {
		return nil, storageErr("decode form fields", err)
	}
	form.DownloadedAt, _ = time.Parse(timeLayout, downloadedAt)
	return &form, nil
}

// ListFormsByProject retrieves all stored forms for a project.
func (db *DB) ListFormsByProject(ctx context.Context, projectID string) ([]models.FormDefinition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT form_id, project_id, name, version, xml, fields, downloaded_at
		FROM forms WHERE project_id = ? ORDER BY name
	`, projectID)
	if err != nil {
		return nil, storageErr("list forms", err)
	}
	defer rows.Close()

	var forms []models.FormDefinition
	for rows.Next() {
		var form models.FormDefinition
		var fields, downloadedAt string
		if err := rows.Scan(&form.ID, &form.ProjectID, &form.Name, &form.Version, &form.XML, &fields, &downloadedAt); err != nil {
			return nil, storageErr("scan form", err)
		}
		if err := json.Unmarshal([]byte(fields), &form.Fields); err != nil {
			return nil, storageErr("decode form fields", err)
		}
		form.DownloadedAt, _ = time.Parse(timeLayout, downloadedAt)
		forms = append(forms, form)
	}
	return forms, storageErr("list forms", rows.Err())
}

// DeleteForm removes a form definition. Deleting an absent id is a no-op.
func (db *DB) DeleteForm(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM forms WHERE form_id = ?`, id)
	return storageErr("delete form", err)
}

// PutSubmission upserts a queued submission by id.
func (db *DB) PutSubmission(ctx context.Context, sub *models.QueuedSubmission) error {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		return storageErr("encode payload", err)
	}
	var userID any
	if sub.UserID != "" {
		userID = sub.UserID
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO submissions (id, form_id, user_id, payload, checksum, created_at, synced, attempt_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.FormID, userID, string(payload), sub.Checksum,
		sub.CreatedAt.UTC().Format(timeLayout), boolToInt(sub.Synced), sub.AttemptCount, sub.LastError)
	return storageErr("put submission", err)
}

// GetSubmission retrieves a queued submission by id.
func (db *DB) GetSubmission(ctx context.Context, id string) (*models.QueuedSubmission, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, form_id, user_id, payload, checksum, created_at, synced, attempt_count, last_error
		FROM submissions WHERE id = ?
	`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get submission", err)
	}
	return sub, nil
}

// ListPendingSubmissions returns all unsynced submissions oldest-first.
// The id tiebreak keeps the order deterministic for same-instant items.
func (db *DB) ListPendingSubmissions(ctx context.Context) ([]models.QueuedSubmission, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, form_id, user_id, payload, checksum, created_at, synced, attempt_count, last_error
		FROM submissions WHERE synced = 0
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, storageErr("list pending", err)
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// ListSubmissionsByForm returns all queued submissions for one form.
func (db *DB) ListSubmissionsByForm(ctx context.Context, formID string) ([]models.QueuedSubmission, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, form_id, user_id, payload, checksum, created_at, synced, attempt_count, last_error
		FROM submissions WHERE form_id = ?
		ORDER BY created_at ASC, id ASC
	`, formID)
	if err != nil {
		return nil, storageErr("list submissions by form", err)
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// DeleteSubmission removes a queued submission. No-op if absent.
func (db *DB) DeleteSubmission(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id)
	return storageErr("delete submission", err)
}

// PutDraft upserts the draft for a form (overwrite, never append).
func (db *DB) PutDraft(ctx context.Context, draft *models.FormDraft) error {
	payload, err := json.Marshal(draft.Payload)
	if err != nil {
		return storageErr("encode draft payload", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO drafts (form_id, payload, saved_at)
		VALUES (?, ?, ?)
	`, draft.FormID, string(payload), draft.SavedAt.UTC().Format(timeLayout))
	return storageErr("put draft", err)
}

// GetDraft retrieves the draft for a form.
func (db *DB) GetDraft(ctx context.Context, formID string) (*models.FormDraft, error) {
	var draft models.FormDraft
	var payload, savedAt string
	err := db.QueryRowContext(ctx, `
		SELECT form_id, payload, saved_at FROM drafts WHERE form_id = ?
	`, formID).Scan(&draft.FormID, &payload, &savedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get draft", err)
	}
	if err := json.Unmarshal([]byte(payload), &draft.Payload); err != nil {
		return nil, storageErr("decode draft payload", err)
	}
	draft.SavedAt, _ = time.Parse(timeLayout, savedAt)
	return &draft, nil
}

// DeleteDraft removes the draft for a form. No-op if absent.
func (db *DB) DeleteDraft(ctx context.Context, formID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM drafts WHERE form_id = ?`, formID)
	return storageErr("delete draft", err)
}

// PutSheetFailure records a failed secondary-target push for a
// server-side record.
func (db *DB) PutSheetFailure(ctx context.Context, f *models.SheetFailure) error {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return storageErr("encode sheet failure payload", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sheet_failures (record_id, form_id, payload, error, failed_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.RecordID, f.FormID, string(payload), f.Error, f.FailedAt.UTC().Format(timeLayout))
	return storageErr("put sheet failure", err)
}

// ListSheetFailures returns all recorded secondary-target failures.
func (db *DB) ListSheetFailures(ctx context.Context) ([]models.SheetFailure, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT record_id, form_id, payload, error, failed_at
		FROM sheet_failures ORDER BY failed_at ASC
	`)
	if err != nil {
		return nil, storageErr("list sheet failures", err)
	}
	defer rows.Close()

	var failures []models.SheetFailure
	for rows.Next() {
		var f models.SheetFailure
		var payload, failedAt string
		if err := rows.Scan(&f.RecordID, &f.FormID, &payload, &f.Error, &failedAt); err != nil {
			return nil, storageErr("scan sheet failure", err)
		}
		if err := json.Unmarshal([]byte(payload), &f.Payload); err != nil {
			return nil, storageErr("decode sheet failure payload", err)
		}
		f.FailedAt, _ = time.Parse(timeLayout, failedAt)
		failures = append(failures, f)
	}
	return failures, storageErr("list sheet failures", rows.Err())
}

// DeleteSheetFailure removes a recorded failure. No-op if absent.
func (db *DB) DeleteSheetFailure(ctx context.Context, recordID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sheet_failures WHERE record_id = ?`, recordID)
	return storageErr("delete sheet failure", err)
}

// ClearAll wipes every collection. Used only for an explicit
// user-initiated reset; profiles survive so the device stays configured.
func (db *DB) ClearAll(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("clear all", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"forms", "submissions", "drafts", "sheet_failures"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return storageErr("clear "+table, err)
		}
	}
	return storageErr("clear all", tx.Commit())
}

// GetStats returns counts for status output. maxAttempts is the retry
// ceiling separating pending from exhausted items.
func (db *DB) GetStats(ctx context.Context, maxAttempts int) (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM forms),
			(SELECT COUNT(*) FROM submissions WHERE synced = 0 AND attempt_count < ?),
			(SELECT COUNT(*) FROM submissions WHERE synced = 0 AND attempt_count >= ?),
			(SELECT COUNT(*) FROM drafts),
			(SELECT COUNT(*) FROM sheet_failures)
	`, maxAttempts, maxAttempts).Scan(
		&stats.Forms, &stats.PendingItems, &stats.ExhaustedItems, &stats.Drafts, &stats.SheetRetries,
	)
	if err != nil {
		return nil, storageErr("get stats", err)
	}

	var oldest sql.NullString
	err = db.QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM submissions WHERE synced = 0
	`).Scan(&oldest)
	if err != nil {
		return nil, storageErr("get stats", err)
	}
	if oldest.Valid {
		if t, err := time.Parse(timeLayout, oldest.String); err == nil {
			stats.OldestPendingAge = time.Since(t)
		}
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.QueuedSubmission, error) {
	var sub models.QueuedSubmission
	var userID, lastError sql.NullString
	var payload, createdAt string
	var synced int
	if err := row.Scan(&sub.ID, &sub.FormID, &userID, &payload, &sub.Checksum,
		&createdAt, &synced, &sub.AttemptCount, &lastError); err != nil {
		return nil, err
	}
	sub.UserID = userID.String
	sub.LastError = lastError.String
	sub.Synced = synced != 0
	if err := json.Unmarshal([]byte(payload), &sub.Payload); err != nil {
		return nil, err
	}
	sub.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &sub, nil
}

func collectSubmissions(rows *sql.Rows) ([]models.QueuedSubmission, error) {
	var subs []models.QueuedSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, storageErr("scan submission", err)
		}
		subs = append(subs, *sub)
	}
	return subs, storageErr("scan submissions", rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
