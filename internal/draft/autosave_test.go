package draft

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/chmdznr/fieldsync/internal/store"
	"github.com/chmdznr/fieldsync/pkg/models"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "draft.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig(debounce time.Duration) *Config {
	return &Config{
		Debounce: debounce,
		Logger:   log.New(io.Discard, "", 0),
	}
}

func TestDebouncedCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := NewSession(db, "f1", testConfig(30*time.Millisecond))
	// Rapid successive edits coalesce; only the last snapshot lands.
	s.Update(models.Payload{"q1": "a"})
	s.Update(models.Payload{"q1": "ab"})
	s.Update(models.Payload{"q1": "abc"})

	if _, err := db.GetDraft(ctx, "f1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("draft committed before the debounce window elapsed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := db.GetDraft(ctx, "f1")
		if err == nil {
			if d.Payload["q1"] != "abc" {
				t.Errorf("draft payload = %v; want final edit", d.Payload["q1"])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("draft never committed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	payload := models.Payload{
		"site":     "well-4",
		"count":    float64(12),
		"location": models.Location(-6.2, 106.8, 14.0, 5.0),
	}

	s := NewSession(db, "f1", testConfig(time.Hour))
	s.Update(payload)
	if err := s.Close(ctx); err != nil { // Close flushes the tail edit
		t.Fatal(err)
	}

	got, err := Load(ctx, db, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("no draft loaded")
	}
	if got["site"] != "well-4" || got["count"] != float64(12) {
		t.Errorf("loaded payload = %+v; want original", got)
	}
	loc, ok := got["location"].(map[string]any)
	if !ok || loc["latitude"] != -6.2 {
		t.Errorf("location not preserved: %+v", got["location"])
	}
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	db := openTestDB(t)
	payload, err := Load(context.Background(), db, "never-opened")
	if err != nil {
		t.Fatal(err)
	}
	if payload != nil {
		t.Errorf("Load absent = %+v; want nil", payload)
	}
}

func TestEmptyPayloadNotPersisted(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := NewSession(db, "f1", testConfig(time.Millisecond))
	s.Update(models.Payload{})
	time.Sleep(50 * time.Millisecond)

	if _, err := db.GetDraft(ctx, "f1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("draft persisted with no answered field")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAfterCloseIgnored(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := NewSession(db, "f1", testConfig(time.Millisecond))
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	s.Update(models.Payload{"q1": "late"})
	time.Sleep(50 * time.Millisecond)

	if _, err := db.GetDraft(ctx, "f1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("edit after close was persisted")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	payload := models.Payload{"q1": "original"}
	s := NewSession(db, "f1", testConfig(time.Hour))
	s.Update(payload)
	payload["q1"] = "mutated after update"

	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := Load(ctx, db, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got["q1"] != "original" {
		t.Errorf("committed draft saw a later mutation: %v", got["q1"])
	}
}

func TestDiscard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := NewSession(db, "f1", testConfig(time.Hour))
	s.Update(models.Payload{"q1": "v"})
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	if err := Discard(ctx, db, "f1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetDraft(ctx, "f1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("draft survived discard")
	}
	// Discarding again is a no-op.
	if err := Discard(ctx, db, "f1"); err != nil {
		t.Errorf("second discard: %v", err)
	}
}
