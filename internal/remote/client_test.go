package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/chmdznr/fieldsync/pkg/models"
)

func TestInsertSubmissionSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth, gotDevice string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		gotDevice = r.Header.Get("X-Device-ID")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"recordId": "rec-1"})
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, APIToken: "tok", DeviceID: "dev-9"})
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.InsertSubmission(context.Background(), "f1", "u1", models.Payload{"k": "v"}, "key-123")
	if err != nil {
		t.Fatalf("InsertSubmission: %v", err)
	}
	if result.RecordID != "rec-1" {
		t.Errorf("RecordID = %q; want rec-1", result.RecordID)
	}
	if gotKey != "key-123" {
		t.Errorf("Idempotency-Key = %q; want key-123", gotKey)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotDevice != "dev-9" {
		t.Errorf("X-Device-ID = %q", gotDevice)
	}
}

func TestInsertSubmissionServerDeduplicates(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]string)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		mu.Lock()
		defer mu.Unlock()
		if id, ok := seen[key]; ok {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"recordId": id})
			return
		}
		seen[key] = "rec-" + key
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"recordId": "rec-" + key})
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	// Retry after a lost response: same key, must resolve to the same
	// record without error.
	for i := 0; i < 2; i++ {
		result, err := client.InsertSubmission(context.Background(), "f1", "", models.Payload{"k": "v"}, "dup-key")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if result.RecordID != "rec-dup-key" {
			t.Errorf("attempt %d RecordID = %q", i+1, result.RecordID)
		}
	}
	if len(seen) != 1 {
		t.Errorf("server stored %d records; want 1", len(seen))
	}
}

func TestInsertSubmissionErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"gateway timeout", http.StatusGatewayTimeout, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"validation rejection", http.StatusUnprocessableEntity, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
			}))
			defer server.Close()

			client, err := NewClient(Config{Endpoint: server.URL})
			if err != nil {
				t.Fatal(err)
			}
			_, err = client.InsertSubmission(context.Background(), "f1", "", models.Payload{"k": "v"}, "k1")
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v; want %v", got, tt.retryable)
			}
		})
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.InsertSubmission(context.Background(), "f1", "", models.Payload{"k": "v"}, "k1")
	if err == nil {
		t.Skip("unexpectedly connected")
	}
	if !IsRetryable(err) {
		t.Error("transport failure classified as permanent")
	}
}

func TestFetchForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forms/water-survey" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":        "water-survey",
			"projectId": "proj-1",
			"name":      "Water Point Survey",
			"version":   "3",
			"xml":       "<h:html/>",
			"fields": []map[string]any{
				{"name": "site_name", "type": "text", "required": true},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	form, err := client.FetchForm(context.Background(), "water-survey")
	if err != nil {
		t.Fatalf("FetchForm: %v", err)
	}
	if form.Name != "Water Point Survey" || len(form.Fields) != 1 {
		t.Errorf("form = %+v", form)
	}
	if form.DownloadedAt.IsZero() {
		t.Error("download timestamp not set")
	}
}

func TestFetchFormUsesParserWhenFieldsMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":  "f1",
			"xml": "<h:html><input ref='a'/></h:html>",
		})
	}))
	defer server.Close()

	parser := func(xml string) ([]models.FieldDescriptor, error) {
		return []models.FieldDescriptor{{Name: "a", Type: "text"}}, nil
	}
	client, err := NewClient(Config{Endpoint: server.URL, Parser: parser})
	if err != nil {
		t.Fatal(err)
	}
	form, err := client.FetchForm(context.Background(), "f1")
	if err != nil {
		t.Fatal(err)
	}
	if len(form.Fields) != 1 || form.Fields[0].Name != "a" {
		t.Errorf("parser output not used: %+v", form.Fields)
	}
}
