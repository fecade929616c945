// Package sheets delivers synced records to the secondary
// spreadsheet-like target. A failure here never reverses the primary
// remote write; the orchestrator records it for later manual retry.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chmdznr/fieldsync/pkg/models"
)

// Target pushes one server-side record to the spreadsheet mirror.
type Target interface {
	PushRecord(ctx context.Context, recordID, formID string, payload models.Payload) error
}

// HTTPTarget forwards records to a hosted spreadsheet service.
type HTTPTarget struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewHTTPTarget creates a target for the given service endpoint.
func NewHTTPTarget(endpoint, token string, client *http.Client) *HTTPTarget {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTarget{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     client,
	}
}

// PushRecord implements Target.
func (t *HTTPTarget) PushRecord(ctx context.Context, recordID, formID string, payload models.Payload) error {
	body, err := json.Marshal(map[string]any{
		"recordId": recordID,
		"formId":   formID,
		"payload":  payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode record: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/v1/rows", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := resp.Status
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && len(data) > 0 {
			msg = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("sheet service rejected record %s: %s", recordID, msg)
	}
	return nil
}
