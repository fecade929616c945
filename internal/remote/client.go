// Package remote wraps the hosted submission API: inserting collected
// records with client-supplied idempotency keys and fetching form
// definitions for offline use.
package remote

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

// InsertResult carries the server-assigned record id for a stored
// submission.
type InsertResult struct {
	RecordID string `json:"recordId"`
}

// Store is the remote collaborator consumed by the sync orchestrator.
// The server must deduplicate on the idempotency key: re-delivery after
// a lost response yields the original record, never a second row.
type Store interface {
	InsertSubmission(ctx context.Context, formID, userID string, payload models.Payload, idempotencyKey string) (InsertResult, error)
}

// Config holds configuration for the API client.
type Config struct {
	Endpoint string
	APIToken string
	DeviceID string

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	// Media, when set, offloads inline binary payload values to object
	// storage before the primary insert.
	Media *MediaStore

	// Parser fills in field descriptors when a fetched form definition
	// does not already carry them.
	Parser models.FieldParser
}

// Client talks to the submission API over HTTP.
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
	media    *MediaStore
	parser   models.FieldParser
}

// NewClient creates an API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote endpoint is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.APIToken,
		deviceID: cfg.DeviceID,
		http:     httpClient,
		media:    cfg.Media,
		parser:   cfg.Parser,
	}, nil
}

// InsertSubmission writes one submission. The idempotency key travels in
// the Idempotency-Key header; a duplicate-key reply (409) is treated as
// the original record, not a failure.
func (c *Client) InsertSubmission(ctx context.Context, formID, userID string, payload models.Payload, idempotencyKey string) (InsertResult, error) {
	if c.media != nil {
		offloaded, err := c.media.Offload(ctx, idempotencyKey, payload)
		if err != nil {
			return InsertResult{}, fmt.Errorf("failed to offload media: %v", err)
		}
		payload = offloaded
	}

	body := map[string]any{
		"formId":  formID,
		"payload": payload,
	}
	if userID != "" {
		body["userId"] = userID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return InsertResult{}, fmt.Errorf("failed to encode submission: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/submissions", bytes.NewReader(data))
	if err != nil {
		return InsertResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return InsertResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		// 409 means the key was already stored; the body still carries
		// the original record id.
		var result InsertResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.RecordID == "" {
			result.RecordID = idempotencyKey
		}
		return result, nil
	default:
		return InsertResult{}, responseError(resp)
	}
}

// FetchForm downloads a self-contained form definition for offline use.
func (c *Client) FetchForm(ctx context.Context, formID string) (*models.FormDefinition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/forms/"+formID, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var form models.FormDefinition
	if err := json.NewDecoder(resp.Body).Decode(&form); err != nil {
		return nil, fmt.Errorf("failed to decode form definition: %v", err)
	}
	if len(form.Fields) == 0 && c.parser != nil {
		fields, err := c.parser(form.XML)
		if err != nil {
			return nil, fmt.Errorf("failed to parse form fields: %v", err)
		}
		form.Fields = fields
	}
	form.DownloadedAt = time.Now().UTC()
	return &form, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
}

func responseError(resp *http.Response) error {
	msg := resp.Status
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && len(data) > 0 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		} else {
			msg = strings.TrimSpace(string(data))
		}
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}
