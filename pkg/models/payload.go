package models

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Payload maps field names to collected values. Values are JSON-compatible:
// scalars, nested location objects, or inline-encoded binary media.
type Payload map[string]any

// Location builds the structured value stored for GPS capture fields.
func Location(lat, lon, alt, accuracy float64) map[string]any {
	return map[string]any{
		"type":      "location",
		"latitude":  lat,
		"longitude": lon,
		"altitude":  alt,
		"accuracy":  accuracy,
	}
}

// InlineMedia builds the value stored for camera/audio/video capture
// fields: the binary content base64-encoded in place, so a queued
// submission stays self-contained while offline.
func InlineMedia(filename, mimeType, base64Data string) map[string]any {
	return map[string]any{
		"type":     "media",
		"filename": filename,
		"mimeType": mimeType,
		"data":     base64Data,
	}
}

// MediaValue extracts an inline media value, if v is one.
func MediaValue(v any) (filename, mimeType, data string, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return "", "", "", false
	}
	if t, _ := m["type"].(string); t != "media" {
		return "", "", "", false
	}
	filename, _ = m["filename"].(string)
	mimeType, _ = m["mimeType"].(string)
	data, hasData := m["data"].(string)
	return filename, mimeType, data, hasData
}

// Checksum returns the hex BLAKE2b-256 digest of the payload's canonical
// JSON encoding. encoding/json sorts map keys, so the digest is stable
// across round-trips through the store.
func (p Payload) Checksum() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %v", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum reports whether the payload still matches a previously
// recorded digest.
func (p Payload) VerifyChecksum(want string) bool {
	got, err := p.Checksum()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Clone returns a deep copy via a JSON round-trip. Autosave snapshots
// use it so later edits don't mutate a payload queued for commit.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
