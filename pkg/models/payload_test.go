package models

import "testing"

func TestChecksumStableAcrossRoundTrip(t *testing.T) {
	p := Payload{
		"site_name": "Well A",
		"flow_rate": 2.5,
		"gps":       Location(-6.2, 106.8, 12, 5),
	}
	sum1, err := p.Checksum()
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	clone := p.Clone()
	sum2, err := clone.Checksum()
	if err != nil {
		t.Fatalf("Checksum(clone): %v", err)
	}
	if sum1 != sum2 {
		t.Errorf("checksum changed across clone: %s vs %s", sum1, sum2)
	}
	if !p.VerifyChecksum(sum1) {
		t.Error("VerifyChecksum rejected its own digest")
	}
}

func TestVerifyChecksumDetectsMutation(t *testing.T) {
	p := Payload{"site_name": "Well A"}
	sum, err := p.Checksum()
	if err != nil {
		t.Fatal(err)
	}
	p["site_name"] = "Well B"
	if p.VerifyChecksum(sum) {
		t.Error("mutated payload passed verification")
	}
	if p.VerifyChecksum("") {
		t.Error("empty digest passed verification")
	}
}

func TestCloneIsolation(t *testing.T) {
	p := Payload{"notes": "original", "gps": Location(1, 2, 3, 4)}
	clone := p.Clone()
	p["notes"] = "edited"
	p["gps"].(map[string]any)["latitude"] = 9.0

	if clone["notes"] != "original" {
		t.Errorf("clone notes = %v; want original", clone["notes"])
	}
	if lat := clone["gps"].(map[string]any)["latitude"]; lat != 1.0 {
		t.Errorf("clone latitude = %v; want 1", lat)
	}
}

func TestCloneNil(t *testing.T) {
	var p Payload
	if clone := p.Clone(); clone != nil {
		t.Errorf("Clone of nil = %v; want nil", clone)
	}
}

func TestMediaValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		ok   bool
	}{
		{"inline media", InlineMedia("photo.jpg", "image/jpeg", "aGVsbG8="), true},
		{"location", Location(1, 2, 3, 4), false},
		{"scalar", "just text", false},
		{"media without data", map[string]any{"type": "media", "filename": "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filename, mimeType, data, ok := MediaValue(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v; want %v", ok, tt.ok)
			}
			if ok {
				if filename != "photo.jpg" || mimeType != "image/jpeg" || data != "aGVsbG8=" {
					t.Errorf("got %q %q %q", filename, mimeType, data)
				}
			}
		})
	}
}
