package vault

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"a",
		"hunter2",
		"fifteen chars!!",  // one short of a block
		"sixteen chars!!!", // exactly one block
		"seventeen chars!!",
		strings.Repeat("x", 32),
		"pässwörd with spaces & symbols ~`'\"",
	}

	for _, in := range inputs {
		encoded := Encode(in)
		got, err := Decode(encoded)
		if err != nil {
			t.Errorf("Decode(Encode(%q)) error = %v", in, err)
			continue
		}
		if got != in {
			t.Errorf("Decode(Encode(%q)) = %q", in, got)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	if Encode("secret") != Encode("secret") {
		t.Error("expected identical output for identical input")
	}
	if Encode("secret") == Encode("Secret") {
		t.Error("expected different output for different input")
	}
}

func TestEncodePadsToBlockSize(t *testing.T) {
	tests := []struct {
		in      string
		wantLen int
	}{
		{in: "", wantLen: 16},
		{in: "abc", wantLen: 16},
		{in: strings.Repeat("a", 16), wantLen: 32},
		{in: strings.Repeat("a", 20), wantLen: 32},
	}

	for _, tt := range tests {
		raw, err := base64.StdEncoding.DecodeString(Encode(tt.in))
		if err != nil {
			t.Fatalf("Encode(%q) is not base64: %v", tt.in, err)
		}
		if len(raw) != tt.wantLen {
			t.Errorf("Encode(%q) ciphertext length = %d, want %d", tt.in, len(raw), tt.wantLen)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	inputs := []string{
		"not base64!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		"",
	}

	for _, in := range inputs {
		if _, err := Decode(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestReveal(t *testing.T) {
	if _, ok := Reveal(""); ok {
		t.Error("expected no secret for empty field")
	}
	if _, ok := Reveal("garbage"); ok {
		t.Error("expected no secret for undecodable field")
	}

	clear, ok := Reveal(Encode("hunter2"))
	if !ok || clear != "hunter2" {
		t.Errorf("Reveal() = %q, %v; want hunter2, true", clear, ok)
	}
}
