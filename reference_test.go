package gar

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestReferenceGenerator_Format(t *testing.T) {
	g := NewReferenceGenerator()
	ref, err := g.Generate(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.HasPrefix(ref, "GAR-2503-") {
		t.Errorf("ref = %s, want GAR-2503- prefix", ref)
	}
	if !IsValidReference(ref) {
		t.Errorf("ref %s does not match the reference pattern", ref)
	}
}

func TestReferenceGenerator_UniqueAndWellFormed(t *testing.T) {
	g := NewReferenceGenerator()
	now := time.Now()
	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		ref, err := g.Generate(now)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !IsValidReference(ref) {
			t.Fatalf("malformed reference %s", ref)
		}
		if _, dup := seen[ref]; dup {
			t.Fatalf("duplicate reference %s after %d draws", ref, i)
		}
		seen[ref] = struct{}{}
	}
}

func TestReferenceGenerator_RejectsBiasedBytes(t *testing.T) {
	// 252..255 are skipped; 0 and 35 map to '0' and 'Z'
	src := bytes.NewReader([]byte{255, 0, 254, 35, 1, 2, 3, 4, 5, 6, 7, 8})
	g := &RandomReferenceGenerator{source: src}

	ref, err := g.Generate(time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ref != "GAR-2411-0Z1234" {
		t.Errorf("ref = %s, want GAR-2411-0Z1234", ref)
	}
}

func TestReferenceGenerator_SourceError(t *testing.T) {
	g := &RandomReferenceGenerator{source: failingReader{}}
	if _, err := g.Generate(time.Now()); err == nil {
		t.Error("expected error from a failing source")
	}
}

func TestIsValidReference(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"GAR-2503-A1B2C3", true},
		{"GAR-2503-a1b2c3", false},
		{"GAR-253-A1B2C3", false},
		{"GAR-2503-A1B2C", false},
		{"GAX-2503-A1B2C3", false},
		{"GAR-2503-A1B2C3X", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidReference(tt.ref); got != tt.want {
			t.Errorf("IsValidReference(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}
