package gar

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"time"
)

const (
	referencePrefix    = "GAR"
	referenceAlphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	referenceSuffixLen = 6
	// largest multiple of 36 that fits in a byte; bytes above are rejected
	// to keep every symbol equally likely
	referenceByteLimit = 252
)

var referencePattern = regexp.MustCompile(`^GAR-\d{4}-[A-Z0-9]{6}$`)

// ReferenceGenerator produces candidate references. Uniqueness is checked by
// the store; Engine.Create retries on collision.
type ReferenceGenerator interface {
	Generate(now time.Time) (string, error)
}

// RandomReferenceGenerator draws the suffix from a cryptographic source.
type RandomReferenceGenerator struct {
	source io.Reader
}

// NewReferenceGenerator creates a generator backed by crypto/rand.
func NewReferenceGenerator() *RandomReferenceGenerator {
	return &RandomReferenceGenerator{source: rand.Reader}
}

// Generate returns GAR-<YY><MM>-<6 base36 chars> for the month of now.
func (g *RandomReferenceGenerator) Generate(now time.Time) (string, error) {
	suffix := make([]byte, 0, referenceSuffixLen)
	buf := make([]byte, referenceSuffixLen*2)
	for len(suffix) < referenceSuffixLen {
		if _, err := io.ReadFull(g.source, buf); err != nil {
			return "", fmt.Errorf("read random source: %w", err)
		}
		for _, b := range buf {
			if b >= referenceByteLimit {
				continue
			}
			suffix = append(suffix, referenceAlphabet[int(b)%len(referenceAlphabet)])
			if len(suffix) == referenceSuffixLen {
				break
			}
		}
	}
	return fmt.Sprintf("%s-%02d%02d-%s", referencePrefix, now.Year()%100, int(now.Month()), suffix), nil
}

// IsValidReference reports whether ref has the GAR-YYMM-XXXXXX shape.
func IsValidReference(ref string) bool {
	return referencePattern.MatchString(ref)
}
