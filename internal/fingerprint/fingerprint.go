// Package fingerprint computes the content-derived dedupe key for a finding.
// The key must be stable across runs, processes and submissions: two findings
// with the same normalized vulnerability and first-option text always hash to
// the same key, and the store enforces uniqueness on it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/vigilops/bastion/internal/model"
)

// Normalize lowercases, strips punctuation and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimSpace(b.String())
}

// Key returns the dedupe key for a vulnerability and its first option text.
func Key(vulnerability, firstOption string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(vulnerability)))
	h.Write([]byte{'\n'})
	h.Write([]byte(Normalize(firstOption)))
	return hex.EncodeToString(h.Sum(nil))
}

// ForRecord computes the dedupe key for a finding record.
func ForRecord(rec model.FindingRecord) string {
	return Key(rec.Vulnerability, rec.Options.First())
}
