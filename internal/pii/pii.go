// Package pii flags pages that look like they carry personal data before the
// text is stored.
package pii

import (
	"regexp"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
)

type Kind string

const (
	Email Kind = "email"
	SSN   Kind = "ssn"
	Phone Kind = "phone"
)

var detectors = []struct {
	kind Kind
	re   *regexp.Regexp
}{
	{Email, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{SSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{Phone, regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\d{2,4}[-.\s]?){2,4}\d{2,4}\b`)},
}

// Finding lists the kinds detected on one page.
type Finding struct {
	Page  int    `json:"page"`
	Types []Kind `json:"types"`
}

// Detect returns the kinds present in text, in a fixed order.
func Detect(text string) []Kind {
	var out []Kind
	for _, d := range detectors {
		if d.re.MatchString(text) {
			out = append(out, d.kind)
		}
	}
	return out
}

// Scan returns one finding per page with at least one detection.
func Scan(pages []chunker.Page) []Finding {
	var out []Finding
	for _, p := range pages {
		if kinds := Detect(p.Text); len(kinds) > 0 {
			out = append(out, Finding{Page: p.Number, Types: kinds})
		}
	}
	return out
}
