// Package chunker turns extracted page text into overlapping, provenance-tagged
// windows that can be embedded and retrieved independently.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// SourceType labels what an uploaded document is used for.
type SourceType string

const (
	Material    SourceType = "material"
	Outcomes    SourceType = "outcomes"
	SamplePaper SourceType = "sample_paper"
)

// ParseSourceType maps a user supplied label onto a SourceType. Empty input yields Material.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case "", Material:
		return Material, nil
	case Outcomes:
		return Outcomes, nil
	case SamplePaper:
		return SamplePaper, nil
	default:
		return "", fmt.Errorf("unknown source type %q", s)
	}
}

// Page is the raw text of one page, numbered from 1.
type Page struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
}

// Chunk is an immutable span of normalised page text.
// Start and End are rune offsets into the normalised text of Page.
type Chunk struct {
	ID         string     `json:"chunk_id"`
	Text       string     `json:"text"`
	Source     string     `json:"source"`
	Page       int        `json:"page"`
	SourceType SourceType `json:"source_type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
}

// ID formats the deterministic chunk id for (source, page, ordinal).
func ID(source string, page, ordinal int) string {
	return fmt.Sprintf("%s:p%d:c%d", source, page, ordinal)
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans extracted text: NBSP becomes a space, runs of spaces and
// tabs collapse, blank-line runs are capped at two newlines and the result is trimmed.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = norm.NFC.String(s)
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Split normalises every page, skips empty ones and cuts the rest into chunks of
// at most size runes, repeating up to overlap runes of trailing context in the
// following chunk. Ordinals run across the whole document starting at 1.
func Split(pages []Page, source string, size, overlap int, sourceType SourceType) ([]Chunk, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("source is required")
	}
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", size, overlap)
	}
	if sourceType == "" {
		sourceType = Material
	}

	var out []Chunk
	ordinal := 0
	for _, p := range pages {
		text := Normalize(p.Text)
		if text == "" {
			continue
		}
		runes := []rune(text)
		for _, sp := range windows(runes, size, overlap) {
			ordinal++
			out = append(out, Chunk{
				ID:         ID(source, p.Number, ordinal),
				Text:       string(runes[sp.start:sp.end]),
				Source:     source,
				Page:       p.Number,
				SourceType: sourceType,
				Start:      sp.start,
				End:        sp.end,
			})
		}
	}
	return out, nil
}

type span struct{ start, end int }

// windows walks the text greedily. Each window ends on the strongest boundary
// available (paragraph, line, sentence, word) and otherwise on a hard cut.
func windows(r []rune, size, overlap int) []span {
	var out []span
	n := len(r)
	start := 0
	for start < n {
		limit := start + size
		if limit >= n {
			out = append(out, span{start, n})
			break
		}
		end := breakPoint(r, start, limit, overlap)
		out = append(out, span{start, end})
		start = nextStart(r, start, end, overlap)
	}
	return out
}

// breakPoint returns an exclusive end in (start, limit]. The window must carry
// more than overlap runes so every step makes progress.
func breakPoint(r []rune, start, limit, overlap int) int {
	size := limit - start
	lower := start + overlap + 1
	if q := start + size/4; q > lower {
		lower = q
	}
	if lower >= limit {
		return limit
	}
	if b := lastMatch(r, lower, limit, isParagraphEnd); b > 0 {
		return b
	}
	if b := lastMatch(r, lower, limit, isLineEnd); b > 0 {
		return b
	}
	if b := lastMatch(r, lower, limit, isSentenceEnd); b > 0 {
		return b
	}
	if b := lastMatch(r, lower, limit, isWordEnd); b > 0 {
		return b
	}
	return limit
}

// lastMatch scans backwards for the largest cut position p in [lower, limit]
// where match(r, p) holds.
func lastMatch(r []rune, lower, limit int, match func([]rune, int) bool) int {
	for p := limit; p >= lower; p-- {
		if match(r, p) {
			return p
		}
	}
	return 0
}

func isParagraphEnd(r []rune, p int) bool {
	return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n'
}

func isLineEnd(r []rune, p int) bool {
	return p >= 1 && r[p-1] == '\n'
}

func isSentenceEnd(r []rune, p int) bool {
	if p < 2 || r[p-1] != ' ' {
		return false
	}
	switch r[p-2] {
	case '.', '!', '?', ';':
		return true
	}
	return false
}

func isWordEnd(r []rune, p int) bool {
	return p >= 1 && unicode.IsSpace(r[p-1])
}

// nextStart backs up overlap runes from end and then moves forward to the next
// word start so the repeated context does not begin mid-word.
func nextStart(r []rune, start, end, overlap int) int {
	if overlap == 0 {
		return end
	}
	next := end - overlap
	if next <= start {
		next = start + 1
	}
	for p := next; p < end; p++ {
		if isWordEnd(r, p) && !unicode.IsSpace(r[p]) {
			return p
		}
	}
	return next
}
