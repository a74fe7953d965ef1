package retriever

import (
	"regexp"
	"sort"
	"strings"
)

// Anchor maps a domain term found in a query onto the keywords that a relevant
// chunk is expected to mention.
type Anchor struct {
	Term     string
	Keywords []string
}

// AnchorTable is consulted in order; the first anchor whose term occurs in the
// normalised query wins.
type AnchorTable []Anchor

// DefaultAnchors returns the built-in quantum computing anchors.
func DefaultAnchors() AnchorTable {
	return AnchorTable{
		{Term: "grover", Keywords: []string{"grover", "search", "oracle", "amplitude", "iterations"}},
		{Term: "shor", Keywords: []string{"shor", "factoring", "period", "modular", "fourier"}},
		{Term: "deutsch", Keywords: []string{"deutsch", "jozsa", "oracle", "balanced", "constant"}},
		{Term: "bloch", Keywords: []string{"bloch", "sphere", "qubit", "state vector", "angles"}},
	}
}

// NewAnchorTable merges extra anchors over the defaults. An extra entry with a
// built-in term replaces its keywords; new terms are appended in sorted order.
func NewAnchorTable(extra map[string][]string) AnchorTable {
	table := DefaultAnchors()
	added := make(map[string][]string)
	for term, kws := range extra {
		term = normalize(term)
		if term == "" || len(kws) == 0 {
			continue
		}
		clean := make([]string, 0, len(kws))
		for _, kw := range kws {
			if kw = normalize(kw); kw != "" {
				clean = append(clean, kw)
			}
		}
		replaced := false
		for i := range table {
			if table[i].Term == term {
				table[i].Keywords = clean
				replaced = true
				break
			}
		}
		if !replaced {
			added[term] = clean
		}
	}
	terms := make([]string, 0, len(added))
	for term := range added {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		table = append(table, Anchor{Term: term, Keywords: added[term]})
	}
	return table
}

// Lookup returns the keywords of the first anchor contained in the normalised query.
func (t AnchorTable) Lookup(normQuery string) ([]string, bool) {
	for _, a := range t {
		if strings.Contains(normQuery, a.Term) {
			return append([]string(nil), a.Keywords...), true
		}
	}
	return nil, false
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]{4,}`)

const maxFallbackKeywords = 8

// Keywords derives the keyword set for a query: anchor keywords when an anchor
// term matches, otherwise the first eight distinct words of four or more letters.
func Keywords(query string, anchors AnchorTable) []string {
	q := normalize(query)
	if kws, ok := anchors.Lookup(q); ok {
		return kws
	}
	seen := make(map[string]struct{})
	var out []string
	for _, w := range wordPattern.FindAllString(q, -1) {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == maxFallbackKeywords {
			break
		}
	}
	return out
}

// KeywordScore counts keywords that occur as substrings of the normalised text.
func KeywordScore(text string, keywords []string) int {
	t := normalize(text)
	score := 0
	for _, kw := range keywords {
		if strings.Contains(t, kw) {
			score++
		}
	}
	return score
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
