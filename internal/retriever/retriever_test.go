package retriever

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
)

type stubSearcher struct {
	hits  []Hit
	err   error
	asked []int
}

func (s *stubSearcher) Search(_ context.Context, _ string, k int) ([]Hit, error) {
	s.asked = append(s.asked, k)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func hit(id, text string, st chunker.SourceType, dist float64) Hit {
	return Hit{Chunk: chunker.Chunk{ID: id, Text: text, Source: "qc.pdf", Page: 1, SourceType: st}, Distance: dist}
}

func TestKeywordsUsesAnchorTable(t *testing.T) {
	got := Keywords("Explain   GROVER's algorithm", DefaultAnchors())
	want := []string{"grover", "search", "oracle", "amplitude", "iterations"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
}

func TestKeywordsAnchorMatchesSubstring(t *testing.T) {
	got := Keywords("shortest path problems", DefaultAnchors())
	if len(got) == 0 || got[0] != "shor" {
		t.Fatalf("expected shor anchor for substring match, got %v", got)
	}
}

func TestKeywordsFallbackKeepsFirstOccurrenceOrder(t *testing.T) {
	got := Keywords("What is the quantum Fourier transform used for, quantum?", DefaultAnchors())
	want := []string{"what", "quantum", "fourier", "transform", "used"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
}

func TestKeywordsFallbackCapsAtEight(t *testing.T) {
	got := Keywords("alpha beta gamma delta epsilon zeta theta kappa lambda sigma", DefaultAnchors())
	want := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "theta", "kappa"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
}

func TestKeywordScoreNormalisesWhitespace(t *testing.T) {
	kws := []string{"bloch", "state vector", "qubit"}
	if got := KeywordScore("The Bloch sphere maps a STATE\n  vector", kws); got != 2 {
		t.Fatalf("KeywordScore() = %d, want 2", got)
	}
}

func TestNewAnchorTableMergesExtras(t *testing.T) {
	table := NewAnchorTable(map[string][]string{
		"Grover":  {"Grover", "diffusion"},
		"fourier": {"fourier", "transform", "frequency"},
	})
	kws, ok := table.Lookup("grover search")
	if !ok || !reflect.DeepEqual(kws, []string{"grover", "diffusion"}) {
		t.Fatalf("expected grover override, got %v", kws)
	}
	kws, ok = table.Lookup("discrete fourier analysis")
	if !ok || kws[0] != "fourier" {
		t.Fatalf("expected appended fourier anchor, got %v", kws)
	}
	if table[len(table)-1].Term != "fourier" {
		t.Fatalf("expected new anchors after defaults")
	}
}

func TestPoolSize(t *testing.T) {
	for k, want := range map[int]int{1: 25, 4: 25, 5: 30, 8: 48, 120: 720} {
		if got := PoolSize(k); got != want {
			t.Fatalf("PoolSize(%d) = %d, want %d", k, got, want)
		}
	}
}

func TestRetrieveGatesOnKeywordHits(t *testing.T) {
	s := &stubSearcher{hits: []Hit{
		hit("a", "Unrelated linear algebra recap", chunker.Material, 0.05),
		hit("b", "Grover search uses an oracle", chunker.Material, 0.40),
		hit("c", "Grover search oracle amplitude amplification iterations", chunker.Material, 0.90),
		hit("d", "The oracle marks the answer", chunker.Material, 0.20),
	}}
	r := New(s)
	got, err := r.Retrieve(context.Background(), "Grover's algorithm", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if s.asked[0] != 25 {
		t.Fatalf("expected oversampled pool of 25, asked %d", s.asked[0])
	}
	ids := make([]string, 0, len(got))
	for _, c := range got {
		if c.KeywordScore == 0 {
			t.Fatalf("candidate %s has keyword score 0", c.ChunkID)
		}
		ids = append(ids, c.ChunkID)
	}
	if !reflect.DeepEqual(ids, []string{"c", "b", "d"}) {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestRetrieveGenericQueryFallsBackToDistance(t *testing.T) {
	s := &stubSearcher{hits: []Hit{
		hit("far", "alpha", chunker.Material, 0.9),
		hit("near", "beta", chunker.Material, 0.1),
		hit("mid", "gamma", chunker.Material, 0.5),
	}}
	got, err := New(s).Retrieve(context.Background(), "unit", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 3 || got[0].ChunkID != "near" || got[1].ChunkID != "mid" || got[2].ChunkID != "far" {
		t.Fatalf("expected distance order, got %+v", got)
	}
}

func TestRetrieveFiltersSourceTypes(t *testing.T) {
	s := &stubSearcher{hits: []Hit{
		hit("m", "syllabus module one", chunker.Material, 0.3),
		hit("s", "syllabus module one", chunker.SamplePaper, 0.1),
		hit("o", "syllabus module one", chunker.Outcomes, 0.2),
		hit("legacy", "syllabus module one", "", 0.4),
	}}
	got, err := New(s).Retrieve(context.Background(), "Syllabus", 10, chunker.Material, chunker.Outcomes)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ChunkID)
	}
	if !reflect.DeepEqual(ids, []string{"o", "m", "legacy"}) {
		t.Fatalf("unexpected ids %v", ids)
	}
	if got[2].SourceType != chunker.Material {
		t.Fatalf("missing source type should default to material")
	}
}

func TestRetrieveCapsAtKAndKeepsSortOrder(t *testing.T) {
	var hits []Hit
	texts := []string{"oracle", "grover oracle", "amplitude", "grover search oracle", "iterations search"}
	for i := 0; i < 30; i++ {
		hits = append(hits, hit(string(rune('a'+i%26))+string(rune('0'+i/26)), texts[i%len(texts)], chunker.Material, float64(30-i)/30))
	}
	s := &stubSearcher{hits: hits}
	got, err := New(s).Retrieve(context.Background(), "grover", 7)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("expected 7 candidates, got %d", len(got))
	}
	if s.asked[0] != 42 {
		t.Fatalf("expected pool of 42, asked %d", s.asked[0])
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.KeywordScore < cur.KeywordScore ||
			(prev.KeywordScore == cur.KeywordScore && prev.Distance > cur.Distance) {
			t.Fatalf("candidates out of order at %d: %+v then %+v", i, prev, cur)
		}
	}
}

func TestRetrieveEmptyIsNotAnError(t *testing.T) {
	s := &stubSearcher{hits: []Hit{hit("x", "nothing relevant", chunker.Material, 0.1)}}
	got, err := New(s).Retrieve(context.Background(), "grover", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
	if got, _ := New(s).Retrieve(context.Background(), "grover", 0); got != nil {
		t.Fatalf("k=0 should return nil")
	}
}

func TestRetrievePropagatesSearchError(t *testing.T) {
	s := &stubSearcher{err: errors.New("index offline")}
	if _, err := New(s).Retrieve(context.Background(), "grover", 5); err == nil {
		t.Fatalf("expected error")
	}
}
