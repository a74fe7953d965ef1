package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/embedding"
	"github.com/mohammad-safakhou/qbank/internal/index"
	"github.com/mohammad-safakhou/qbank/internal/store"
	"github.com/mohammad-safakhou/qbank/provider/mock"
)

type recordingSink struct {
	src     store.SourceRecord
	chunks  []chunker.Chunk
	vectors [][]float32
	calls   int
}

func (s *recordingSink) ReplaceSource(_ context.Context, src store.SourceRecord, chunks []chunker.Chunk, vectors [][]float32) error {
	s.calls++
	s.src, s.chunks, s.vectors = src, chunks, vectors
	return nil
}

func newIngestor(sink Sink, requireConsent bool) *Ingestor {
	return New(Config{ChunkSize: 200, Overlap: 40, RequireConsentForPII: requireConsent},
		embedding.New(mock.New(), "hash", 4), sink, nil)
}

func TestIngestChunksEmbedsAndStores(t *testing.T) {
	sink := &recordingSink{}
	pages := []chunker.Page{
		{Number: 1, Text: strings.Repeat("Grover search uses an oracle and amplitude amplification. ", 10)},
		{Number: 2, Text: "   "},
		{Number: 3, Text: "Shor factoring relies on period finding."},
	}
	rep, err := newIngestor(sink, true).Ingest(context.Background(), Document{Name: "quantum.pdf", SourceType: chunker.Material, Pages: pages})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Pages != 3 || rep.Chunks != len(sink.chunks) || rep.Chunks < 3 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(sink.vectors) != len(sink.chunks) || sink.src.Name != "quantum.pdf" {
		t.Fatalf("sink got %d chunks and %d vectors", len(sink.chunks), len(sink.vectors))
	}
	for _, c := range sink.chunks {
		if c.Page == 2 || c.SourceType != chunker.Material {
			t.Fatalf("unexpected chunk %+v", c)
		}
	}
}

func TestIngestRefusesPIIWithoutConsent(t *testing.T) {
	sink := &recordingSink{}
	doc := Document{Name: "roster.pdf", SourceType: chunker.Outcomes, Pages: []chunker.Page{
		{Number: 1, Text: "CO1: describe qubits"},
		{Number: 2, Text: "Contact: student@uni.edu"},
	}}
	rep, err := newIngestor(sink, true).Ingest(context.Background(), doc)
	var ce *ConsentError
	if !errors.As(err, &ce) || ce.Findings[0].Page != 2 {
		t.Fatalf("expected consent error, got %v", err)
	}
	if sink.calls != 0 || len(rep.PIIFindings) != 1 {
		t.Fatalf("nothing may be stored without consent")
	}

	doc.Consent = true
	rep, err = newIngestor(sink, true).Ingest(context.Background(), doc)
	if err != nil {
		t.Fatalf("Ingest with consent: %v", err)
	}
	if sink.calls != 1 || len(rep.Warnings) != 1 || len(sink.src.PIIFindings) != 1 {
		t.Fatalf("expected stored source with a warning, got %+v", rep)
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	_, err := newIngestor(&recordingSink{}, false).Ingest(context.Background(),
		Document{Name: "blank.pdf", SourceType: chunker.Material, Pages: []chunker.Page{{Number: 1, Text: " "}}})
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestIngestFileReadsText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# Unit 1\n\nBloch sphere and qubit states."), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink := &recordingSink{}
	rep, err := newIngestor(sink, false).IngestFile(context.Background(), path, "notes.md", chunker.Material, false)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if rep.Chunks != 1 || sink.chunks[0].ID != "notes.md:p1:c0" {
		t.Fatalf("unexpected chunks %+v", sink.chunks)
	}
}

func TestReingestIntoMemoryOverwrites(t *testing.T) {
	emb := embedding.New(mock.New(), "hash", 0)
	mem, err := index.NewMemory(emb)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	defer mem.Close()
	in := New(Config{ChunkSize: 200, Overlap: 40}, emb, mem, nil)
	doc := Document{Name: "a.txt", SourceType: chunker.Material, Pages: []chunker.Page{
		{Number: 1, Text: "Deutsch Jozsa decides constant or balanced."},
		{Number: 2, Text: "Oracles are unitary."},
	}}
	for i := 0; i < 2; i++ {
		if _, err := in.Ingest(context.Background(), doc); err != nil {
			t.Fatalf("Ingest #%d: %v", i+1, err)
		}
	}
	if mem.Len() != 2 {
		t.Fatalf("expected 2 chunks after re-ingestion, got %d", mem.Len())
	}
	doc.Pages = doc.Pages[:1]
	if _, err := in.Ingest(context.Background(), doc); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if mem.Len() != 1 {
		t.Fatalf("stale chunk kept, got %d chunks", mem.Len())
	}
}

func TestFetcherExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Grover notes</title></head><body>
<nav>Home | About</nav>
<article><h1>Grover search</h1>
<p>Grover's algorithm finds a marked item among N unsorted items using about the square root of N oracle queries.
Each iteration applies the oracle followed by the diffusion operator, which performs amplitude amplification.</p>
<p>After roughly pi over four times the square root of N iterations, measuring yields the marked item with high probability.</p>
<p>Overshooting the optimal number of iterations rotates the state past the marked item, so the success probability
falls again. The quadratic speedup is provably optimal for unstructured search in the query model.</p>
</article></body></html>`))
	}))
	defer srv.Close()

	art, err := Fetcher{MaxChars: 120}.Fetch(context.Background(), srv.URL+"/grover")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(art.Text, "Grover") || len([]rune(art.Text)) > 120 {
		t.Fatalf("unexpected article text %q", art.Text)
	}
	if len(art.Pages()) != 1 || art.Pages()[0].Number != 1 {
		t.Fatalf("article must be a single page")
	}
}

func TestFetcherRejectsBadURLAndStatus(t *testing.T) {
	if _, err := (Fetcher{}).Fetch(context.Background(), "ftp://example.com/x"); err == nil {
		t.Fatalf("expected invalid url error")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()
	if _, err := (Fetcher{}).Fetch(context.Background(), srv.URL); err == nil || !strings.Contains(err.Error(), "410") {
		t.Fatalf("expected status error, got %v", err)
	}
}
