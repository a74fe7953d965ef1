// Package ingest turns uploaded documents and web pages into embedded,
// stored chunks: extract pages, gate on personal data, chunk, embed, upsert.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/embedding"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/internal/pii"
	"github.com/mohammad-safakhou/qbank/internal/store"
)

// ErrNoText is returned when a document yields no chunk.
var ErrNoText = errors.New("document has no extractable text")

// ConsentError refuses a document with personal data that was uploaded
// without consent.
type ConsentError struct {
	Source   string
	Findings []pii.Finding
}

func (e *ConsentError) Error() string {
	pages := make([]string, len(e.Findings))
	for i, f := range e.Findings {
		pages[i] = fmt.Sprint(f.Page)
	}
	return fmt.Sprintf("%s contains possible personal data on page(s) %s; consent required", e.Source, strings.Join(pages, ", "))
}

// Sink stores a source with its chunks, replacing an earlier ingestion.
type Sink interface {
	ReplaceSource(ctx context.Context, src store.SourceRecord, chunks []chunker.Chunk, vectors [][]float32) error
}

type Config struct {
	ChunkSize            int
	Overlap              int
	RequireConsentForPII bool
}

// Document is one source ready for ingestion.
type Document struct {
	Name       string
	SourceType chunker.SourceType
	Pages      []chunker.Page
	Consent    bool
}

// Report describes a finished ingestion.
type Report struct {
	Source      string             `json:"source"`
	SourceType  chunker.SourceType `json:"source_type"`
	Pages       int                `json:"pages"`
	Chunks      int                `json:"chunks"`
	PIIFindings []pii.Finding      `json:"pii_findings,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
}

type Ingestor struct {
	cfg      Config
	embedder embedding.Embedder
	sink     Sink
	logger   *logger.Logger
}

func New(cfg Config, e embedding.Embedder, sink Sink, lg *logger.Logger) *Ingestor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = min(chunker.DefaultOverlap, cfg.ChunkSize/5)
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Ingestor{cfg: cfg, embedder: e, sink: sink, logger: lg}
}

// Ingest runs the pipeline for one document. Re-ingesting a source with the
// same name overwrites its chunks by id.
func (in *Ingestor) Ingest(ctx context.Context, doc Document) (Report, error) {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		return Report{}, errors.New("source name required")
	}
	rep := Report{Source: name, SourceType: doc.SourceType, Pages: len(doc.Pages)}

	rep.PIIFindings = pii.Scan(doc.Pages)
	if len(rep.PIIFindings) > 0 {
		if in.cfg.RequireConsentForPII && !doc.Consent {
			return rep, &ConsentError{Source: name, Findings: rep.PIIFindings}
		}
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("possible personal data on %d page(s), ingested with consent", len(rep.PIIFindings)))
	}

	chunks, err := chunker.Split(doc.Pages, name, in.cfg.ChunkSize, in.cfg.Overlap, doc.SourceType)
	if err != nil {
		return rep, err
	}
	if len(chunks) == 0 {
		return rep, ErrNoText
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return rep, fmt.Errorf("embed %s: %w", name, err)
	}
	src := store.SourceRecord{Name: name, SourceType: doc.SourceType, Pages: len(doc.Pages), PIIFindings: rep.PIIFindings}
	if err := in.sink.ReplaceSource(ctx, src, chunks, vectors); err != nil {
		return rep, fmt.Errorf("store %s: %w", name, err)
	}
	rep.Chunks = len(chunks)
	in.logger.Info("source ingested", "source", name, "type", doc.SourceType, "pages", rep.Pages,
		"chunks", rep.Chunks, "pii_pages", len(rep.PIIFindings))
	return rep, nil
}

// IngestFile reads a document from disk and ingests it under name.
func (in *Ingestor) IngestFile(ctx context.Context, path, name string, st chunker.SourceType, consent bool) (Report, error) {
	pages, err := ReadFile(path)
	if err != nil {
		return Report{Source: name, SourceType: st}, err
	}
	return in.Ingest(ctx, Document{Name: name, SourceType: st, Pages: pages, Consent: consent})
}

// IngestURL fetches a page and ingests its article text under the URL.
func (in *Ingestor) IngestURL(ctx context.Context, f Fetcher, raw string, st chunker.SourceType, consent bool) (Report, error) {
	article, err := f.Fetch(ctx, raw)
	if err != nil {
		return Report{Source: raw, SourceType: st}, err
	}
	return in.Ingest(ctx, Document{Name: article.URL, SourceType: st, Pages: article.Pages(), Consent: consent})
}
