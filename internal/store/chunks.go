package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/pii"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

// SourceRecord summarises one ingested document.
type SourceRecord struct {
	Name        string             `json:"name"`
	SourceType  chunker.SourceType `json:"source_type"`
	Pages       int                `json:"pages"`
	Chunks      int                `json:"chunks"`
	PIIFindings []pii.Finding      `json:"pii_findings"`
	IngestedAt  time.Time          `json:"ingested_at"`
}

// ReplaceSource writes a source and its chunks in one transaction. Chunks
// are upserted by id, and chunks of an earlier ingestion of the same source
// that the new split no longer produces are removed.
func (s *Store) ReplaceSource(ctx context.Context, src SourceRecord, chunks []chunker.Chunk, vectors [][]float32) (err error) {
	if src.Name == "" {
		return fmt.Errorf("source name required")
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	findings := src.PIIFindings
	if findings == nil {
		findings = []pii.Finding{}
	}
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("marshal pii findings: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO sources (name, source_type, pages, chunks, pii_findings, ingested_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (name) DO UPDATE SET
  source_type = EXCLUDED.source_type,
  pages = EXCLUDED.pages,
  chunks = EXCLUDED.chunks,
  pii_findings = EXCLUDED.pii_findings,
  ingested_at = NOW();
`, src.Name, string(src.SourceType), src.Pages, len(chunks), findingsJSON); err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	if err = upsertChunks(ctx, tx, chunks, vectors); err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE source=$1 AND NOT (chunk_id = ANY($2))`,
		src.Name, pq.Array(ids)); err != nil {
		return fmt.Errorf("prune stale chunks: %w", err)
	}
	return nil
}

func upsertChunks(ctx context.Context, tx *sql.Tx, chunks []chunker.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (chunk_id, source, page, source_type, text, start_offset, end_offset, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,NOW())
ON CONFLICT (chunk_id) DO UPDATE SET
  page = EXCLUDED.page,
  source_type = EXCLUDED.source_type,
  text = EXCLUDED.text,
  start_offset = EXCLUDED.start_offset,
  end_offset = EXCLUDED.end_offset,
  embedding = EXCLUDED.embedding,
  updated_at = NOW();
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, c := range chunks {
		lit, err := encodeVectorLiteral(vectors[i])
		if err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Source, c.Page, string(c.SourceType), c.Text, c.Start, c.End, lit); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	initStoreMetrics()
	if chunksWritten != nil {
		chunksWritten.Add(ctx, int64(len(chunks)))
	}
	return nil
}

// SearchChunks returns the k chunks closest to vector by cosine distance.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, k int) ([]retriever.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	lit, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT chunk_id, source, page, source_type, text, start_offset, end_offset, embedding <=> $1::vector AS distance
FROM chunks
ORDER BY embedding <=> $1::vector
LIMIT $2
`, lit, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []retriever.Hit
	for rows.Next() {
		var (
			h  retriever.Hit
			st string
		)
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.Source, &h.Chunk.Page, &st, &h.Chunk.Text,
			&h.Chunk.Start, &h.Chunk.End, &h.Distance); err != nil {
			return nil, err
		}
		h.Chunk.SourceType = chunker.SourceType(st)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ListSources returns every ingested source, newest first.
func (s *Store) ListSources(ctx context.Context) ([]SourceRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT name, source_type, pages, chunks, pii_findings, ingested_at
FROM sources
ORDER BY ingested_at DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceRecord
	for rows.Next() {
		var (
			rec      SourceRecord
			st       string
			findings []byte
		)
		if err := rows.Scan(&rec.Name, &st, &rec.Pages, &rec.Chunks, &findings, &rec.IngestedAt); err != nil {
			return nil, err
		}
		rec.SourceType = chunker.SourceType(st)
		if len(findings) > 0 {
			if err := json.Unmarshal(findings, &rec.PIIFindings); err != nil {
				return nil, fmt.Errorf("decode pii findings of %s: %w", rec.Name, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSource removes a source and, through the foreign key, its chunks.
func (s *Store) DeleteSource(ctx context.Context, name string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sources WHERE name=$1`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
