package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/embedding"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
	"github.com/mohammad-safakhou/qbank/internal/store"
)

// Memory holds chunks, their vectors and a bleve full-text index in process.
// Re-adding a chunk id overwrites it.
type Memory struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	bleve    bleve.Index
	chunks   map[string]chunker.Chunk
	vectors  map[string][]float32
	order    []string
}

func NewMemory(e embedding.Embedder) (*Memory, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Memory{
		embedder: e,
		bleve:    idx,
		chunks:   make(map[string]chunker.Chunk),
		vectors:  make(map[string][]float32),
	}, nil
}

type lexicalDoc struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
}

// Add indexes chunks with their vectors.
func (m *Memory) Add(chunks []chunker.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.bleve.NewBatch()
	for i, c := range chunks {
		if _, seen := m.chunks[c.ID]; !seen {
			m.order = append(m.order, c.ID)
		}
		m.chunks[c.ID] = c
		m.vectors[c.ID] = vectors[i]
		if err := batch.Index(c.ID, lexicalDoc{Text: c.Text, Source: c.Source, SourceType: string(c.SourceType)}); err != nil {
			return err
		}
	}
	return m.bleve.Batch(batch)
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Search ranks every chunk by cosine distance to the embedded query.
func (m *Memory) Search(ctx context.Context, query string, k int) ([]retriever.Hit, error) {
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return m.SearchChunks(ctx, vecs[0], k)
}

// SearchChunks returns the k nearest chunks. Ties keep insertion order.
func (m *Memory) SearchChunks(_ context.Context, vector []float32, k int) ([]retriever.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]retriever.Hit, 0, len(m.order))
	for _, id := range m.order {
		hits = append(hits, retriever.Hit{Chunk: m.chunks[id], Distance: 1 - cosine(vector, m.vectors[id])})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Lexical runs a BM25 query string search over chunk text, best first.
func (m *Memory) Lexical(q string, k int) ([]retriever.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), k, 0, false)
	res, err := m.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]retriever.Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		c, ok := m.chunks[h.ID]
		if !ok {
			continue
		}
		// report a distance-like value so callers can sort ascending
		out = append(out, retriever.Hit{Chunk: c, Distance: 1 / (1 + h.Score)})
	}
	return out, nil
}

func (m *Memory) Close() error { return m.bleve.Close() }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ReplaceSource drops every chunk of src that the new set does not contain
// and adds the rest, mirroring the Postgres store.
func (m *Memory) ReplaceSource(_ context.Context, src store.SourceRecord, chunks []chunker.Chunk, vectors [][]float32) error {
	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = true
	}
	m.mu.Lock()
	order := m.order[:0]
	for _, id := range m.order {
		if m.chunks[id].Source == src.Name && !keep[id] {
			delete(m.chunks, id)
			delete(m.vectors, id)
			if err := m.bleve.Delete(id); err != nil {
				m.mu.Unlock()
				return err
			}
			continue
		}
		order = append(order, id)
	}
	m.order = order
	m.mu.Unlock()
	return m.Add(chunks, vectors)
}
