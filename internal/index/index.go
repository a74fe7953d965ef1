// Package index provides the similarity-search collaborators the retriever
// runs on: a pgvector-backed searcher for the service and an in-memory one
// for offline runs and tests.
package index

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/qbank/internal/embedding"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

// ChunkSearcher finds the chunks closest to a query vector.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, vector []float32, k int) ([]retriever.Hit, error)
}

// Vector embeds the query and delegates the nearest-neighbour search.
type Vector struct {
	embedder embedding.Embedder
	chunks   ChunkSearcher
}

func NewVector(e embedding.Embedder, s ChunkSearcher) *Vector {
	return &Vector{embedder: e, chunks: s}
}

func (v *Vector) Search(ctx context.Context, query string, k int) ([]retriever.Hit, error) {
	vecs, err := v.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return v.chunks.SearchChunks(ctx, vecs[0], k)
}
