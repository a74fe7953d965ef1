// Package embedding turns text into vectors through a provider, in batches.
package embedding

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/qbank/provider"
)

const DefaultBatchSize = 64

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderEmbedder sends texts to a provider at most BatchSize at a time.
type ProviderEmbedder struct {
	provider  provider.Provider
	model     string
	batchSize int
}

func New(p provider.Provider, model string, batchSize int) *ProviderEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ProviderEmbedder{provider: p, model: model, batchSize: batchSize}
}

// Model names the embedding model, which callers use to key caches.
func (e *ProviderEmbedder) Model() string { return e.model }

func (e *ProviderEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.provider.Embed(ctx, e.model, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
