// Package retriever re-ranks similarity-search results with domain keyword
// gating so that only chunks anchored on the query reach the generator.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const (
	minPool      = 25
	poolFactor   = 6
	gateMinTerms = 3
)

// Hit is one similarity-search result. Smaller Distance means closer.
type Hit struct {
	Chunk    chunker.Chunk
	Distance float64
}

// Searcher is the similarity-search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Candidate is a re-ranked chunk returned to callers. Subtopic and Importance
// are filled in during context assembly.
type Candidate struct {
	ChunkID      string             `json:"chunk_id"`
	Text         string             `json:"text"`
	Source       string             `json:"source"`
	Page         int                `json:"page"`
	SourceType   chunker.SourceType `json:"source_type"`
	Distance     float64            `json:"distance"`
	KeywordScore int                `json:"kw_score"`
	Subtopic     string             `json:"subtopic,omitempty"`
	Importance   int                `json:"importance,omitempty"`
}

// Retriever wraps a Searcher with keyword scoring, gating and sorting.
type Retriever struct {
	searcher Searcher
	anchors  AnchorTable
	logger   *logger.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithAnchors replaces the anchor table.
func WithAnchors(t AnchorTable) Option {
	return func(r *Retriever) {
		if len(t) > 0 {
			r.anchors = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l.Named("retriever")
		}
	}
}

// New builds a Retriever over the given searcher.
func New(s Searcher, opts ...Option) *Retriever {
	r := &Retriever{searcher: s, anchors: DefaultAnchors(), logger: logger.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PoolSize is the number of neighbours fetched for a final k.
func PoolSize(k int) int {
	if n := k * poolFactor; n > minPool {
		return n
	}
	return minPool
}

// Retrieve returns at most k candidates for query, sorted by keyword score
// descending then distance ascending. When allowed is non-empty only those
// source types survive. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, allowed ...chunker.SourceType) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	hits, err := r.searcher.Search(ctx, query, PoolSize(k))
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	keywords := Keywords(query, r.anchors)
	out := Rank(hits, keywords, k, allowed)

	initRetrievalMetrics()
	if retrievalReturned != nil {
		retrievalReturned.Record(ctx, int64(len(out)), otelmetric.WithAttributes(attribute.Bool("gated", len(keywords) >= gateMinTerms)))
	}
	r.logger.Debug("retrieved", "query", query, "k", k, "pool", len(hits), "keywords", keywords, "returned", len(out))
	return out, nil
}

// Rank applies type filtering, the keyword gate and the (score, distance) sort
// to a raw pool of hits and caps the result at k.
func Rank(hits []Hit, keywords []string, k int, allowed []chunker.SourceType) []Candidate {
	allow := make(map[chunker.SourceType]struct{}, len(allowed))
	for _, t := range allowed {
		allow[t] = struct{}{}
	}
	gate := len(keywords) >= gateMinTerms

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		st := h.Chunk.SourceType
		if st == "" {
			st = chunker.Material
		}
		if len(allow) > 0 {
			if _, ok := allow[st]; !ok {
				continue
			}
		}
		score := KeywordScore(h.Chunk.Text, keywords)
		if gate && score == 0 {
			continue
		}
		out = append(out, Candidate{
			ChunkID:      h.Chunk.ID,
			Text:         h.Chunk.Text,
			Source:       h.Chunk.Source,
			Page:         h.Chunk.Page,
			SourceType:   st,
			Distance:     h.Distance,
			KeywordScore: score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].KeywordScore != out[j].KeywordScore {
			return out[i].KeywordScore > out[j].KeywordScore
		}
		return out[i].Distance < out[j].Distance
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

var (
	retrievalMetricsOnce sync.Once
	retrievalReturned    otelmetric.Int64Histogram
)

func initRetrievalMetrics() {
	retrievalMetricsOnce.Do(func() {
		meter := otel.Meter("qbank/retriever")
		var err error
		retrievalReturned, err = meter.Int64Histogram(
			"qbank_retrieval_candidates",
			otelmetric.WithDescription("Candidates returned per retrieval after gating"),
		)
		if err != nil {
			retrievalReturned = nil
		}
	})
}
