// Package mock is an in-process provider for tests and offline runs. Replies
// are scripted per schema name; embeddings are hashed bags of words so that
// texts sharing vocabulary land close together.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/mohammad-safakhou/qbank/provider"
)

const DefaultDimensions = 64

type Provider struct {
	mu         sync.Mutex
	replies    map[string][][]byte
	errs       map[string][]error
	Calls      []provider.Request
	Dimensions int
}

func New() *Provider {
	return &Provider{
		replies:    make(map[string][][]byte),
		errs:       make(map[string][]error),
		Dimensions: DefaultDimensions,
	}
}

// Reply queues a raw response for requests using the named schema.
// Use "" for unstructured requests.
func (p *Provider) Reply(schema string, raw string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[schema] = append(p.replies[schema], []byte(raw))
	return p
}

// Fail queues an error for the named schema; it is consumed before replies.
func (p *Provider) Fail(schema string, err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[schema] = append(p.errs[schema], err)
	return p
}

func (p *Provider) Name() string { return string(provider.Mock) }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return provider.Response{}, err
	}
	key := ""
	if req.Schema != nil {
		key = req.Schema.Name
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if q := p.errs[key]; len(q) > 0 {
		p.errs[key] = q[1:]
		return provider.Response{}, q[0]
	}
	q := p.replies[key]
	if len(q) == 0 {
		return provider.Response{}, fmt.Errorf("mock: no reply scripted for schema %q", key)
	}
	// the last reply sticks so long loops keep getting an answer
	if len(q) > 1 {
		p.replies[key] = q[1:]
	}
	return provider.Response{Content: q[0], Model: req.Model}, nil
}

func (p *Provider) Embed(ctx context.Context, _ string, input []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dims := p.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	out := make([][]float32, len(input))
	for i, text := range input {
		out[i] = HashEmbedding(text, dims)
	}
	return out, nil
}

// HashEmbedding returns an L2-normalised hashed term-frequency vector.
func HashEmbedding(text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32()%uint32(dims))]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
