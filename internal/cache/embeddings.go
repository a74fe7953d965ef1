// Package cache keeps embedding vectors in Redis so that re-ingesting a
// document or repeating a query does not pay for the same embedding twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/qbank/internal/embedding"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 7 * 24 * time.Hour
	keyPrefix  = "qbank:emb:"
)

// Embeddings wraps an Embedder with a read-through Redis cache. Cache
// failures are logged and fall through to the wrapped embedder.
type Embeddings struct {
	rdb    redis.UniversalClient
	next   embedding.Embedder
	model  string
	ttl    time.Duration
	logger *logger.Logger
}

func NewEmbeddings(rdb redis.UniversalClient, next embedding.Embedder, model string, ttl time.Duration, lg *logger.Logger) *Embeddings {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Embeddings{rdb: rdb, next: next, model: model, ttl: ttl, logger: lg}
}

// Key is the Redis key for text under model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + model + ":" + hex.EncodeToString(sum[:])
}

func (c *Embeddings) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(c.model, t)
	}
	out := make([][]float32, len(texts))
	var missing []int

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
		vals = make([]interface{}, len(texts))
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, i)
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil || len(vec) == 0 {
			missing = append(missing, i)
			continue
		}
		out[i] = vec
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vecs, err := c.next.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(pending) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(pending))
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missing {
		out[i] = vecs[j]
		data, err := json.Marshal(vecs[j])
		if err != nil {
			return nil, err
		}
		pipe.Set(ctx, keys[i], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
	c.logger.Debug("embedding cache", "hits", len(texts)-len(missing), "misses", len(missing))
	return out, nil
}
