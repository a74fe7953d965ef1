package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/qbank/internal/embedding"
	"github.com/mohammad-safakhou/qbank/provider/mock"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestKeyIsStablePerModel(t *testing.T) {
	a := Key("text-embedding-3-small", "Grover")
	if a != Key("text-embedding-3-small", "Grover") {
		t.Fatalf("key not stable")
	}
	if a == Key("text-embedding-004", "Grover") {
		t.Fatalf("key must depend on the model")
	}
	if !strings.HasPrefix(a, keyPrefix+"text-embedding-3-small:") || len(a) != len(keyPrefix)+len("text-embedding-3-small:")+64 {
		t.Fatalf("unexpected key %s", a)
	}
}

type countingEmbedder struct {
	next  embedding.Embedder
	texts int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts += len(texts)
	return c.next.Embed(ctx, texts)
}

func TestEmbeddingsReadThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()
	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = rdb.Close() }()

	inner := &countingEmbedder{next: embedding.New(mock.New(), "hash", 8)}
	c := NewEmbeddings(rdb, inner, "hash", 0, nil)

	first, err := c.Embed(ctx, []string{"amplitude amplification", "quantum oracle"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := c.Embed(ctx, []string{"quantum oracle", "phase kickback", "amplitude amplification"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.texts != 3 {
		t.Fatalf("expected 3 texts to reach the embedder, got %d", inner.texts)
	}
	for i := range first[1] {
		if first[1][i] != second[0][i] || first[0][i] != second[2][i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}
