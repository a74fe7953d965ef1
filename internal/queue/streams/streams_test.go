package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/qbank/internal/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func sampleJob() GenerationRequested {
	return GenerationRequested{RunID: "run-1", Request: pipeline.Request{
		Course: "Quantum Computing", Topics: "Grover", NumQuestions: 10, MarksEach: 5, DifficultyMix: "Mostly Medium",
	}}
}

func TestGenerationSchema(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	good, _ := json.Marshal(sampleJob())
	if err := reg.Validate(EventGenerationRequested, VersionV1, good); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	cases := map[string]string{
		"missing run id":   `{"request": {"num_questions": 5, "marks_each": 2}}`,
		"zero questions":   `{"run_id": "r", "request": {"num_questions": 0, "marks_each": 2}}`,
		"marks too high":   `{"run_id": "r", "request": {"num_questions": 5, "marks_each": 21}}`,
		"unknown mix":      `{"run_id": "r", "request": {"num_questions": 5, "marks_each": 2, "difficulty_mix": "Brutal"}}`,
		"unexpected field": `{"run_id": "r", "request": {"num_questions": 5, "marks_each": 2}, "extra": 1}`,
		"not json":         `{`,
	}
	for name, body := range cases {
		if err := reg.Validate(EventGenerationRequested, VersionV1, []byte(body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := reg.Validate(EventGenerationRequested, "v2", good); err == nil {
		t.Fatalf("unregistered version must fail")
	}
}

func TestEnvelopeValidateBasic(t *testing.T) {
	env := Envelope{EventID: "e", EventType: EventGenerationRequested, PayloadVersion: VersionV1, Data: json.RawMessage(`{}`)}
	if err := env.ValidateBasic(); err != nil {
		t.Fatalf("ValidateBasic: %v", err)
	}
	if env.OccurredAt.IsZero() {
		t.Fatalf("occurred_at should default")
	}
	env.Data = nil
	if err := env.ValidateBasic(); err == nil {
		t.Fatalf("empty data must fail")
	}
	if _, err := UnmarshalEnvelope([]byte(`{"event_id":"x"}`)); err == nil {
		t.Fatalf("incomplete envelope must fail")
	}
}

func TestDecodeGenerationRejectsOtherEvents(t *testing.T) {
	if _, err := DecodeGeneration(Envelope{EventType: "run.enqueued"}); err == nil {
		t.Fatalf("expected error for foreign event")
	}
}

func TestPublishConsumeRoundTrip(t *testing.T) {
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

	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	const stream, group = "qbank:test", "workers"
	if err := EnsureGroup(ctx, rdb, stream, group); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if err := EnsureGroup(ctx, rdb, stream, group); err != nil {
		t.Fatalf("EnsureGroup must be idempotent: %v", err)
	}

	pub := NewPublisher(rdb, reg, 1000)
	if _, err := pub.EnqueueGeneration(ctx, stream, sampleJob()); err != nil {
		t.Fatalf("EnqueueGeneration: %v", err)
	}
	bad := sampleJob()
	bad.Request.MarksEach = 99
	if _, err := pub.EnqueueGeneration(ctx, stream, bad); err == nil {
		t.Fatalf("invalid payload must not be published")
	}
	// a foreign entry is dropped by the consumer
	if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"junk": "1"}}).Err(); err != nil {
		t.Fatalf("xadd junk: %v", err)
	}

	c := NewConsumer(rdb, reg, group, "w1")
	msgs, err := c.Read(ctx, stream, time.Second, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 valid message, got %d", len(msgs))
	}
	job, err := DecodeGeneration(msgs[0].Envelope)
	if err != nil {
		t.Fatalf("DecodeGeneration: %v", err)
	}
	if job.RunID != "run-1" || job.Request.NumQuestions != 10 {
		t.Fatalf("unexpected job %+v", job)
	}

	// unacked entries can be claimed by another worker
	other := NewConsumer(rdb, reg, group, "w2")
	claimed, err := other.Claim(ctx, stream, 0, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != msgs[0].ID {
		t.Fatalf("expected to claim the pending entry, got %+v", claimed)
	}
	if err := other.Ack(ctx, stream, claimed[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	pending, err := rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected nothing pending, got %d", pending.Count)
	}
}
