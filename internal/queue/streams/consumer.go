package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Consumer reads envelopes from a stream through a consumer group.
type Consumer struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
	group    string
	name     string
}

func NewConsumer(client redis.UniversalClient, registry *SchemaRegistry, group, name string) *Consumer {
	return &Consumer{client: client, registry: registry, group: group, name: name}
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func EnsureGroup(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	if stream == "" || group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Message is a consumed stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Read blocks up to block for at most count new messages. Entries that fail
// to decode or validate are acknowledged and dropped.
func (c *Consumer) Read(ctx context.Context, stream string, block time.Duration, count int64) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
		Block:    block,
		Count:    count,
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	var out []Message
	for _, st := range streams {
		for _, msg := range st.Messages {
			if m, ok := c.decode(ctx, stream, msg); ok {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Claim takes over pending entries idle for longer than minIdle, e.g. from
// a worker that died mid-run.
func (c *Consumer) Claim(ctx context.Context, stream string, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	var out []Message
	for _, msg := range msgs {
		if m, ok := c.decode(ctx, stream, msg); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Ack acknowledges processed entries.
func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (c *Consumer) decode(ctx context.Context, stream string, msg redis.XMessage) (Message, bool) {
	drop := func() (Message, bool) {
		_ = c.client.XAck(ctx, stream, c.group, msg.ID).Err()
		recordStreamEvent(ctx, "dropped", "")
		return Message{}, false
	}
	var raw []byte
	switch v := msg.Values["envelope"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return drop()
	}
	env, err := UnmarshalEnvelope(raw)
	if err != nil {
		return drop()
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return drop()
		}
	}
	recordStreamEvent(ctx, "consumed", env.EventType)
	return Message{ID: msg.ID, Envelope: env}, true
}

// DecodeGeneration extracts a generation.requested payload.
func DecodeGeneration(env Envelope) (GenerationRequested, error) {
	if env.EventType != EventGenerationRequested {
		return GenerationRequested{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	var job GenerationRequested
	if err := json.Unmarshal(env.Data, &job); err != nil {
		return GenerationRequested{}, fmt.Errorf("decode generation payload: %w", err)
	}
	return job, nil
}

var (
	streamMetricsOnce sync.Once
	streamEvents      otelmetric.Int64Counter
)

func recordStreamEvent(ctx context.Context, outcome, eventType string) {
	streamMetricsOnce.Do(func() {
		var err error
		streamEvents, err = otel.Meter("qbank/queue/streams").Int64Counter(
			"qbank_stream_events_total",
			otelmetric.WithDescription("Stream envelopes by outcome"),
		)
		if err != nil {
			streamEvents = nil
		}
	})
	if streamEvents == nil {
		return
	}
	streamEvents.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("event_type", eventType),
	))
}
