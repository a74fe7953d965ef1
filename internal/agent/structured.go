// Package agent holds the LLM-backed roles of the pipeline: the planner that
// splits a topic into weighted subtopics, the subject classifier, the
// question generator and the auditor. Every role talks to its model through
// Structured, so every reply is schema-validated before anyone sees it.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const DefaultCallTimeout = 90 * time.Second

// Role configures one structured caller.
type Role struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Structured invokes a provider with a JSON schema and decodes the reply.
type Structured struct {
	provider provider.Provider
	role     Role
	logger   *logger.Logger
	tracer   trace.Tracer
}

func NewStructured(p provider.Provider, role Role, lg *logger.Logger) *Structured {
	if lg == nil {
		lg = logger.NewNop()
	}
	if role.Timeout <= 0 {
		role.Timeout = DefaultCallTimeout
	}
	return &Structured{
		provider: p,
		role:     role,
		logger:   lg,
		tracer:   otel.Tracer("qbank/agent"),
	}
}

// Invoke sends system and prompt under the schema for kind and decodes the
// validated reply into out. Malformed replies surface as
// *bank.SchemaValidationError and are never repaired here.
func (s *Structured) Invoke(ctx context.Context, kind bank.Kind, system, prompt string, out interface{}) error {
	schema, err := bank.SchemaJSON(kind)
	if err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("schema", string(kind)),
		attribute.String("provider", s.provider.Name()),
		attribute.String("model", s.role.Model),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.role.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.provider.Generate(callCtx, provider.Request{
		Model:       s.role.Model,
		System:      system,
		Prompt:      prompt,
		Schema:      &provider.Schema{Name: string(kind), JSON: schema},
		Temperature: s.role.Temperature,
		MaxTokens:   s.role.MaxTokens,
	})
	initAgentMetrics()
	attrs := otelmetric.WithAttributes(attribute.String("schema", string(kind)))
	if agentLatency != nil {
		agentLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s call: %w", kind, err)
	}
	if agentTokens != nil {
		agentTokens.Add(ctx, resp.InputTokens+resp.OutputTokens, attrs)
	}
	if len(resp.Content) == 0 {
		return fmt.Errorf("%s call: %w", kind, provider.ErrEmptyResponse)
	}
	if err := bank.Decode(kind, resp.Content, out); err != nil {
		span.RecordError(err)
		s.logger.Warn("structured output rejected", "schema", kind, "model", resp.Model, "error", err)
		return err
	}
	return nil
}

var (
	agentMetricsOnce sync.Once
	agentLatency     otelmetric.Float64Histogram
	agentTokens      otelmetric.Int64Counter
)

func initAgentMetrics() {
	agentMetricsOnce.Do(func() {
		meter := otel.Meter("qbank/agent")
		var err error
		agentLatency, err = meter.Float64Histogram("qbank_llm_call_seconds",
			otelmetric.WithDescription("Structured LLM call latency"),
			otelmetric.WithUnit("s"))
		if err != nil {
			agentLatency = nil
		}
		agentTokens, err = meter.Int64Counter("qbank_llm_tokens_total",
			otelmetric.WithDescription("Tokens consumed by structured LLM calls"))
		if err != nil {
			agentTokens = nil
		}
	})
}
