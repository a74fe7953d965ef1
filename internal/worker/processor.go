package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/internal/queue/streams"
	"github.com/mohammad-safakhou/qbank/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Source is the stream side of the processor.
type Source interface {
	Read(ctx context.Context, stream string, block time.Duration, count int64) ([]streams.Message, error)
	Claim(ctx context.Context, stream string, minIdle time.Duration, count int64) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

type Options struct {
	Stream  string
	Block   time.Duration
	Count   int64
	MinIdle time.Duration
}

// Processor consumes generation.requested events and runs them.
type Processor struct {
	source Source
	store  RunStore
	gen    Generator
	opts   Options
	logger *logger.Logger
	tracer trace.Tracer
}

func NewProcessor(src Source, st RunStore, gen Generator, opts Options, lg *logger.Logger) *Processor {
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = 15 * time.Minute
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Processor{source: src, store: st, gen: gen, opts: opts, logger: lg, tracer: otel.Tracer("qbank/worker")}
}

// Start blocks, processing events until ctx is cancelled. Entries left
// pending by a dead worker are claimed first.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("worker starting", "stream", p.opts.Stream)
	if stale, err := p.source.Claim(ctx, p.opts.Stream, p.opts.MinIdle, 16); err != nil {
		p.logger.Warn("claim pending failed", "error", err)
	} else {
		p.handleAll(ctx, stale)
	}
	for {
		if ctx.Err() != nil {
			p.logger.Info("worker stopping", "reason", ctx.Err())
			return nil
		}
		msgs, err := p.source.Read(ctx, p.opts.Stream, p.opts.Block, p.opts.Count)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("read stream failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		p.handleAll(ctx, msgs)
	}
}

func (p *Processor) handleAll(ctx context.Context, msgs []streams.Message) {
	for _, msg := range msgs {
		if err := p.Handle(ctx, msg); err != nil {
			p.logger.Error("generation failed", "message", msg.ID, "error", err)
		}
		if ctx.Err() != nil {
			// leave it pending so another worker can claim it
			return
		}
		if err := p.source.Ack(ctx, p.opts.Stream, msg.ID); err != nil {
			p.logger.Warn("ack failed", "message", msg.ID, "error", err)
		}
	}
}

// Handle runs one message. Runs already in a terminal state are skipped so
// redelivered events do not regenerate.
func (p *Processor) Handle(ctx context.Context, msg streams.Message) error {
	ctx, span := p.tracer.Start(ctx, "worker.handle_generation")
	defer span.End()

	job, err := streams.DecodeGeneration(msg.Envelope)
	if err != nil {
		recordJob(ctx, "invalid")
		return err
	}
	span.SetAttributes(attribute.String("run_id", job.RunID))

	run, err := p.store.GetRun(ctx, job.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			recordJob(ctx, "unknown_run")
			p.logger.Warn("run not found; dropping event", "run_id", job.RunID)
			return nil
		}
		return fmt.Errorf("load run %s: %w", job.RunID, err)
	}
	if Terminal(run.Status) {
		recordJob(ctx, "duplicate")
		p.logger.Info("run already finished; skipping", "run_id", job.RunID, "status", run.Status)
		return nil
	}

	start := time.Now()
	res, err := Execute(ctx, p.store, p.gen, job.RunID, job.Request)
	status := StatusFor(res, err)
	recordJob(ctx, status)
	p.logger.Info("run finished", "run_id", job.RunID, "status", status,
		"iterations", res.Loop.Iterations, "elapsed", time.Since(start).String())
	return err
}

var (
	workerMetricsOnce sync.Once
	workerJobs        otelmetric.Int64Counter
)

func recordJob(ctx context.Context, outcome string) {
	workerMetricsOnce.Do(func() {
		var err error
		workerJobs, err = otel.Meter("qbank/worker").Int64Counter(
			"qbank_worker_jobs_total",
			otelmetric.WithDescription("Generation jobs handled by outcome"),
		)
		if err != nil {
			workerJobs = nil
		}
	})
	if workerJobs != nil {
		workerJobs.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
