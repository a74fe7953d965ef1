// Package loop drives generation to convergence: generate, audit, enforce the
// quantity gate, and regenerate with the auditor's critique until the bank
// passes or the iteration budget runs out.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/qbank/internal/agent"
	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxIters      = 4
	DefaultQuantityFloor = 10

	actionInitial     = "Generated initial question bank."
	actionRegenerated = "Regenerated question bank with the latest critique applied."
	actionFailed      = "Generation attempt failed; retrying with the previous critique."
)

type Generator interface {
	Generate(ctx context.Context, in agent.GenerateInput) (bank.QuestionBank, error)
}

type Auditor interface {
	Audit(ctx context.Context, qb bank.QuestionBank, snippets []retriever.Candidate, targets bank.Targets) (bank.AuditReport, error)
}

// Policy decides what a failed generate or audit call does to the loop.
type Policy string

const (
	// PolicyAbort stops the loop and returns the error with the log so far.
	PolicyAbort Policy = "abort"
	// PolicyRetry spends the iteration and continues with the previous
	// critique. It covers schema validation failures and per-call timeouts;
	// any other error still aborts.
	PolicyRetry Policy = "retry"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyRetry:
		return PolicyRetry, nil
	}
	return "", fmt.Errorf("unknown schema error policy %q", s)
}

type State string

const (
	StateInit       State = "INIT"
	StateGenerating State = "GENERATING"
	StateAuditing   State = "AUDITING"
	StatePassed     State = "PASSED"
	StateExhausted  State = "EXHAUSTED"
	StateFailed     State = "FAILED"
)

type Config struct {
	MaxIters      int
	QuantityFloor int
	Policy        Policy
}

// Request is one loop invocation.
type Request struct {
	Course  string
	Targets bank.Targets
	Context []retriever.Candidate
	Profile *bank.SubjectProfile
	Mix     *bank.StyleMix
}

// LogEntry records one iteration.
type LogEntry struct {
	Iteration int               `json:"iteration"`
	Action    string            `json:"generator_response"`
	Summary   string            `json:"auditor_summary"`
	Issues    []bank.AuditIssue `json:"auditor_issues"`
	Passed    bool              `json:"passed"`
}

// Result is the terminal loop state. On exhaustion Bank and Audit are the
// last iteration's, and Audit.Passed is false.
type Result struct {
	Bank       bank.QuestionBank `json:"bank"`
	Audit      bank.AuditReport  `json:"audit"`
	Log        []LogEntry        `json:"log"`
	State      State             `json:"state"`
	Iterations int               `json:"iterations"`
}

func (r Result) Passed() bool { return r.State == StatePassed }

// IterationError wraps a failed generate or audit call.
type IterationError struct {
	Iteration int
	Stage     string
	Err       error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("iteration %d %s: %v", e.Iteration, e.Stage, e.Err)
}

func (e *IterationError) Unwrap() error { return e.Err }

type Controller struct {
	gen    Generator
	aud    Auditor
	cfg    Config
	logger *logger.Logger
	tracer trace.Tracer
}

func New(gen Generator, aud Auditor, cfg Config, lg *logger.Logger) *Controller {
	if cfg.MaxIters <= 0 {
		cfg.MaxIters = DefaultMaxIters
	}
	if cfg.QuantityFloor <= 0 {
		cfg.QuantityFloor = DefaultQuantityFloor
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAbort
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Controller{gen: gen, aud: aud, cfg: cfg, logger: lg, tracer: otel.Tracer("qbank/loop")}
}

// Run iterates until the audit passes or MaxIters generator calls were made.
// Exhaustion is not an error. A non-nil error is always an *IterationError
// (or the context's error) and comes with the log collected so far.
func (c *Controller) Run(ctx context.Context, req Request) (Result, error) {
	initLoopMetrics()
	ctx, span := c.tracer.Start(ctx, "loop.run", trace.WithAttributes(
		attribute.String("course", req.Course),
		attribute.Int("num_questions", req.Targets.NumQuestions),
		attribute.Int("context_size", len(req.Context)),
		attribute.Int("max_iters", c.cfg.MaxIters),
	))
	defer span.End()

	res := Result{State: StateInit}
	var (
		critique  string
		generated bool
		lastErr   error
	)
	for i := 1; i <= c.cfg.MaxIters; i++ {
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, span, res, StateFailed, err)
		}
		res.Iterations = i
		qb, report, err := c.iterate(ctx, i, req, critique)
		if loopIterations != nil {
			loopIterations.Add(ctx, 1)
		}
		if err != nil {
			if !c.retryable(ctx, err) {
				return c.finish(ctx, span, res, StateFailed, err)
			}
			lastErr = err
			c.logger.Warn("iteration failed, retrying", "iteration", i, "error", err)
			res.Log = append(res.Log, LogEntry{
				Iteration: i,
				Action:    actionFailed,
				Summary:   err.Error(),
				Issues:    []bank.AuditIssue{{Category: bank.Other, Detail: err.Error()}},
			})
			continue
		}
		generated = true

		action := actionInitial
		if critique != "" {
			action = actionRegenerated
		}
		res.Bank, res.Audit = qb, report
		res.Log = append(res.Log, LogEntry{
			Iteration: i,
			Action:    action,
			Summary:   report.Summary,
			Issues:    append([]bank.AuditIssue(nil), report.Issues...),
			Passed:    report.Passed,
		})
		c.logger.Info("iteration audited", "iteration", i, "questions", len(qb.Questions),
			"passed", report.Passed, "issues", len(report.Issues))

		if report.Passed {
			return c.finish(ctx, span, res, StatePassed, nil)
		}
		critique = Critique(report)
	}
	if !generated && lastErr != nil {
		return c.finish(ctx, span, res, StateFailed, lastErr)
	}
	return c.finish(ctx, span, res, StateExhausted, nil)
}

func (c *Controller) iterate(ctx context.Context, i int, req Request, critique string) (bank.QuestionBank, bank.AuditReport, error) {
	ctx, span := c.tracer.Start(ctx, "loop.iteration", trace.WithAttributes(attribute.Int("iteration", i)))
	defer span.End()

	qb, err := c.gen.Generate(ctx, agent.GenerateInput{
		Course:   req.Course,
		Targets:  req.Targets,
		Context:  req.Context,
		Profile:  req.Profile,
		Mix:      req.Mix,
		Critique: critique,
	})
	if err != nil {
		span.RecordError(err)
		return bank.QuestionBank{}, bank.AuditReport{}, &IterationError{Iteration: i, Stage: "generate", Err: err}
	}
	report, err := c.aud.Audit(ctx, qb, req.Context, req.Targets)
	if err != nil {
		span.RecordError(err)
		return bank.QuestionBank{}, bank.AuditReport{}, &IterationError{Iteration: i, Stage: "audit", Err: err}
	}
	var fired bool
	report, fired = QuantityGate(report, len(qb.Questions), req.Targets.NumQuestions, len(req.Context), c.cfg.QuantityFloor)
	if fired && quantityGate != nil {
		quantityGate.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Bool("passed", report.Passed), attribute.Int("questions", len(qb.Questions)))
	return qb, report, nil
}

func (c *Controller) retryable(ctx context.Context, err error) bool {
	if c.cfg.Policy != PolicyRetry || ctx.Err() != nil {
		return false
	}
	return bank.IsSchemaValidation(err) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Controller) finish(ctx context.Context, span trace.Span, res Result, state State, err error) (Result, error) {
	res.State = state
	span.SetAttributes(attribute.String("state", string(state)), attribute.Int("iterations", res.Iterations))
	if err != nil {
		span.RecordError(err)
		c.logger.Error("generation loop failed", "iterations", res.Iterations, "error", err)
	} else {
		c.logger.Info("generation loop finished", "state", state, "iterations", res.Iterations,
			"questions", len(res.Bank.Questions))
	}
	if loopOutcomes != nil {
		loopOutcomes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("state", string(state))))
	}
	return res, err
}

// QuantityGate forces a failing verdict when the context was large enough to
// support the requested count and the bank came up short. The threshold is
// max(floor, requested) context snippets.
func QuantityGate(report bank.AuditReport, generated, requested, contextLen, floor int) (bank.AuditReport, bool) {
	if requested <= 0 || generated >= requested {
		return report, false
	}
	if contextLen < max(floor, requested) {
		return report, false
	}
	report.Passed = false
	report.Issues = append(append([]bank.AuditIssue(nil), report.Issues...), bank.AuditIssue{
		Category: bank.Quantity,
		Detail:   fmt.Sprintf("Requested %d questions, generated %d.", requested, generated),
	})
	return report, true
}

// Critique renders a report as feedback for the next generation: the summary,
// then one "category: detail" line per issue.
func Critique(report bank.AuditReport) string {
	lines := make([]string, 0, len(report.Issues))
	for _, iss := range report.Issues {
		lines = append(lines, fmt.Sprintf("%s: %s", iss.Category, iss.Detail))
	}
	return report.Summary + "\n" + strings.Join(lines, "\n")
}

var (
	loopMetricsOnce sync.Once
	loopIterations  otelmetric.Int64Counter
	loopOutcomes    otelmetric.Int64Counter
	quantityGate    otelmetric.Int64Counter
)

func initLoopMetrics() {
	loopMetricsOnce.Do(func() {
		meter := otel.Meter("qbank/loop")
		var err error
		loopIterations, err = meter.Int64Counter("qbank_loop_iterations_total",
			otelmetric.WithDescription("Generate/audit iterations run"))
		if err != nil {
			loopIterations = nil
		}
		loopOutcomes, err = meter.Int64Counter("qbank_loop_outcomes_total",
			otelmetric.WithDescription("Loop terminal states"))
		if err != nil {
			loopOutcomes = nil
		}
		quantityGate, err = meter.Int64Counter("qbank_quantity_gate_total",
			otelmetric.WithDescription("Times the quantity gate failed a bank"))
		if err != nil {
			quantityGate = nil
		}
	})
}
