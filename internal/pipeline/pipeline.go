// Package pipeline runs a full generation request: syllabus bootstrap,
// subject classification, topic planning, context assembly, the
// generate/audit loop and the coverage report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/coverage"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/internal/loop"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoContext means nothing usable was retrieved for the request, so no
// generation was attempted.
var ErrNoContext = errors.New("no usable context found; upload more material")

type Planner interface {
	Plan(ctx context.Context, topic string, syllabus []retriever.Candidate) (bank.TopicPlan, error)
	ClassifySubject(ctx context.Context, syllabus []retriever.Candidate) (bank.SubjectProfile, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, allowed ...chunker.SourceType) ([]retriever.Candidate, error)
}

type Runner interface {
	Run(ctx context.Context, req loop.Request) (loop.Result, error)
}

type Options struct {
	TopK                int
	MinImportance       int
	MaxTotalContext     int
	IncludeSamplePapers bool
	SyllabusQueries     []string
	SyllabusK           int
	Concurrency         int
}

// DefaultOptions mirrors the defaults of the config file.
func DefaultOptions() Options {
	return Options{
		TopK:                8,
		MinImportance:       1,
		MaxTotalContext:     120,
		IncludeSamplePapers: true,
		SyllabusQueries:     []string{"Course outcomes", "Syllabus", "Module", "Unit"},
		SyllabusK:           3,
		Concurrency:         4,
	}
}

// Request is what a user asks for.
type Request struct {
	Course           string         `json:"course"`
	Topics           string         `json:"topics"`
	NumQuestions     int            `json:"num_questions"`
	MarksEach        int            `json:"marks_each"`
	DifficultyMix    string         `json:"difficulty_mix"`
	BloomFocus       string         `json:"bloom_focus,omitempty"`
	MarkDistribution map[string]int `json:"mark_distribution,omitempty"`
	IncludeNumerical *bool          `json:"include_numerical,omitempty"`
	IncludeDiagram   *bool          `json:"include_diagram,omitempty"`
	Instruction      string         `json:"instruction,omitempty"`
	Mix              *bank.StyleMix `json:"mix,omitempty"`
}

// Result is everything a finished request produced.
type Result struct {
	Course   string                `json:"course"`
	Plan     bank.TopicPlan        `json:"plan"`
	Profile  bank.SubjectProfile   `json:"subject_profile"`
	Mix      bank.StyleMix         `json:"mix"`
	Targets  bank.Targets          `json:"targets"`
	Context  []retriever.Candidate `json:"context"`
	Loop     loop.Result           `json:"loop"`
	Coverage coverage.Report       `json:"coverage"`
}

type Pipeline struct {
	planner   Planner
	retriever Retriever
	runner    Runner
	opts      Options
	logger    *logger.Logger
	tracer    trace.Tracer
}

func New(p Planner, r Retriever, run Runner, opts Options, lg *logger.Logger) *Pipeline {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxTotalContext <= 0 {
		opts.MaxTotalContext = def.MaxTotalContext
	}
	if len(opts.SyllabusQueries) == 0 {
		opts.SyllabusQueries = def.SyllabusQueries
	}
	if opts.SyllabusK <= 0 {
		opts.SyllabusK = def.SyllabusK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Pipeline{planner: p, retriever: r, runner: run, opts: opts, logger: lg, tracer: otel.Tracer("qbank/pipeline")}
}

// PlanTopic joins comma-separated topics with " | ". An empty list falls
// back to the course name, then "General".
func PlanTopic(topics, course string) string {
	var parts []string
	for _, t := range strings.Split(topics, ",") {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " | ")
	}
	if c := strings.TrimSpace(course); c != "" {
		return c
	}
	return "General"
}

// Targets builds generation targets for req under the planned topic.
func (req Request) Targets(topic string) (bank.Targets, error) {
	t, err := bank.NewTargets(topic, req.NumQuestions, req.MarksEach, req.DifficultyMix)
	if err != nil {
		return bank.Targets{}, err
	}
	if req.BloomFocus != "" {
		t.BloomFocus = req.BloomFocus
	}
	if len(req.MarkDistribution) > 0 {
		t.MarkDistribution = req.MarkDistribution
	}
	if req.IncludeNumerical != nil {
		t.QuestionTypePreferences["include_numerical"] = *req.IncludeNumerical
	}
	if req.IncludeDiagram != nil {
		t.QuestionTypePreferences["include_diagram"] = *req.IncludeDiagram
	}
	if req.Instruction != "" {
		t.Instruction = req.Instruction
	}
	return t, nil
}

// Validate checks a request before any model is called.
func (req Request) Validate() error {
	if req.NumQuestions < 1 || req.NumQuestions > 200 {
		return fmt.Errorf("num_questions must be in [1, 200], got %d", req.NumQuestions)
	}
	_, err := req.Targets("validate")
	return err
}

// Run executes the whole request. ErrNoContext is returned, with the plan
// filled in, when retrieval finds nothing to generate from.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("course", req.Course),
		attribute.String("topics", req.Topics),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	course := strings.TrimSpace(req.Course)
	if course == "" {
		course = "Course"
	}
	res := Result{Course: course}

	syllabus, err := p.Syllabus(ctx)
	if err != nil {
		return res, err
	}
	res.Profile, err = p.planner.ClassifySubject(ctx, syllabus)
	if err != nil {
		return res, fmt.Errorf("classify subject: %w", err)
	}

	topic := PlanTopic(req.Topics, req.Course)
	res.Plan, err = p.planner.Plan(ctx, topic, syllabus)
	if err != nil {
		return res, fmt.Errorf("plan topic: %w", err)
	}

	fallback := strings.TrimSpace(req.Topics)
	if fallback == "" {
		fallback = strings.TrimSpace(req.Course)
	}
	res.Context, err = p.AssembleContext(ctx, res.Plan, topic, fallback)
	if err != nil {
		return res, err
	}
	span.SetAttributes(attribute.Int("context_size", len(res.Context)))
	if len(res.Context) == 0 {
		return res, ErrNoContext
	}

	res.Targets, err = req.Targets(topic)
	if err != nil {
		return res, err
	}
	res.Mix = chooseMix(req.Mix, res.Profile)

	profile := res.Profile
	mix := res.Mix
	res.Loop, err = p.runner.Run(ctx, loop.Request{
		Course:  course,
		Targets: res.Targets,
		Context: res.Context,
		Profile: &profile,
		Mix:     &mix,
	})
	if err != nil {
		return res, err
	}
	res.Coverage = coverage.Build(res.Loop.Bank)
	p.logger.Info("generation finished", "course", course, "topic", topic, "subtopics", len(res.Plan.Subtopics),
		"context", len(res.Context), "questions", res.Coverage.TotalQuestions, "passed", res.Loop.Audit.Passed)
	return res, nil
}

func chooseMix(override *bank.StyleMix, profile bank.SubjectProfile) bank.StyleMix {
	mix := bank.DefaultMix()
	if !profile.RecommendedMix.IsZero() {
		mix = profile.RecommendedMix
	}
	if override != nil && !override.IsZero() {
		mix = *override
	}
	return mix.Percent()
}
