package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/loop"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

type call struct {
	query string
	k     int
	types []chunker.SourceType
}

type fakeRetriever struct {
	mu      sync.Mutex
	results map[string][]retriever.Candidate
	calls   []call
	err     error
}

func (f *fakeRetriever) Retrieve(_ context.Context, q string, k int, allowed ...chunker.SourceType) ([]retriever.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{query: q, k: k, types: allowed})
	if f.err != nil {
		return nil, f.err
	}
	out := append([]retriever.Candidate(nil), f.results[q]...)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeRetriever) find(q string) (call, bool) {
	for _, c := range f.calls {
		if c.query == q {
			return c, true
		}
	}
	return call{}, false
}

type fakePlanner struct {
	plan     bank.TopicPlan
	profile  bank.SubjectProfile
	topic    string
	syllabus int
}

func (f *fakePlanner) Plan(_ context.Context, topic string, syllabus []retriever.Candidate) (bank.TopicPlan, error) {
	f.topic = topic
	f.syllabus = len(syllabus)
	return f.plan, nil
}

func (f *fakePlanner) ClassifySubject(context.Context, []retriever.Candidate) (bank.SubjectProfile, error) {
	return f.profile, nil
}

type fakeRunner struct {
	req loop.Request
	res loop.Result
	err error
}

func (f *fakeRunner) Run(_ context.Context, req loop.Request) (loop.Result, error) {
	f.req = req
	return f.res, f.err
}

func cand(src string, page int, text string, kw int, dist float64) retriever.Candidate {
	return retriever.Candidate{ChunkID: fmt.Sprintf("%s-%d", src, page), Source: src, Page: page, Text: text, KeywordScore: kw, Distance: dist}
}

func baseRequest() Request {
	return Request{Course: "Quantum Computing", Topics: "Grover, Shor", NumQuestions: 12, MarksEach: 5, DifficultyMix: bank.MixMostlyMedium}
}

func TestPlanTopic(t *testing.T) {
	cases := []struct{ topics, course, want string }{
		{" Grover ,, Shor ", "QC", "Grover | Shor"},
		{"", "Quantum Computing", "Quantum Computing"},
		{" , ", "  ", "General"},
	}
	for _, c := range cases {
		if got := PlanTopic(c.topics, c.course); got != c.want {
			t.Fatalf("PlanTopic(%q, %q) = %q, want %q", c.topics, c.course, got, c.want)
		}
	}
}

func TestDedupKeepsFirst(t *testing.T) {
	long := strings.Repeat("a", 130)
	in := []retriever.Candidate{
		cand("a.pdf", 1, long+"x", 2, 0.1),
		cand("a.pdf", 1, long+"y", 1, 0.2),
		cand("a.pdf", 2, long, 1, 0.3),
	}
	out := Dedup(in)
	if len(out) != 2 || out[0].KeywordScore != 2 || out[1].Page != 2 {
		t.Fatalf("unexpected dedup result: %+v", out)
	}
}

func TestSyllabusQueriesAndDedup(t *testing.T) {
	r := &fakeRetriever{results: map[string][]retriever.Candidate{
		"Course outcomes": {cand("syl.pdf", 1, "CO1 explain qubits", 1, 0.1)},
		"Syllabus":        {cand("syl.pdf", 1, "CO1 explain qubits", 1, 0.1), cand("syl.pdf", 2, "Unit 2 Grover", 1, 0.2)},
	}}
	p := New(&fakePlanner{}, r, &fakeRunner{}, DefaultOptions(), nil)
	got, err := p.Syllabus(context.Background())
	if err != nil {
		t.Fatalf("Syllabus: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unique snippets, got %d", len(got))
	}
	if len(r.calls) != 4 {
		t.Fatalf("expected 4 syllabus queries, got %d", len(r.calls))
	}
	for _, c := range r.calls {
		if c.k != 3 || len(c.types) != 2 || c.types[0] != chunker.Material || c.types[1] != chunker.Outcomes {
			t.Fatalf("unexpected syllabus call %+v", c)
		}
	}
}

func TestAssembleContextOrdering(t *testing.T) {
	r := &fakeRetriever{results: map[string][]retriever.Candidate{
		"grover oracle": {cand("g.pdf", 1, "grover low kw", 1, 0.1), cand("g.pdf", 2, "grover high kw", 3, 0.4)},
		"Shor":          {cand("s.pdf", 1, "shor period", 4, 0.05)},
		"Grover | Shor": {cand("g.pdf", 2, "grover high kw", 3, 0.4), cand("x.pdf", 9, "generic", 0, 0.9)},
	}}
	plan := bank.TopicPlan{Topic: "Grover | Shor", Subtopics: []bank.Subtopic{
		{Name: "Shor", Importance: 3},
		{Name: "Grover", Importance: 5, Query: "grover oracle"},
		{Name: "Trivia", Importance: 0},
	}}
	p := New(&fakePlanner{}, r, &fakeRunner{}, DefaultOptions(), nil)
	got, err := p.AssembleContext(context.Background(), plan, "Grover | Shor", "Grover, Shor")
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	want := []string{"grover high kw", "grover low kw", "shor period", "generic"}
	if len(got) != len(want) {
		t.Fatalf("expected %d snippets, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Fatalf("position %d: got %q want %q", i, got[i].Text, w)
		}
	}
	if got[0].Subtopic != "Grover" || got[0].Importance != 5 {
		t.Fatalf("expected subtopic annotation, got %+v", got[0])
	}
	if got[3].Subtopic != "" {
		t.Fatalf("generic snippet should not carry a subtopic: %+v", got[3])
	}
	if _, ok := r.find("Trivia"); ok {
		t.Fatalf("subtopic below min importance was retrieved")
	}
	sub, _ := r.find("Shor")
	if sub.k != 8 || len(sub.types) != 3 || sub.types[2] != chunker.SamplePaper {
		t.Fatalf("unexpected subtopic call %+v", sub)
	}
	gen, _ := r.find("Grover | Shor")
	if gen.k != 120 || len(gen.types) != 2 {
		t.Fatalf("unexpected generic call %+v", gen)
	}
}

func TestAssembleContextCapsAndSkipsGeneric(t *testing.T) {
	var many []retriever.Candidate
	for i := 0; i < 5; i++ {
		many = append(many, cand("m.pdf", i+1, fmt.Sprintf("chunk %d", i), 1, float64(i)))
	}
	r := &fakeRetriever{results: map[string][]retriever.Candidate{"A": many}}
	opts := DefaultOptions()
	opts.MaxTotalContext = 3
	opts.TopK = 5
	opts.IncludeSamplePapers = false
	p := New(&fakePlanner{}, r, &fakeRunner{}, opts, nil)
	got, err := p.AssembleContext(context.Background(), bank.TopicPlan{Subtopics: []bank.Subtopic{{Name: "A", Importance: 2}}}, "topic", "")
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(got))
	}
	if _, ok := r.find("topic"); ok {
		t.Fatalf("generic pass should not run when the list is full")
	}
	if c, _ := r.find("A"); len(c.types) != 2 {
		t.Fatalf("sample papers should be excluded: %+v", c.types)
	}
}

func TestAssembleContextFallback(t *testing.T) {
	r := &fakeRetriever{results: map[string][]retriever.Candidate{
		"Course content": {cand("c.pdf", 1, "anything", 0, 0.5)},
	}}
	p := New(&fakePlanner{}, r, &fakeRunner{}, DefaultOptions(), nil)
	got, err := p.AssembleContext(context.Background(), bank.TopicPlan{}, "General", " ")
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if len(got) != 1 || got[0].Text != "anything" {
		t.Fatalf("expected fallback snippet, got %+v", got)
	}
}

func TestRunWiresLoopAndCoverage(t *testing.T) {
	r := &fakeRetriever{results: map[string][]retriever.Candidate{
		"Syllabus":      {cand("syl.pdf", 1, "CO1 Grover", 1, 0.1)},
		"Grover":        {cand("g.pdf", 3, "grover oracle amplitude", 3, 0.2)},
		"Grover | Shor": {cand("g.pdf", 4, "shor factoring", 1, 0.3)},
	}}
	pl := &fakePlanner{
		plan:    bank.TopicPlan{Topic: "Grover | Shor", Subtopics: []bank.Subtopic{{Name: "Grover", Importance: 4}}},
		profile: bank.SubjectProfile{Subject: "Physics", RecommendedMix: bank.StyleMix{Theory: 1, Numerical: 1, Derivation: 1, Equation: 1}},
	}
	run := &fakeRunner{res: loop.Result{
		State: loop.StatePassed,
		Audit: bank.AuditReport{Passed: true},
		Bank: bank.QuestionBank{Questions: []bank.Question{
			{ID: "Q1", CO: "CO1, CO2", Bloom: bank.Apply, Difficulty: bank.Medium},
		}},
	}}
	p := New(pl, r, run, DefaultOptions(), nil)
	res, err := p.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pl.topic != "Grover | Shor" || pl.syllabus != 1 {
		t.Fatalf("planner saw topic %q with %d syllabus snippets", pl.topic, pl.syllabus)
	}
	if run.req.Course != "Quantum Computing" || run.req.Targets.NumQuestions != 12 || run.req.Targets.Topic != "Grover | Shor" {
		t.Fatalf("unexpected loop request %+v", run.req)
	}
	if len(run.req.Context) != 2 {
		t.Fatalf("expected 2 context snippets, got %d", len(run.req.Context))
	}
	wantMix := bank.StyleMix{Theory: 25, Numerical: 25, Derivation: 25, Equation: 25}
	if *run.req.Mix != wantMix || res.Mix != wantMix {
		t.Fatalf("expected recommended mix normalised, got %+v", *run.req.Mix)
	}
	if run.req.Profile == nil || run.req.Profile.Subject != "Physics" {
		t.Fatalf("profile not forwarded")
	}
	if res.Coverage.TotalQuestions != 1 || res.Coverage.CODistribution["CO2"] != 1 {
		t.Fatalf("unexpected coverage %+v", res.Coverage)
	}
}

func TestRunMixOverrideAndCourseDefault(t *testing.T) {
	r := &fakeRetriever{results: map[string][]retriever.Candidate{
		"General": {cand("a.pdf", 1, "text", 0, 0.1)},
	}}
	run := &fakeRunner{res: loop.Result{State: loop.StateExhausted}}
	p := New(&fakePlanner{}, r, run, DefaultOptions(), nil)
	req := baseRequest()
	req.Course = ""
	req.Topics = ""
	req.Mix = &bank.StyleMix{Theory: 3, Diagram: 1}
	no := false
	req.IncludeNumerical = &no
	res, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.req.Course != "Course" {
		t.Fatalf("expected default course, got %q", run.req.Course)
	}
	if res.Mix != (bank.StyleMix{Theory: 75, Diagram: 25}) {
		t.Fatalf("expected override mix, got %+v", res.Mix)
	}
	if res.Targets.QuestionTypePreferences["include_numerical"] {
		t.Fatalf("numerical preference override ignored")
	}
}

func TestRunNoContext(t *testing.T) {
	run := &fakeRunner{}
	p := New(&fakePlanner{}, &fakeRetriever{}, run, DefaultOptions(), nil)
	_, err := p.Run(context.Background(), baseRequest())
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected ErrNoContext, got %v", err)
	}
	if run.req.Targets.NumQuestions != 0 {
		t.Fatalf("loop must not run without context")
	}
}

func TestRunRejectsBadRequest(t *testing.T) {
	r := &fakeRetriever{}
	p := New(&fakePlanner{}, r, &fakeRunner{}, DefaultOptions(), nil)
	req := baseRequest()
	req.MarksEach = 25
	if _, err := p.Run(context.Background(), req); err == nil {
		t.Fatalf("expected validation error")
	}
	req = baseRequest()
	req.NumQuestions = 0
	if _, err := p.Run(context.Background(), req); err == nil {
		t.Fatalf("expected validation error for zero questions")
	}
	if len(r.calls) != 0 {
		t.Fatalf("no retrieval expected for invalid requests")
	}
}

func TestRunPropagatesRetrievalError(t *testing.T) {
	boom := errors.New("db down")
	p := New(&fakePlanner{}, &fakeRetriever{err: boom}, &fakeRunner{}, DefaultOptions(), nil)
	if _, err := p.Run(context.Background(), baseRequest()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped retrieval error, got %v", err)
	}
}
