package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
	"golang.org/x/sync/errgroup"
)

// dedupKey identifies a snippet by source, page and leading text.
func dedupKey(c retriever.Candidate) string {
	text := c.Text
	if r := []rune(text); len(r) > 120 {
		text = string(r[:120])
	}
	return fmt.Sprintf("%s|%d|%s", c.Source, c.Page, text)
}

// Dedup keeps the first occurrence of each snippet.
func Dedup(in []retriever.Candidate) []retriever.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]retriever.Candidate, 0, len(in))
	for _, c := range in {
		k := dedupKey(c)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Syllabus collects course-outline snippets used to plan and classify.
func (p *Pipeline) Syllabus(ctx context.Context) ([]retriever.Candidate, error) {
	var all []retriever.Candidate
	for _, q := range p.opts.SyllabusQueries {
		hits, err := p.retriever.Retrieve(ctx, q, p.opts.SyllabusK, chunker.Material, chunker.Outcomes)
		if err != nil {
			return nil, fmt.Errorf("syllabus query %q: %w", q, err)
		}
		all = append(all, hits...)
	}
	return Dedup(all), nil
}

// AssembleContext retrieves snippets for every important subtopic, orders
// them by importance then keyword score then distance, tops the list up
// with a generic pass on topic and caps it. When everything comes back
// empty a last query on fallback (or "Course content") is tried.
func (p *Pipeline) AssembleContext(ctx context.Context, plan bank.TopicPlan, topic, fallback string) ([]retriever.Candidate, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.context")
	defer span.End()

	types := []chunker.SourceType{chunker.Material, chunker.Outcomes}
	if p.opts.IncludeSamplePapers {
		types = append(types, chunker.SamplePaper)
	}

	var subs []bank.Subtopic
	for _, st := range plan.Subtopics {
		if st.Importance >= p.opts.MinImportance {
			subs = append(subs, st)
		}
	}

	perSub := make([][]retriever.Candidate, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, st := range subs {
		g.Go(func() error {
			q := strings.TrimSpace(st.Query)
			if q == "" {
				q = st.Name
			}
			hits, err := p.retriever.Retrieve(gctx, q, p.opts.TopK, types...)
			if err != nil {
				return fmt.Errorf("subtopic %q: %w", st.Name, err)
			}
			for j := range hits {
				hits[j].Subtopic = st.Name
				hits[j].Importance = st.Importance
			}
			perSub[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pool []retriever.Candidate
	for _, hits := range perSub {
		pool = append(pool, hits...)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.KeywordScore != b.KeywordScore {
			return a.KeywordScore > b.KeywordScore
		}
		return a.Distance < b.Distance
	})

	limit := p.opts.MaxTotalContext
	if len(pool) < limit {
		generic, err := p.retriever.Retrieve(ctx, topic, limit, chunker.Material, chunker.Outcomes)
		if err != nil {
			return nil, fmt.Errorf("generic context: %w", err)
		}
		pool = append(pool, generic...)
	}
	pool = Dedup(pool)
	if len(pool) > limit {
		pool = pool[:limit]
	}

	if len(pool) == 0 {
		q := strings.TrimSpace(fallback)
		if q == "" {
			q = "Course content"
		}
		last, err := p.retriever.Retrieve(ctx, q, limit, chunker.Material, chunker.Outcomes)
		if err != nil {
			return nil, fmt.Errorf("fallback context: %w", err)
		}
		pool = Dedup(last)
	}
	p.logger.Debug("context assembled", "subtopics", len(subs), "snippets", len(pool))
	return pool, nil
}
