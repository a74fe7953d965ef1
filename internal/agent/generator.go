package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

// GenerateInput is everything one generation call sees.
type GenerateInput struct {
	Course   string
	Targets  bank.Targets
	Context  []retriever.Candidate
	Profile  *bank.SubjectProfile
	Mix      *bank.StyleMix
	Critique string
}

// Generator writes question banks grounded in retrieved context.
type Generator struct {
	llm *Structured
}

func NewGenerator(s *Structured) *Generator {
	return &Generator{llm: s}
}

// Generate produces a bank for in. The returned bank may hold fewer
// questions than requested; it never holds questions the model did not
// return. Missing ids are assigned as Q1, Q2, ... and a blank course is
// replaced by in.Course.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (bank.QuestionBank, error) {
	var qb bank.QuestionBank
	if err := g.llm.Invoke(ctx, bank.KindQuestionBank, generatorSystem, buildGeneratorPrompt(in), &qb); err != nil {
		return bank.QuestionBank{}, err
	}
	if strings.TrimSpace(qb.Course) == "" {
		qb.Course = in.Course
	}
	seen := make(map[string]bool, len(qb.Questions))
	for i := range qb.Questions {
		id := strings.TrimSpace(qb.Questions[i].ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("Q%d", i+1)
		}
		seen[id] = true
		qb.Questions[i].ID = id
	}
	return qb, nil
}
