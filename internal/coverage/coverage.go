// Package coverage summarises how a bank spreads over course outcomes, Bloom
// levels and difficulty.
package coverage

import (
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
)

const unmapped = "Unmapped"

type Report struct {
	CODistribution         map[string]int `json:"co_distribution"`
	BloomDistribution      map[string]int `json:"bloom_distribution"`
	DifficultyDistribution map[string]int `json:"difficulty_distribution"`
	TotalQuestions         int            `json:"total_questions"`
}

// Build counts questions per CO tag, Bloom level and difficulty. A question
// mapped to several outcomes ("CO1, CO3") counts once for each.
func Build(qb bank.QuestionBank) Report {
	r := Report{
		CODistribution:         map[string]int{},
		BloomDistribution:      map[string]int{},
		DifficultyDistribution: map[string]int{},
		TotalQuestions:         len(qb.Questions),
	}
	for _, q := range qb.Questions {
		for _, co := range splitCO(q.CO) {
			r.CODistribution[co]++
		}
		r.BloomDistribution[string(q.Bloom)]++
		r.DifficultyDistribution[string(q.Difficulty)]++
	}
	return r
}

func splitCO(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '/' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{unmapped}
	}
	return out
}

// Gaps lists the Bloom levels and difficulties the bank never uses, in
// canonical order.
func (r Report) Gaps() (bloom []bank.BloomLevel, difficulty []bank.Difficulty) {
	for _, b := range bank.BloomLevels {
		if r.BloomDistribution[string(b)] == 0 {
			bloom = append(bloom, b)
		}
	}
	for _, d := range []bank.Difficulty{bank.Easy, bank.Medium, bank.Hard} {
		if r.DifficultyDistribution[string(d)] == 0 {
			difficulty = append(difficulty, d)
		}
	}
	return bloom, difficulty
}
