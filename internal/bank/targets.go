package bank

import (
	"fmt"
	"math"
	"strings"
)

// Difficulty mix presets offered to users.
const (
	MixMostlyMedium = "Mostly Medium"
	MixEasyMedium   = "Easy/Medium"
	MixMediumHard   = "Medium/Hard"
)

var difficultyPresets = map[string]map[Difficulty]int{
	MixMostlyMedium: {Easy: 20, Medium: 60, Hard: 20},
	MixEasyMedium:   {Easy: 40, Medium: 40, Hard: 20},
	MixMediumHard:   {Easy: 20, Medium: 40, Hard: 40},
}

// DifficultyDistribution returns the percentage split for a preset name.
func DifficultyDistribution(preset string) (map[Difficulty]int, bool) {
	d, ok := difficultyPresets[preset]
	if !ok {
		return nil, false
	}
	out := make(map[Difficulty]int, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, true
}

const defaultInstruction = "Generate exam-relevant questions strictly from context. " +
	"Try to reach the requested count if context supports it. " +
	"If context is shallow, output fewer questions instead of inventing."

// Targets describes the shape of the bank a caller wants.
type Targets struct {
	Topic                   string             `json:"topic"`
	NumQuestions            int                `json:"num_questions"`
	MarksEach               int                `json:"marks_each"`
	BloomFocus              string             `json:"bloom_focus"`
	DifficultyMix           string             `json:"difficulty_mix"`
	DifficultyDistribution  map[Difficulty]int `json:"difficulty_distribution,omitempty"`
	MarkDistribution        map[string]int     `json:"mark_distribution"`
	QuestionTypePreferences map[string]bool    `json:"question_type_preferences"`
	Instruction             string             `json:"instruction"`
}

// NewTargets fills the defaults used by the UI flow: mixed Bloom focus,
// numerical questions on, diagram questions off.
func NewTargets(topic string, numQuestions, marksEach int, difficultyMix string) (Targets, error) {
	if numQuestions < 0 {
		return Targets{}, fmt.Errorf("num_questions must be >= 0")
	}
	if marksEach < 1 || marksEach > 20 {
		return Targets{}, fmt.Errorf("marks_each must be in [1, 20], got %d", marksEach)
	}
	if difficultyMix == "" {
		difficultyMix = MixMostlyMedium
	}
	dist, ok := DifficultyDistribution(difficultyMix)
	if !ok {
		return Targets{}, fmt.Errorf("unknown difficulty mix %q", difficultyMix)
	}
	if strings.TrimSpace(topic) == "" {
		topic = "General"
	}
	return Targets{
		Topic:                  topic,
		NumQuestions:           numQuestions,
		MarksEach:              marksEach,
		BloomFocus:             "Mixed",
		DifficultyMix:          difficultyMix,
		DifficultyDistribution: dist,
		QuestionTypePreferences: map[string]bool{
			"include_numerical": true,
			"include_diagram":   false,
		},
		Instruction: defaultInstruction,
	}, nil
}

// StyleMix weights question styles. Values are 0 to 100.
type StyleMix struct {
	Theory     int `json:"theory"`
	Numerical  int `json:"numerical"`
	Derivation int `json:"derivation"`
	Equation   int `json:"equation"`
	Diagram    int `json:"diagram"`
}

// DefaultMix is used until a subject profile recommends another.
func DefaultMix() StyleMix {
	return StyleMix{Theory: 35, Numerical: 30, Derivation: 15, Equation: 10, Diagram: 10}
}

// IsZero reports whether every weight is zero.
func (m StyleMix) IsZero() bool {
	return m == StyleMix{}
}

// Percent rescales the mix so it reads as percentages of its own sum,
// rounding half to even.
func (m StyleMix) Percent() StyleMix {
	sum := m.Theory + m.Numerical + m.Derivation + m.Equation + m.Diagram
	if sum == 0 {
		sum = 1
	}
	pct := func(v int) int {
		return int(math.RoundToEven(float64(v) * 100 / float64(sum)))
	}
	return StyleMix{
		Theory:     pct(m.Theory),
		Numerical:  pct(m.Numerical),
		Derivation: pct(m.Derivation),
		Equation:   pct(m.Equation),
		Diagram:    pct(m.Diagram),
	}
}
