package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

const plannerSystem = `You plan exam coverage for a course using only the syllabus snippets you are given.
For the requested topic, list the subtopics the syllabus names or clearly implies.
Rate each subtopic's importance from 1 (peripheral) to 5 (central), say briefly why,
and write a short retrieval query that would find supporting material for it.
When the snippets say too little, return fewer subtopics and say what is missing in notes.
Respond with JSON only.`

const generatorSystem = `You write exam questions from the supplied context snippets and nothing else.

Rules:
- Thin context means fewer questions. Returning zero questions is acceptable; inventing material is not.
- Each question must be answerable from the snippets it cites and must reuse their key technical terms.
- Each source_citation must copy the snippet's source and page exactly and quote a short supporting passage.
- No outside knowledge, textbooks or web content beyond the snippets.
- Write original questions. Do not copy snippet sentences verbatim.
- Snippets marked source_type=sample_paper show exam style only. Never reuse or lightly edit their questions.
- Put at least two exact technical phrases (2 to 4 words) from the cited snippets in each question or answer.
- Follow mark_distribution when present, otherwise marks_each.
- Match the requested question style mix and the usual exam style of the detected subject.
- Scale answers to marks: 1 mark is one or two sentences, 2 marks a short paragraph, 5 or more marks
  a stepwise multi-paragraph answer with 3 to 5 bullet points, a formula where the topic has one,
  and one stated assumption or limitation.
- Diagram questions must be answerable in text; draw any diagram as labelled ASCII art.
- Avoid vague filler that is not tied to cited terms.
- co_mapping uses tags such as CO1, CO2, CO3.
Respond with JSON only.`

const subjectSystem = `You identify the academic subject of a course from syllabus snippets.
Give a college-level subject label, a one-paragraph rationale, a recommended question style mix
(theory, numerical, derivation, equation, diagram; each 0 to 100) and the question types
commonly set for this subject.
Respond with JSON only.`

const auditorSystem = `You audit an exam question bank against the context it was generated from.
You receive context snippets (text, source, page, source_type), the question bank and the targets.

Report one issue for every violation of these red lines:
1. Hallucination: the question cannot be answered from its cited snippets alone.
2. BloomAlignment: the question's command verb does not fit its Bloom level.
3. Redundancy: two or more questions ask essentially the same thing.
4. Distribution: the Easy/Medium/Hard split misses the requested distribution.
Use category Other for anything else worth fixing. Set id to the question id when one applies.
passed is true only when there are no issues. The summary states what to fix first.
Respond with JSON only.`

func formatSnippets(snips []retriever.Candidate) string {
	var b strings.Builder
	for i, c := range snips {
		st := c.SourceType
		if st == "" {
			st = "material"
		}
		fmt.Fprintf(&b, "[SNIPPET %d] source=%s page=%d source_type=%s\n%s\n\n", i+1, c.Source, c.Page, st, c.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSyllabus(snips []retriever.Candidate) string {
	parts := make([]string, 0, len(snips))
	for _, c := range snips {
		parts = append(parts, fmt.Sprintf("[S] source=%s page=%d\n%s", c.Source, c.Page, c.Text))
	}
	return strings.Join(parts, "\n\n")
}

func formatTargets(t bank.Targets) string {
	var b strings.Builder
	line := func(k string, v interface{}) { fmt.Fprintf(&b, "- %s: %v\n", k, v) }
	line("topic", t.Topic)
	line("num_questions", t.NumQuestions)
	line("marks_each", t.MarksEach)
	line("bloom_focus", t.BloomFocus)
	line("difficulty_mix", t.DifficultyMix)
	line("difficulty_distribution", compactJSON(t.DifficultyDistribution))
	line("mark_distribution", compactJSON(t.MarkDistribution))
	line("question_type_preferences", compactJSON(t.QuestionTypePreferences))
	line("instruction", t.Instruction)
	return strings.TrimRight(b.String(), "\n")
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func buildPlannerPrompt(topic string, syllabus []retriever.Candidate) string {
	return fmt.Sprintf(`Topic: %s

Syllabus context:
%s

List the subtopics of this topic that the syllabus supports, each with a retrieval query.`, topic, formatSyllabus(syllabus))
}

func buildSubjectPrompt(syllabus []retriever.Candidate) string {
	return fmt.Sprintf(`Syllabus/context snippets:
%s

Identify the subject and recommend a question style mix.`, formatSyllabus(syllabus))
}

func buildGeneratorPrompt(in GenerateInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n\nGeneration targets:\n%s\n", in.Course, formatTargets(in.Targets))
	if in.Profile != nil {
		fmt.Fprintf(&b, "\nSubject profile:\n%s\n", compactJSON(in.Profile))
	}
	if in.Mix != nil {
		fmt.Fprintf(&b, "\nQuestion mix (percent):\n%s\n", compactJSON(in.Mix))
	}
	if in.Critique != "" {
		fmt.Fprintf(&b, "\nAuditor critique to fix:\n%s\n", in.Critique)
	}
	fmt.Fprintf(&b, "\nContext snippets (the only source of truth):\n%s\n", formatSnippets(in.Context))
	b.WriteString(`
Task:
Generate a question bank that meets the targets.
When the context is thin, return fewer questions rather than inventing content.
Every question needs question_text, bloom_level, co_mapping, difficulty, marks, answer_key,
detailed_rubric and source_citation (source, page, snippet).`)
	return b.String()
}

func buildAuditorPrompt(qb bank.QuestionBank, snips []retriever.Candidate, t bank.Targets) string {
	return fmt.Sprintf(`Question bank JSON:
%s

Targets:
%s

Context snippets:
%s`, compactJSON(qb), formatTargets(t), formatSnippets(snips))
}

// sortedKeys is used to keep citation-check messages deterministic.
func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
