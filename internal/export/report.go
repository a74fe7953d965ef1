package export

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/coverage"
	"github.com/mohammad-safakhou/qbank/internal/loop"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Report is what the HTML export shows.
type Report struct {
	Course   string
	Topic    string
	Bank     bank.QuestionBank
	Audit    bank.AuditReport
	Coverage coverage.Report
	Log      []loop.LogEntry
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;max-width:960px;margin:2em auto;line-height:1.45}
table{border-collapse:collapse}th,td{border:1px solid #ccc;padding:4px 8px}
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Markdown renders the report body as GitHub-flavoured markdown.
func Markdown(r Report) string {
	var b strings.Builder
	course := r.Course
	if course == "" {
		course = r.Bank.Course
	}
	fmt.Fprintf(&b, "# Question bank: %s\n\n", escape(course))
	if r.Topic != "" {
		fmt.Fprintf(&b, "**Topic:** %s\n\n", escape(r.Topic))
	}
	status := "failed"
	if r.Audit.Passed {
		status = "passed"
	}
	fmt.Fprintf(&b, "**Audit:** %s. %s\n\n", status, escape(r.Audit.Summary))

	b.WriteString("## Coverage\n\n")
	fmt.Fprintf(&b, "Total questions: %d\n\n", r.Coverage.TotalQuestions)
	writeDistribution(&b, "Course outcome", r.Coverage.CODistribution)
	writeDistribution(&b, "Bloom level", r.Coverage.BloomDistribution)
	writeDistribution(&b, "Difficulty", r.Coverage.DifficultyDistribution)
	bloomGaps, diffGaps := r.Coverage.Gaps()
	if len(bloomGaps) > 0 {
		fmt.Fprintf(&b, "Bloom levels not covered: %s\n\n", joinNames(bloomGaps))
	}
	if len(diffGaps) > 0 {
		fmt.Fprintf(&b, "Difficulties not covered: %s\n\n", joinNames(diffGaps))
	}

	if len(r.Audit.Issues) > 0 {
		b.WriteString("## Open issues\n\n")
		for _, is := range r.Audit.Issues {
			id := is.ID
			if id == "" {
				id = "bank"
			}
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", escape(id), is.Category, escape(is.Detail))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Questions\n\n")
	for _, q := range r.Bank.Questions {
		fmt.Fprintf(&b, "### %s (%d marks)\n\n", escape(q.ID), q.Marks)
		fmt.Fprintf(&b, "%s\n\n", escape(q.Text))
		fmt.Fprintf(&b, "- Bloom: %s\n- CO: %s\n- Difficulty: %s\n- Sources: %s\n\n",
			q.Bloom, escape(q.CO), q.Difficulty, escape(FormatCitations(q.Citations)))
		if q.AnswerKey != "" {
			fmt.Fprintf(&b, "**Answer key.** %s\n\n", escape(q.AnswerKey))
		}
		if q.Rubric != "" {
			fmt.Fprintf(&b, "**Rubric.** %s\n\n", escape(q.Rubric))
		}
	}

	if len(r.Log) > 0 {
		b.WriteString("## Iterations\n\n| # | Action | Passed | Issues |\n|---|---|---|---|\n")
		for _, e := range r.Log {
			fmt.Fprintf(&b, "| %d | %s | %t | %d |\n", e.Iteration, escape(e.Action), e.Passed, len(e.Issues))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// WriteHTML converts the markdown report to sanitized HTML and wraps it in
// a standalone page.
func WriteHTML(w io.Writer, r Report) error {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(r)), &buf); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	title := r.Course
	if title == "" {
		title = "Question bank"
	}
	return page.Execute(w, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(SanitizeReport(buf.String()))})
}

func writeDistribution(b *strings.Builder, label string, dist map[string]int) {
	if len(dist) == 0 {
		return
	}
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "| %s | Count |\n|---|---|\n", label)
	for _, k := range keys {
		fmt.Fprintf(b, "| %s | %d |\n", escape(k), dist[k])
	}
	b.WriteString("\n")
}

func joinNames[T ~string](vs []T) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "|", `\|`, "*", `\*`, "_", `\_`, "#", `\#`, "<", "&lt;", ">", "&gt;", "\n", " ",
)

func escape(s string) string { return mdEscaper.Replace(strings.TrimSpace(s)) }
