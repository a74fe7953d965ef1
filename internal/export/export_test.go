package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/coverage"
	"github.com/mohammad-safakhou/qbank/internal/loop"
)

func sampleBank() bank.QuestionBank {
	return bank.QuestionBank{Course: "Quantum Computing", Questions: []bank.Question{
		{
			ID: "Q1", Text: `Explain "amplitude amplification", with one example.`,
			Bloom: bank.Understand, CO: "CO2", Difficulty: bank.Medium, Marks: 5,
			AnswerKey: "Reflection about the mean.", Rubric: "2 marks definition, 3 marks example.",
			Citations: []bank.Citation{{Source: "grover.pdf", Page: 2}, {Source: "notes.pdf", Page: 5}},
		},
		{
			ID: "Q2", Text: "<script>alert(1)</script> Compute the number of Grover iterations for N=16.",
			Bloom: bank.Apply, CO: "CO3", Difficulty: bank.Hard, Marks: 5,
			Citations: []bank.Citation{{Source: "grover.pdf", Page: 4}},
		},
	}}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleBank()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(Columns, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	first := rows[1]
	if first[1] != `Explain "amplitude amplification", with one example.` {
		t.Fatalf("question text not preserved: %q", first[1])
	}
	if first[5] != "5" || first[8] != "grover.pdf p2; notes.pdf p5" {
		t.Fatalf("unexpected row %v", first)
	}
}

func TestWriteCSVEmptyBank(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, bank.QuestionBank{}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected header only, got %q", buf.String())
	}
}

func TestWriteHTML(t *testing.T) {
	qb := sampleBank()
	r := Report{
		Course:   qb.Course,
		Topic:    "Grover | Shor",
		Bank:     qb,
		Audit:    bank.AuditReport{Passed: false, Summary: "One issue.", Issues: []bank.AuditIssue{{ID: "Q2", Category: bank.Other, Detail: "N unclear"}}},
		Coverage: coverage.Build(qb),
		Log:      []loop.LogEntry{{Iteration: 1, Action: "Generated initial question bank.", Passed: false}},
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, r); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"<title>Quantum Computing</title>",
		"<h3>Q1 (5 marks)</h3>",
		"<th>Bloom level</th>",
		"grover.pdf p2; notes.pdf p5",
		"Bloom levels not covered: Remember, Analyze, Evaluate, Create",
		"Difficulties not covered: Easy",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<script>alert") {
		t.Fatalf("script survived sanitisation")
	}
}

func TestSanitizeReportStripsHandlers(t *testing.T) {
	got := SanitizeReport(`<p onclick="x()">hi <a href="javascript:alert(1)">x</a></p>`)
	if strings.Contains(got, "onclick") || strings.Contains(got, "javascript:") {
		t.Fatalf("unsafe markup kept: %q", got)
	}
}
