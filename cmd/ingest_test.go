package cmd

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/loop"
	"github.com/mohammad-safakhou/qbank/internal/pipeline"
)

func TestParseSourceSpec(t *testing.T) {
	cases := []struct {
		in   string
		typ  chunker.SourceType
		ref  string
		url  bool
		fail bool
	}{
		{in: "notes/grover.pdf", typ: chunker.Material, ref: "notes/grover.pdf"},
		{in: "outcomes=co.txt", typ: chunker.Outcomes, ref: "co.txt"},
		{in: "sample_paper=https://example.edu/2023.html", typ: chunker.SamplePaper, ref: "https://example.edu/2023.html", url: true},
		{in: "https://example.edu/page?a=b", typ: chunker.Material, ref: "https://example.edu/page?a=b", url: true},
		{in: "lecture=slides.pdf", fail: true},
		{in: "material=", fail: true},
	}
	for _, tc := range cases {
		got, err := parseSourceSpec(tc.in)
		if tc.fail {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.Type != tc.typ || got.Ref != tc.ref || got.isURL() != tc.url {
			t.Fatalf("%q: got %+v", tc.in, got)
		}
	}
}

func TestWriteResultCSV(t *testing.T) {
	res := pipeline.Result{Loop: loop.Result{Bank: bank.QuestionBank{Questions: []bank.Question{
		{ID: "Q1", Text: "Define a qubit.", Bloom: bank.Remember, CO: "CO1", Difficulty: bank.Easy, Marks: 2},
	}}}}
	var buf bytes.Buffer
	if err := writeResult(&buf, "csv", res); err != nil {
		t.Fatalf("writeResult: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 || !strings.Contains(rows[1][1], "qubit") {
		t.Fatalf("unexpected rows %v", rows)
	}
}
