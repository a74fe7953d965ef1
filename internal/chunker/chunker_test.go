package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func samplePages() []Page {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "Grover's search uses an oracle and amplitude amplification, iteration %d. ", i)
		fmt.Fprintf(&b, "The Bloch sphere gives a geometric picture of a qubit état %d!\n", i)
		if i%3 == 2 {
			b.WriteString("\n\n\n")
		}
	}
	return []Page{
		{Number: 1, Text: b.String()},
		{Number: 2, Text: "   \n\t "},
		{Number: 3, Text: strings.Repeat("unbroken", 60)},
	}
}

func TestNormalize(t *testing.T) {
	in := "  a  \t b\r\n\n\n\n\nc  "
	if got, want := Normalize(in), "a b\n\nc"; got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}

func TestSplitSkipsEmptyPagesAndNumbersAcrossDocument(t *testing.T) {
	pages := []Page{{Number: 1, Text: "Hello"}, {Number: 2, Text: " \n "}, {Number: 3, Text: "World"}}
	chunks, err := Split(pages, "notes.pdf", 100, 10, Outcomes)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ID != "notes.pdf:p1:c1" || chunks[1].ID != "notes.pdf:p3:c2" {
		t.Fatalf("unexpected ids: %s, %s", chunks[0].ID, chunks[1].ID)
	}
	if chunks[1].SourceType != Outcomes || chunks[1].Page != 3 {
		t.Fatalf("unexpected provenance: %+v", chunks[1])
	}
}

func TestSplitBoundsAndReconstructs(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{100, 20},
		{50, 0},
		{64, 63},
		{1000, 200},
		{7, 3},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("size%d_overlap%d", tc.size, tc.overlap), func(t *testing.T) {
			pages := samplePages()
			chunks, err := Split(pages, "qc.pdf", tc.size, tc.overlap, Material)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			seen := map[string]bool{}
			rebuilt := map[int]string{}
			prevEnd := map[int]int{}
			for _, c := range chunks {
				if n := len([]rune(c.Text)); n > tc.size {
					t.Fatalf("chunk %s has %d runes, limit %d", c.ID, n, tc.size)
				}
				if seen[c.ID] {
					t.Fatalf("duplicate id %s", c.ID)
				}
				seen[c.ID] = true

				end, ok := prevEnd[c.Page]
				if !ok {
					rebuilt[c.Page] = c.Text
				} else {
					repeated := end - c.Start
					if repeated < 0 || repeated > tc.overlap {
						t.Fatalf("chunk %s repeats %d runes, overlap %d", c.ID, repeated, tc.overlap)
					}
					rebuilt[c.Page] += string([]rune(c.Text)[repeated:])
				}
				prevEnd[c.Page] = c.End
			}
			for _, p := range pages {
				want := Normalize(p.Text)
				if want == "" {
					if _, ok := rebuilt[p.Number]; ok {
						t.Fatalf("empty page %d produced chunks", p.Number)
					}
					continue
				}
				if rebuilt[p.Number] != want {
					t.Fatalf("page %d did not reconstruct", p.Number)
				}
			}
		})
	}
}

func TestSplitIsStable(t *testing.T) {
	a, err := Split(samplePages(), "qc.pdf", 120, 30, Material)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	b, err := Split(samplePages(), "qc.pdf", 120, 30, Material)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	text := strings.Repeat("a", 40) + ".\n\n" + strings.Repeat("b", 40)
	chunks, err := Split([]Page{{Number: 1, Text: text}}, "s", 60, 0, Material)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, ".\n\n") {
		t.Fatalf("first chunk should end at the paragraph break, got %q", chunks[0].Text)
	}
	if chunks[1].Text != strings.Repeat("b", 40) {
		t.Fatalf("unexpected second chunk %q", chunks[1].Text)
	}
}

func TestSplitOverlapStartsOnWord(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi rho sigma"
	chunks, err := Split([]Page{{Number: 1, Text: text}}, "s", 30, 10, Material)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for _, c := range chunks[1:] {
		if c.Text[0] == ' ' {
			t.Fatalf("chunk %s starts with whitespace: %q", c.ID, c.Text)
		}
		if c.Start > 0 && text[c.Start-1] != ' ' {
			t.Fatalf("chunk %s starts mid-word: %q", c.ID, c.Text)
		}
	}
}

func TestSplitRejectsBadParams(t *testing.T) {
	pages := []Page{{Number: 1, Text: "x"}}
	if _, err := Split(pages, "", 10, 0, Material); err == nil {
		t.Fatalf("expected error for empty source")
	}
	if _, err := Split(pages, "s", 0, 0, Material); err == nil {
		t.Fatalf("expected error for zero size")
	}
	if _, err := Split(pages, "s", 10, 10, Material); err == nil {
		t.Fatalf("expected error for overlap == size")
	}
}

func TestParseSourceType(t *testing.T) {
	for in, want := range map[string]SourceType{"": Material, "Outcomes": Outcomes, " sample_paper ": SamplePaper} {
		got, err := ParseSourceType(in)
		if err != nil || got != want {
			t.Fatalf("ParseSourceType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSourceType("slides"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
