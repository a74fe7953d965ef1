// Package export renders a finished bank as CSV for spreadsheets and as a
// self-contained HTML report.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"id", "question_text", "bloom_level", "co_mapping", "difficulty",
	"marks", "answer_key", "detailed_rubric", "source_citation",
}

// FormatCitations renders citations as "source pPAGE" joined by "; ".
func FormatCitations(cs []bank.Citation) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, fmt.Sprintf("%s p%d", c.Source, c.Page))
	}
	return strings.Join(parts, "; ")
}

// WriteCSV writes one row per question under the Columns header.
func WriteCSV(w io.Writer, qb bank.QuestionBank) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, q := range qb.Questions {
		row := []string{
			q.ID,
			q.Text,
			string(q.Bloom),
			q.CO,
			string(q.Difficulty),
			strconv.Itoa(q.Marks),
			q.AnswerKey,
			q.Rubric,
			FormatCitations(q.Citations),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write question %s: %w", q.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
