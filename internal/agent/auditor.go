package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

// Auditor checks a bank against the context it was generated from. Cheap
// deterministic checks run first; the model then judges the red lines that
// need reading comprehension.
type Auditor struct {
	llm *Structured
}

func NewAuditor(s *Structured) *Auditor {
	return &Auditor{llm: s}
}

// Audit returns the merged report. passed is true only when both the
// deterministic checks and the model find nothing.
func (a *Auditor) Audit(ctx context.Context, qb bank.QuestionBank, snippets []retriever.Candidate, targets bank.Targets) (bank.AuditReport, error) {
	local := CheckGrounding(qb, snippets)

	var report bank.AuditReport
	if err := a.llm.Invoke(ctx, bank.KindAuditReport, auditorSystem, buildAuditorPrompt(qb, snippets, targets), &report); err != nil {
		return bank.AuditReport{}, err
	}
	if len(local) == 0 {
		if len(report.Issues) > 0 {
			report.Passed = false
		}
		return report, nil
	}

	seen := make(map[string]bool, len(report.Issues))
	for _, iss := range report.Issues {
		seen[iss.ID+"|"+string(iss.Category)] = true
	}
	for _, iss := range local {
		if seen[iss.ID+"|"+string(iss.Category)] {
			continue
		}
		report.Issues = append(report.Issues, iss)
	}
	report.Passed = false
	note := fmt.Sprintf("%d issue(s) found by citation and duplicate checks.", len(local))
	if strings.TrimSpace(report.Summary) == "" {
		report.Summary = note
	} else {
		report.Summary = strings.TrimSpace(report.Summary) + " " + note
	}
	return report, nil
}

// CheckGrounding flags questions without citations, citations to a
// (source, page) that is not in the supplied context, and questions whose
// text repeats an earlier one.
func CheckGrounding(qb bank.QuestionBank, snippets []retriever.Candidate) []bank.AuditIssue {
	pages := make(map[string]struct{}, len(snippets))
	for _, c := range snippets {
		pages[pageKey(c.Source, c.Page)] = struct{}{}
	}

	var issues []bank.AuditIssue
	texts := make(map[string]string, len(qb.Questions))
	for _, q := range qb.Questions {
		if len(q.Citations) == 0 {
			issues = append(issues, bank.AuditIssue{
				ID: q.ID, Category: bank.Hallucination,
				Detail: "question has no source citation",
			})
		}
		missing := make(map[string]struct{})
		for _, c := range q.Citations {
			k := pageKey(c.Source, c.Page)
			if _, ok := pages[k]; !ok {
				missing[k] = struct{}{}
			}
		}
		if len(missing) > 0 {
			issues = append(issues, bank.AuditIssue{
				ID: q.ID, Category: bank.Hallucination,
				Detail: "cites pages outside the supplied context: " + strings.Join(sortedKeys(missing), ", "),
			})
		}

		norm := strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
		if norm == "" {
			continue
		}
		if first, dup := texts[norm]; dup {
			issues = append(issues, bank.AuditIssue{
				ID: q.ID, Category: bank.Redundancy,
				Detail: "repeats question " + first,
			})
			continue
		}
		texts[norm] = q.ID
	}
	return issues
}

func pageKey(source string, page int) string {
	return fmt.Sprintf("%s p%d", source, page)
}
