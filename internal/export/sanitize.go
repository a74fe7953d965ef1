package export

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	reportPolicyOnce sync.Once
	reportPolicy     *bluemonday.Policy
)

// ReportPolicy allows the markup goldmark emits for a report (headings,
// tables, lists, emphasis, code) and nothing that can run script.
func ReportPolicy() *bluemonday.Policy {
	reportPolicyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
		p.AllowAttrs("class").OnElements("table", "section", "span")
		p.AllowURLSchemes("http", "https")
		p.RequireParseableURLs(true)
		reportPolicy = p
	})
	return reportPolicy
}

// SanitizeReport cleans rendered report HTML.
func SanitizeReport(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return ReportPolicy().Sanitize(s)
}
