// Package bank holds the question-bank domain model shared by the generator,
// auditor, loop controller and exporters, together with the JSON schemas that
// structured model output must satisfy.
package bank

type BloomLevel string

const (
	Remember   BloomLevel = "Remember"
	Understand BloomLevel = "Understand"
	Apply      BloomLevel = "Apply"
	Analyze    BloomLevel = "Analyze"
	Evaluate   BloomLevel = "Evaluate"
	Create     BloomLevel = "Create"
)

// BloomLevels lists the six levels in taxonomy order.
var BloomLevels = []BloomLevel{Remember, Understand, Apply, Analyze, Evaluate, Create}

type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Citation points a question at the page of the source that supports it.
type Citation struct {
	Source  string `json:"source"`
	Page    int    `json:"page"`
	Snippet string `json:"snippet"`
}

// Question is one item of a bank. Marks range from 1 to 20.
type Question struct {
	ID         string     `json:"id"`
	Text       string     `json:"question_text"`
	Bloom      BloomLevel `json:"bloom_level"`
	CO         string     `json:"co_mapping"`
	Difficulty Difficulty `json:"difficulty"`
	Marks      int        `json:"marks"`
	AnswerKey  string     `json:"answer_key"`
	Rubric     string     `json:"detailed_rubric"`
	Citations  []Citation `json:"source_citation"`
}

// QuestionBank is the generator output.
type QuestionBank struct {
	Course    string     `json:"course"`
	Questions []Question `json:"questions"`
}

type IssueCategory string

const (
	Hallucination  IssueCategory = "Hallucination"
	BloomAlignment IssueCategory = "BloomAlignment"
	Redundancy     IssueCategory = "Redundancy"
	Distribution   IssueCategory = "Distribution"
	Quantity       IssueCategory = "Quantity"
	Other          IssueCategory = "Other"
)

// AuditIssue is one red-line violation. ID names the offending question when known.
type AuditIssue struct {
	ID       string        `json:"id,omitempty"`
	Category IssueCategory `json:"category"`
	Detail   string        `json:"detail"`
}

// AuditReport is the auditor verdict on a bank.
type AuditReport struct {
	Passed  bool         `json:"passed"`
	Issues  []AuditIssue `json:"issues"`
	Summary string       `json:"summary"`
}

// HasCategory reports whether any issue has the given category.
func (r AuditReport) HasCategory(c IssueCategory) bool {
	for _, iss := range r.Issues {
		if iss.Category == c {
			return true
		}
	}
	return false
}

// Subtopic is a weighted slice of a topic with the query used to retrieve it.
type Subtopic struct {
	Name       string `json:"name"`
	Importance int    `json:"importance"`
	Why        string `json:"why"`
	Query      string `json:"query"`
}

// TopicPlan is the planner output.
type TopicPlan struct {
	Topic     string     `json:"topic"`
	Subtopics []Subtopic `json:"subtopics"`
	Notes     string     `json:"notes"`
}

// SubjectProfile is the classifier output for a course.
type SubjectProfile struct {
	Subject             string   `json:"subject"`
	Rationale           string   `json:"rationale"`
	RecommendedMix      StyleMix `json:"recommended_mix"`
	CommonQuestionTypes []string `json:"common_question_types"`
}
