package agent

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

// Planner splits a topic into weighted subtopics and classifies the course
// subject, both from syllabus context only.
type Planner struct {
	planner    *Structured
	classifier *Structured
}

// NewPlanner builds a planner. classify may be nil, in which case plan is
// used for subject classification too.
func NewPlanner(plan, classify *Structured) *Planner {
	if classify == nil {
		classify = plan
	}
	return &Planner{planner: plan, classifier: classify}
}

// Plan returns the subtopics of topic the syllabus supports. A thin syllabus
// yields fewer subtopics, possibly none.
func (p *Planner) Plan(ctx context.Context, topic string, syllabus []retriever.Candidate) (bank.TopicPlan, error) {
	var plan bank.TopicPlan
	if err := p.planner.Invoke(ctx, bank.KindTopicPlan, plannerSystem, buildPlannerPrompt(topic, syllabus), &plan); err != nil {
		return bank.TopicPlan{}, err
	}
	if strings.TrimSpace(plan.Topic) == "" {
		plan.Topic = topic
	}
	for i := range plan.Subtopics {
		if strings.TrimSpace(plan.Subtopics[i].Query) == "" {
			plan.Subtopics[i].Query = plan.Subtopics[i].Name
		}
	}
	return plan, nil
}

// ClassifySubject labels the course subject and recommends a style mix.
func (p *Planner) ClassifySubject(ctx context.Context, syllabus []retriever.Candidate) (bank.SubjectProfile, error) {
	var prof bank.SubjectProfile
	if err := p.classifier.Invoke(ctx, bank.KindSubjectProfile, subjectSystem, buildSubjectPrompt(syllabus), &prof); err != nil {
		return bank.SubjectProfile{}, err
	}
	if prof.RecommendedMix.IsZero() {
		prof.RecommendedMix = bank.DefaultMix()
	}
	return prof, nil
}
