package model

import (
	"fmt"
	"strings"
	"time"
)

// QuestionType identifies how a question expects to be answered.
type QuestionType string

// Question types offered by the question generator.
const (
	QuestionFreeText       QuestionType = "free_text"
	QuestionMultipleChoice QuestionType = "multiple_choice"
)

// IsValid reports whether t is a known question type.
func (t QuestionType) IsValid() bool {
	return t == QuestionFreeText || t == QuestionMultipleChoice
}

// Question is a follow-up question asked to narrow the candidate set.
type Question struct {
	Text    string       `json:"text"`
	Type    QuestionType `json:"type"`
	Options []string     `json:"options,omitempty"`
}

// Validate enforces that options are present iff the question is multiple choice.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("question text is required")
	}

	if !q.Type.IsValid() {
		return fmt.Errorf("unknown question type %q", q.Type)
	}

	switch q.Type {
	case QuestionMultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("multiple choice question needs at least 2 options, got %d", len(q.Options))
		}
		for i, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				return fmt.Errorf("option %d is empty", i)
			}
		}
	case QuestionFreeText:
		if len(q.Options) > 0 {
			return fmt.Errorf("free text question must not carry options")
		}
	}

	return nil
}

// HasOption reports whether answer matches one of the offered options, ignoring case.
func (q *Question) HasOption(answer string) bool {
	answer = strings.TrimSpace(answer)
	for _, opt := range q.Options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return true
		}
	}
	return false
}

// Matches reports whether text refers to this question.
func (q *Question) Matches(text string) bool {
	return strings.EqualFold(strings.TrimSpace(q.Text), strings.TrimSpace(text))
}

// Clone returns a deep copy of the question.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	clone := *q
	if q.Options != nil {
		clone.Options = append([]string(nil), q.Options...)
	}
	return &clone
}

// QAPair records one answered question.
type QAPair struct {
	AnsweredAt time.Time `json:"answered_at"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
}

// Convergence is the question generator's signal that no further question is useful.
type Convergence struct {
	// Conclusion is the generator's free-text justification, if any.
	Conclusion string `json:"conclusion,omitempty"`
	// Codes lists the codes the generator considers most likely.
	Codes []string `json:"codes,omitempty"`
}

// NextStep is the question generator's answer: exactly one of Question or Convergence is set.
type NextStep struct {
	Question    *Question    `json:"question,omitempty"`
	Convergence *Convergence `json:"convergence,omitempty"`
}

// Converged reports whether the step is a convergence signal.
func (s NextStep) Converged() bool {
	return s.Convergence != nil
}

// Validate ensures the step carries exactly one valid variant.
func (s NextStep) Validate() error {
	switch {
	case s.Question != nil && s.Convergence != nil:
		return fmt.Errorf("step carries both a question and a convergence signal")
	case s.Question != nil:
		return s.Question.Validate()
	case s.Convergence != nil:
		return nil
	default:
		return fmt.Errorf("step carries neither a question nor a convergence signal")
	}
}
