package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

// MockCandidateSource is a test implementation of service.CandidateSource.
// It serves Results in order and repeats the last entry once they run out.
type MockCandidateSource struct {
	Err error
	// ByQuery, when set, takes precedence over Results for matching queries.
	ByQuery map[string]model.Candidates
	Results []model.Candidates
	queries []string
	mu      sync.Mutex
}

var _ service.CandidateSource = (*MockCandidateSource)(nil)

// Search returns the next canned result.
func (m *MockCandidateSource) Search(_ context.Context, query string, _ int, _ float64) (model.Candidates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, query)
	if m.Err != nil {
		return nil, m.Err
	}
	if c, ok := m.ByQuery[query]; ok {
		return c.Clone(), nil
	}
	if len(m.Results) == 0 {
		return model.Candidates{}, nil
	}

	i := len(m.queries) - 1
	if i >= len(m.Results) {
		i = len(m.Results) - 1
	}
	return m.Results[i].Clone(), nil
}

// Calls returns how many searches were made.
func (m *MockCandidateSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

// Queries returns the queries searched so far.
func (m *MockCandidateSource) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// MockQuestionGenerator is a test implementation of service.QuestionGenerator.
// Without scripted Steps it asks numbered free-text questions.
type MockQuestionGenerator struct {
	Err   error
	Steps []model.NextStep
	calls int
	mu    sync.Mutex
}

var _ service.QuestionGenerator = (*MockQuestionGenerator)(nil)

// NextQuestion returns the next scripted step.
func (m *MockQuestionGenerator) NextQuestion(_ context.Context, _ string, _ []model.QAPair, _ model.Candidates) (model.NextStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Err != nil {
		return model.NextStep{}, m.Err
	}
	if len(m.Steps) == 0 {
		return QuestionStep(fmt.Sprintf("Question %d?", m.calls)), nil
	}

	i := m.calls - 1
	if i >= len(m.Steps) {
		i = len(m.Steps) - 1
	}
	return m.Steps[i], nil
}

// Calls returns how many steps were requested.
func (m *MockQuestionGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// QuestionStep builds a free-text question step.
func QuestionStep(text string) model.NextStep {
	return model.NextStep{Question: &model.Question{Text: text, Type: model.QuestionFreeText}}
}

// ChoiceStep builds a multiple-choice question step.
func ChoiceStep(text string, options ...string) model.NextStep {
	return model.NextStep{Question: &model.Question{Text: text, Type: model.QuestionMultipleChoice, Options: options}}
}

// ConvergedStep builds a convergence signal.
func ConvergedStep(conclusion string, codes ...string) model.NextStep {
	return model.NextStep{Convergence: &model.Convergence{Conclusion: conclusion, Codes: codes}}
}
