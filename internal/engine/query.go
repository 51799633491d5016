package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/Veraticus/hscode-copilot/internal/service"
)

const (
	maxContextAnswerWords = 10
	maxProductAnswers     = 2
)

var (
	containerPattern = regexp.MustCompile(`\s+in\s+(a|an)\s+(glass|plastic|metal|wooden|ceramic)?\s*(bottle|jar|container|can|box|bag|package)`)
	containerSplit   = regexp.MustCompile(`\s+in\s+(a|an)\s+`)
	packagingPattern = regexp.MustCompile(`\b(bottle|glass|container|jar|package|packaging)\b`)
)

// ContextQueryBuilder derives search queries locally from the description and answers.
// "X in a glass bottle" descriptions search for X; otherwise short answers that add new
// words are appended to the description.
type ContextQueryBuilder struct{}

var _ service.QueryDeriver = ContextQueryBuilder{}

// DeriveQuery never fails.
func (ContextQueryBuilder) DeriveQuery(_ context.Context, req service.QueryRequest) (string, error) {
	description := strings.TrimSpace(req.Description)
	lower := strings.ToLower(description)

	if containerPattern.MatchString(lower) {
		return productQuery(lower, req), nil
	}
	return contextQuery(description, req), nil
}

func productQuery(lower string, req service.QueryRequest) string {
	core := strings.TrimSpace(containerSplit.Split(lower, 2)[0])

	var extra []string
	for _, qa := range req.History {
		answer := strings.ToLower(strings.TrimSpace(qa.Answer))
		if len(answer) <= 1 || packagingPattern.MatchString(answer) || strings.Contains(core, answer) {
			continue
		}
		extra = append(extra, answer)
		if len(extra) == maxProductAnswers {
			break
		}
	}

	if len(extra) == 0 {
		return core
	}
	return core + " " + strings.Join(extra, " ")
}

func contextQuery(description string, req service.QueryRequest) string {
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(description)) {
		seen[w] = true
	}

	parts := []string{description}
	for _, qa := range req.History {
		answer := strings.TrimSpace(qa.Answer)
		if len(answer) <= 1 {
			continue
		}
		words := strings.Fields(strings.ToLower(answer))
		if len(words) > maxContextAnswerWords {
			continue
		}

		novel := false
		for _, w := range words {
			if !seen[w] {
				novel = true
				break
			}
		}
		if !novel {
			continue
		}

		parts = append(parts, answer)
		for _, w := range words {
			seen[w] = true
		}
	}

	return strings.Join(parts, " ")
}

// QueryDeriverFunc adapts a function to service.QueryDeriver.
type QueryDeriverFunc func(ctx context.Context, req service.QueryRequest) (string, error)

// DeriveQuery calls f.
func (f QueryDeriverFunc) DeriveQuery(ctx context.Context, req service.QueryRequest) (string, error) {
	return f(ctx, req)
}
