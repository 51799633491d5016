package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

const (
	generatorName = "question generator"
	deriverName   = "query deriver"

	queryMaxTokens = 100
)

// Generator asks a language model for the next question and for search queries.
type Generator struct {
	client *chatClient
	logger *slog.Logger
}

var (
	_ service.QuestionGenerator = (*Generator)(nil)
	_ service.QueryDeriver      = (*Generator)(nil)
)

// NewGenerator creates a generator for the configured provider.
func NewGenerator(cfg Config, logger *slog.Logger) (*Generator, error) {
	client, err := newChatClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Generator{client: client, logger: common.LoggerOrDefault(logger)}, nil
}

// NextQuestion returns either the next question or a convergence signal.
// Unparseable and truncated responses are upstream errors, never replaced by a stock question.
func (g *Generator) NextQuestion(ctx context.Context, description string, history []model.QAPair, candidates model.Candidates) (model.NextStep, error) {
	content, err := g.client.complete(ctx, completionRequest{
		system:   questionSystemPrompt,
		prompt:   buildQuestionPrompt(description, history, candidates),
		jsonMode: true,
	})
	if err != nil {
		return model.NextStep{}, common.NewUpstreamError(generatorName, err)
	}

	step, err := parseNextStep(content)
	if err != nil {
		g.logger.Debug("Unusable question generator response", "content", content, "error", err)
		return model.NextStep{}, common.NewUpstreamError(generatorName, err)
	}

	if step.Converged() {
		g.logger.Debug("Question generator converged",
			"codes", strings.Join(step.Convergence.Codes, ","),
			"history_length", len(history))
	}

	return step, nil
}

// DeriveQuery asks the model to rewrite the session context as a search query.
func (g *Generator) DeriveQuery(ctx context.Context, req service.QueryRequest) (string, error) {
	if strings.TrimSpace(req.Description) == "" {
		return "", common.NewUpstreamError(deriverName, fmt.Errorf("empty product description"))
	}

	content, err := g.client.complete(ctx, completionRequest{
		system:    querySystemPrompt,
		prompt:    buildQueryPrompt(req),
		maxTokens: queryMaxTokens,
	})
	if err != nil {
		return "", common.NewUpstreamError(deriverName, err)
	}

	query, err := cleanQuery(content)
	if err != nil {
		return "", common.NewUpstreamError(deriverName, err)
	}

	g.logger.Debug("Derived search query",
		"query", query,
		"irrelevant_retry", req.Irrelevant)

	return query, nil
}
