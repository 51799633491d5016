package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

const (
	sourceName    = "candidate source"
	generatorName = "question generator"
	deriverName   = "query deriver"
)

// SubmitResult is the outcome of one answered question.
type SubmitResult struct {
	Session *model.Session
	// Question is the next pending question; nil once converged.
	Question *model.Question
	// Product is set when the engine finalized the session on convergence.
	Product           *model.FinalProduct
	ConvergenceReason string
	Candidates        model.Candidates
	Converged         bool
	// CandidatesRelevant is false when the candidates fall outside the chapters the
	// description implies even after a retry query.
	CandidatesRelevant bool
	QueryRetried       bool
}

type rankOutcome struct {
	relevant bool
	retried  bool
}

// SubmitAnswer records the answer to the pending question, re-ranks candidates with a
// freshly derived query and either stores the next question or converges.
// State changes are all or nothing: on failure the session keeps its previous data
// and is marked as errored.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, question, answer string) (result SubmitResult, err error) {
	defer e.observe("answer", time.Now(), &err)

	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return SubmitResult{}, common.Validationf("answer is required")
	}
	if question == "" {
		return SubmitResult{}, common.Validationf("question is required")
	}

	unlock, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	defer unlock()

	current, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := e.checkAnswerable(current, question, answer); err != nil {
		return SubmitResult{}, err
	}

	working := current.Clone()
	working.State = model.StateAnalyzing
	working.QAHistory = append(working.QAHistory, model.QAPair{
		Question:   current.PendingQuestion.Text,
		Answer:     answer,
		AnsweredAt: e.now(),
	})
	working.Iteration++
	working.PendingQuestion = nil

	outcome, err := e.rank(ctx, working)
	if err == nil {
		err = e.next(ctx, working, outcome)
	}
	if err != nil {
		failed, err := e.fail(ctx, current, err)
		return SubmitResult{Session: failed}, err
	}

	working.UpdatedAt = e.now()

	var product *model.FinalProduct
	if working.State == model.StateConverged && e.config.AutoFinalize && len(working.Candidates) > 0 {
		var done *model.Session
		product, done, err = e.finalizeLocked(ctx, working, FinalizeOptions{})
		if err != nil {
			failed, err := e.fail(ctx, current, err)
			return SubmitResult{Session: failed}, err
		}
		working = done
	} else if err := e.sessions.Update(ctx, working); err != nil {
		return SubmitResult{}, err
	}

	e.logger.Info("Answer recorded",
		"session_id", sessionID,
		"iteration", working.Iteration,
		"candidate_count", len(working.Candidates),
		"state", working.State)

	return SubmitResult{
		Session:            working.Clone(),
		Question:           working.PendingQuestion.Clone(),
		Product:            product,
		ConvergenceReason:  working.ConvergenceReason,
		Candidates:         working.Candidates.Clone(),
		Converged:          working.State == model.StateConverged || working.State == model.StateCompleted,
		CandidatesRelevant: outcome.relevant,
		QueryRetried:       outcome.retried,
	}, nil
}

func (e *Engine) checkAnswerable(s *model.Session, question, answer string) error {
	switch s.State {
	case model.StateCompleted:
		return common.InvalidStatef("session %s is already finalized", s.ID)
	case model.StateError:
		return common.InvalidStatef("session %s failed and must be restarted", s.ID)
	case model.StateConverged:
		return common.InvalidStatef("session %s has converged and can only be finalized", s.ID)
	}

	pending := s.PendingQuestion
	if pending == nil {
		return common.Validationf("session %s has no pending question", s.ID)
	}
	if !pending.Matches(question) {
		return common.Validationf("question does not match the pending question %q", pending.Text)
	}

	if pending.Type == model.QuestionMultipleChoice && !pending.HasOption(answer) {
		if e.config.StrictChoices {
			return common.Validationf("answer %q is not one of the offered options: %s", answer, strings.Join(pending.Options, ", "))
		}
		e.logger.Warn("Answer is not one of the offered options",
			"session_id", s.ID,
			"answer", answer,
			"options", strings.Join(pending.Options, ", "))
	}

	return nil
}

// rank derives a query from the session, searches, and retries once with a fresh query
// when the results look unrelated to the product. It replaces the session's candidates.
func (e *Engine) rank(ctx context.Context, s *model.Session) (rankOutcome, error) {
	previous := s.Candidates
	req := service.QueryRequest{
		Description: s.ProductDescription,
		History:     s.QAHistory,
		Previous:    previous,
	}
	if len(previous) > 0 {
		req.Irrelevant = !CandidatesRelevant(s.ProductDescription, previous)
	}

	query, err := e.derive(ctx, req)
	if err != nil {
		return rankOutcome{}, err
	}

	candidates, err := e.search(ctx, query)
	if err != nil {
		return rankOutcome{}, err
	}

	outcome := rankOutcome{relevant: CandidatesRelevant(s.ProductDescription, candidates)}
	if len(candidates) > 0 && !outcome.relevant {
		req.Previous = candidates
		req.Irrelevant = true

		retryQuery, err := e.derive(ctx, req)
		if err != nil {
			return rankOutcome{}, err
		}

		if retryQuery != query {
			outcome.retried = true
			retried, err := e.search(ctx, retryQuery)
			if err != nil {
				return rankOutcome{}, err
			}
			if CandidatesRelevant(s.ProductDescription, retried) {
				candidates, query = retried, retryQuery
				outcome.relevant = true
			}
		}

		e.logger.Debug("Search results looked irrelevant",
			"session_id", s.ID,
			"retried", outcome.retried,
			"recovered", outcome.relevant)
	}

	e.config.Convergence.track(s, previous, candidates)
	s.Candidates = candidates
	s.SmartQuery = query

	return outcome, nil
}

func (e *Engine) derive(ctx context.Context, req service.QueryRequest) (string, error) {
	query, err := e.deriver.DeriveQuery(ctx, req)
	if err != nil {
		return "", common.NewUpstreamError(deriverName, err)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", common.NewUpstreamError(deriverName, fmt.Errorf("derived an empty search query"))
	}
	return query, nil
}

// search queries the candidate source and enforces its contract on the result.
func (e *Engine) search(ctx context.Context, query string) (model.Candidates, error) {
	candidates, err := e.source.Search(ctx, query, e.config.TopK, e.config.Threshold)
	if err != nil {
		return nil, common.NewUpstreamError(sourceName, err)
	}
	if err := candidates.Validate(); err != nil {
		return nil, common.NewUpstreamError(sourceName, err)
	}
	return candidates.AboveThreshold(e.config.Threshold), nil
}

// next decides what follows a ranking round: convergence, a clarification question,
// or the question generator's step.
func (e *Engine) next(ctx context.Context, s *model.Session, outcome rankOutcome) error {
	if s.Iteration > 0 {
		if reason, ok := e.config.Convergence.Evaluate(s); ok {
			if len(s.Candidates) == 0 {
				// nothing to finalize; the error state lets the caller restart
				return common.NewUpstreamError(sourceName,
					fmt.Errorf("no candidates found after %d questions", s.Iteration))
			}
			e.converge(s, reason, "")
			return nil
		}
	}

	if len(s.Candidates) == 0 {
		e.ask(s, clarificationQuestion(s.ProductDescription))
		return nil
	}

	step, err := e.generator.NextQuestion(ctx, s.ProductDescription, s.QAHistory, s.Candidates.Clone())
	if err != nil {
		return common.NewUpstreamError(generatorName, err)
	}
	if err := step.Validate(); err != nil {
		return common.NewUpstreamError(generatorName, fmt.Errorf("malformed step: %w", err))
	}

	if step.Converged() {
		if !outcome.relevant {
			// a conclusion drawn from unrelated candidates is not accepted
			e.ask(s, clarificationQuestion(s.ProductDescription))
			return nil
		}
		e.converge(s, ReasonGenerator, step.Convergence.Conclusion)
		return nil
	}

	e.ask(s, step.Question.Clone())
	return nil
}

func (e *Engine) ask(s *model.Session, q *model.Question) {
	s.State = model.StateQuestioning
	s.PendingQuestion = q
	s.ConvergenceReason = ""
	s.Conclusion = ""
}

func (e *Engine) converge(s *model.Session, reason, conclusion string) {
	s.State = model.StateConverged
	s.PendingQuestion = nil
	s.ConvergenceReason = reason
	s.Conclusion = conclusion

	e.recorder.SessionConverged(reason)
	e.logger.Info("Classification converged",
		"session_id", s.ID,
		"reason", reason,
		"iteration", s.Iteration,
		"candidate_count", len(s.Candidates))
}

func clarificationQuestion(description string) *model.Question {
	return &model.Question{
		Text: fmt.Sprintf("The search results don't seem to match your product '%s'. "+
			"Can you provide more specific details or use different terminology to describe your product?", description),
		Type: model.QuestionFreeText,
	}
}
