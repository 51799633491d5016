package engine

import (
	"slices"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

// Convergence reasons recorded on sessions.
const (
	ReasonIterationCap    = "iteration_cap"
	ReasonSingleCandidate = "single_candidate"
	ReasonStableTop       = "stable_top"
	ReasonGenerator       = "generator"
)

// ConvergencePolicy decides when the question loop stops without asking the question generator.
type ConvergencePolicy struct {
	// MaxIterations bounds the number of answered questions.
	MaxIterations int
	// SingleCandidateScore is the score a lone candidate must exceed.
	SingleCandidateScore float64
	// StableRounds is how many consecutive rounds the top codes must repeat; 0 disables the rule.
	StableRounds int
	// StableTopN is how many leading codes are compared between rounds.
	StableTopN int
}

// DefaultConvergencePolicy returns a cap of 6 questions, a 0.85 lone-candidate score and
// a single repeat of the top 3 codes.
func DefaultConvergencePolicy() ConvergencePolicy {
	return ConvergencePolicy{
		MaxIterations:        6,
		SingleCandidateScore: 0.85,
		StableRounds:         1,
		StableTopN:           3,
	}
}

// track updates the session's stability counter for a new candidate set and
// remembers the previous round's top codes.
func (p ConvergencePolicy) track(s *model.Session, previous, current model.Candidates) {
	n := p.topN()
	prevTop := previous.TopN(n).Codes()
	currTop := current.TopN(n).Codes()

	if len(prevTop) >= n && len(currTop) >= n && slices.Equal(prevTop, currTop) {
		s.StableRounds++
	} else {
		s.StableRounds = 0
	}
	s.PreviousTop = prevTop
}

// Evaluate reports whether the session has converged and why.
func (p ConvergencePolicy) Evaluate(s *model.Session) (string, bool) {
	if p.MaxIterations > 0 && s.Iteration >= p.MaxIterations {
		return ReasonIterationCap, true
	}

	if len(s.Candidates) == 1 && s.Candidates[0].SimilarityScore > p.SingleCandidateScore {
		return ReasonSingleCandidate, true
	}

	if p.StableRounds > 0 && s.StableRounds >= p.StableRounds {
		return ReasonStableTop, true
	}

	return "", false
}

func (p ConvergencePolicy) topN() int {
	if p.StableTopN <= 0 {
		return 3
	}
	return p.StableTopN
}
