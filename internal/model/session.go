package model

import (
	"time"
)

// SessionState is the position of a classification session in its state machine.
type SessionState string

// Classification session states.
const (
	StateStarting    SessionState = "starting"
	StateQuestioning SessionState = "questioning"
	StateAnalyzing   SessionState = "analyzing"
	StateConverged   SessionState = "converged"
	StateCompleted   SessionState = "completed"
	StateError       SessionState = "error"
)

// SessionStatus is the coarse status reported to consumers.
type SessionStatus string

// Consumer-facing session statuses.
const (
	StatusActive    SessionStatus = "active"
	StatusConverged SessionStatus = "converged"
	StatusFinalized SessionStatus = "finalized"
	StatusError     SessionStatus = "error"
)

// Status maps the internal state onto the consumer-facing status.
func (s SessionState) Status() SessionStatus {
	switch s {
	case StateConverged:
		return StatusConverged
	case StateCompleted:
		return StatusFinalized
	case StateError:
		return StatusError
	default:
		return StatusActive
	}
}

// Resettable reports whether the state may be restarted in place.
func (s SessionState) Resettable() bool {
	return s == StateStarting || s == StateError
}

// Session holds one product's classification attempt.
type Session struct {
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	PendingQuestion    *Question    `json:"pending_question,omitempty"`
	ID                 string       `json:"session_id"`
	ProductDescription string       `json:"product_description"`
	SmartQuery         string       `json:"smart_query"`
	State              SessionState `json:"state"`
	ErrorMessage       string       `json:"error,omitempty"`
	ConvergenceReason  string       `json:"convergence_reason,omitempty"`
	Conclusion         string       `json:"conclusion,omitempty"`
	ProductID          string       `json:"product_id,omitempty"`
	Candidates         Candidates   `json:"candidates"`
	PreviousTop        []string     `json:"previous_top,omitempty"`
	QAHistory          []QAPair     `json:"qa_history"`
	Iteration          int          `json:"iteration"`
	StableRounds       int          `json:"stable_rounds"`
}

// Status returns the consumer-facing status of the session.
func (s *Session) Status() SessionStatus {
	return s.State.Status()
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	clone := *s
	clone.PendingQuestion = s.PendingQuestion.Clone()
	clone.Candidates = s.Candidates.Clone()
	if s.PreviousTop != nil {
		clone.PreviousTop = append([]string(nil), s.PreviousTop...)
	}
	if s.QAHistory != nil {
		clone.QAHistory = append([]QAPair(nil), s.QAHistory...)
	}

	return &clone
}
