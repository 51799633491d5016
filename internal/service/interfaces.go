// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

// CandidateSource ranks HS codes against a free-text query.
// Results must be sorted by descending similarity and exclude scores below threshold.
type CandidateSource interface {
	Search(ctx context.Context, query string, topK int, threshold float64) (model.Candidates, error)
}

// QuestionGenerator decides the next step of the question loop.
type QuestionGenerator interface {
	NextQuestion(ctx context.Context, description string, history []model.QAPair, candidates model.Candidates) (model.NextStep, error)
}

// QueryRequest carries everything a deriver may use to build a search query.
type QueryRequest struct {
	Description string
	History     []model.QAPair
	// Previous holds the candidates of the last search, when there was one.
	Previous model.Candidates
	// Irrelevant is set when Previous was judged unrelated to the product.
	Irrelevant bool
}

// QueryDeriver turns a session's description and answers into a search query.
type QueryDeriver interface {
	DeriveQuery(ctx context.Context, req QueryRequest) (string, error)
}

// SessionStore persists classification sessions keyed by session ID.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*model.Session, error)
}

// ProductStore persists finalized products.
type ProductStore interface {
	SaveProduct(ctx context.Context, product *model.FinalProduct) error
	GetProduct(ctx context.Context, productID string) (*model.FinalProduct, error)
	ListProducts(ctx context.Context) ([]*model.FinalProduct, error)
}

// VerificationStore persists verification sessions.
// Update must fail with a not-found error when the session was deleted.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *model.VerificationSession) error
	GetVerification(ctx context.Context, id string) (*model.VerificationSession, error)
	UpdateVerification(ctx context.Context, v *model.VerificationSession) error
	DeleteVerification(ctx context.Context, id string) error
	ListVerifications(ctx context.Context) ([]*model.VerificationSession, error)
}

// CallStatus is a verification agent's view of a call.
type CallStatus struct {
	Status     model.VerificationStatus
	Outcome    model.VerificationOutcome
	Error      string
	Transcript []model.TranscriptEntry
}

// VerificationAgent places and reports on verification calls.
type VerificationAgent interface {
	Dial(ctx context.Context, product model.FinalProduct) (callID string, err error)
	Status(ctx context.Context, callID string) (CallStatus, error)
	Hangup(ctx context.Context, callID string) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
