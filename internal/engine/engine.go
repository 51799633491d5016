// Package engine implements the classification session state machine: it drives the
// ask, answer and re-rank loop against the candidate source and question generator,
// decides convergence and promotes the chosen candidate to a final product.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

// Config holds the tunables of the classification loop.
type Config struct {
	Thresholds    model.Thresholds
	Convergence   ConvergencePolicy
	TopK          int
	Threshold     float64
	Alternatives  int
	StrictChoices bool
	// AutoFinalize finalizes on the top candidate as soon as the loop converges.
	AutoFinalize bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TopK:         20,
		Threshold:    0.6,
		Alternatives: 3,
		Thresholds:   model.DefaultThresholds(),
		Convergence:  DefaultConvergencePolicy(),
	}
}

// Deps are the collaborators and stores the engine is built from.
type Deps struct {
	Sessions  service.SessionStore
	Products  service.ProductStore
	Source    service.CandidateSource
	Generator service.QuestionGenerator
	// Deriver defaults to ContextQueryBuilder.
	Deriver  service.QueryDeriver
	Recorder Recorder
	Logger   *slog.Logger
}

// Recorder receives operation outcomes, typically for metrics.
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	SessionConverged(reason string)
	SessionFinalized(status model.ProductStatus)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error, time.Duration) {}
func (nopRecorder) SessionConverged(string)                       {}
func (nopRecorder) SessionFinalized(model.ProductStatus)          {}

// Engine orchestrates classification sessions. It is safe for concurrent use;
// operations on the same session are serialized.
type Engine struct {
	sessions  service.SessionStore
	products  service.ProductStore
	source    service.CandidateSource
	generator service.QuestionGenerator
	deriver   service.QueryDeriver
	recorder  Recorder
	locks     *common.KeyedMutex
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	config    Config
}

// New creates an engine from its dependencies.
func New(deps Deps, config Config) (*Engine, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("%w: session store is required", common.ErrMissingConfig)
	case deps.Products == nil:
		return nil, fmt.Errorf("%w: product store is required", common.ErrMissingConfig)
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: candidate source is required", common.ErrMissingConfig)
	case deps.Generator == nil:
		return nil, fmt.Errorf("%w: question generator is required", common.ErrMissingConfig)
	}

	if err := config.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("%w: search threshold must be between 0 and 1, got %.2f", common.ErrInvalidConfig, config.Threshold)
	}
	if config.Convergence.MaxIterations <= 0 {
		return nil, fmt.Errorf("%w: max iterations must be positive", common.ErrInvalidConfig)
	}

	deriver := deps.Deriver
	if deriver == nil {
		deriver = ContextQueryBuilder{}
	}
	var recorder Recorder = nopRecorder{}
	if deps.Recorder != nil {
		recorder = deps.Recorder
	}

	return &Engine{
		sessions:  deps.Sessions,
		products:  deps.Products,
		source:    deps.Source,
		generator: deps.Generator,
		deriver:   deriver,
		recorder:  recorder,
		locks:     common.NewKeyedMutex(),
		logger:    common.LoggerOrDefault(deps.Logger),
		now:       time.Now,
		newID:     uuid.NewString,
		config:    config,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Start creates a session for description and obtains its first question.
// On a collaborator failure the session is kept in the error state and returned
// alongside the error so the caller can restart it.
func (e *Engine) Start(ctx context.Context, description string) (session *model.Session, err error) {
	defer e.observe("start", time.Now(), &err)

	description = strings.TrimSpace(description)
	if description == "" {
		return nil, common.Validationf("product description is required")
	}

	now := e.now()
	session = &model.Session{
		ID:                 e.newID(),
		ProductDescription: description,
		State:              model.StateStarting,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	unlock, err := e.locks.Lock(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	e.logger.Info("Classification session started",
		"session_id", session.ID,
		"description", description)

	return e.begin(ctx, session)
}

// Restart resets a session in the starting or error state and asks for a fresh first question.
func (e *Engine) Restart(ctx context.Context, sessionID string) (session *model.Session, err error) {
	defer e.observe("restart", time.Now(), &err)

	unlock, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !current.State.Resettable() {
		return nil, common.InvalidStatef("session %s is %s and cannot be restarted", sessionID, current.State)
	}

	fresh := &model.Session{
		ID:                 current.ID,
		ProductDescription: current.ProductDescription,
		State:              model.StateStarting,
		CreatedAt:          current.CreatedAt,
		UpdatedAt:          e.now(),
	}
	if err := e.sessions.Update(ctx, fresh); err != nil {
		return nil, err
	}

	e.logger.Info("Classification session restarted", "session_id", sessionID)

	return e.begin(ctx, fresh)
}

// begin runs the first search and question for a session in the starting state.
func (e *Engine) begin(ctx context.Context, session *model.Session) (*model.Session, error) {
	working := session.Clone()
	working.State = model.StateAnalyzing

	outcome, err := e.rank(ctx, working)
	if err != nil {
		return e.fail(ctx, session, err)
	}

	if err := e.next(ctx, working, outcome); err != nil {
		return e.fail(ctx, session, err)
	}

	working.UpdatedAt = e.now()
	if err := e.sessions.Update(ctx, working); err != nil {
		return nil, err
	}

	return working.Clone(), nil
}

// Get returns a copy of the session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	return e.sessions.Get(ctx, sessionID)
}

// List returns all live sessions, most recently updated first.
func (e *Engine) List(ctx context.Context) ([]*model.Session, error) {
	return e.sessions.List(ctx)
}

// DeleteSession removes a session once no operation holds it. It never fails observably;
// store errors are logged.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) {
	start := time.Now()

	unlock, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		common.LogWarn(e.logger, err, "Gave up waiting to delete session", common.Fields{"session_id": sessionID})
		e.recorder.ObserveOperation("delete", err, time.Since(start))
		return
	}
	defer unlock()

	err = e.sessions.Delete(ctx, sessionID)
	if err != nil {
		common.LogWarn(e.logger, err, "Failed to delete session", common.Fields{"session_id": sessionID})
	} else {
		e.logger.Debug("Session deleted", "session_id", sessionID)
	}
	e.recorder.ObserveOperation("delete", err, time.Since(start))
}

// fail marks the stored session as errored, keeping its last good data.
// Cancellation leaves the session untouched.
func (e *Engine) fail(ctx context.Context, original *model.Session, cause error) (*model.Session, error) {
	if errors.Is(cause, context.Canceled) {
		return original.Clone(), cause
	}

	failed := original.Clone()
	failed.State = model.StateError
	failed.ErrorMessage = cause.Error()
	failed.UpdatedAt = e.now()

	if err := e.sessions.Update(context.WithoutCancel(ctx), failed); err != nil {
		common.LogWarn(e.logger, err, "Failed to record session error", common.Fields{
			"session_id": original.ID,
			"cause":      cause.Error(),
		})
	}

	common.LogError(e.logger, cause, "Classification session failed", common.Fields{
		"session_id": original.ID,
		"iteration":  original.Iteration,
	})

	return failed, cause
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	e.recorder.ObserveOperation(op, *err, time.Since(start))
}
