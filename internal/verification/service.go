// Package verification runs the optional customs verification call for a finalized
// product. Calls are placed by a service.VerificationAgent and observed by polling.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

const agentName = "verification agent"

// Recorder receives verification metrics.
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	VerificationFinished(status model.VerificationStatus, outcome model.VerificationOutcome)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error, time.Duration)                            {}
func (nopRecorder) VerificationFinished(model.VerificationStatus, model.VerificationOutcome) {}

// PollResult is the state observed by one poll.
type PollResult struct {
	Session *model.VerificationSession
	// Changed is false when the poll hit a terminal session and returned the cached state.
	Changed bool
}

// Terminal reports whether polling can stop.
func (r PollResult) Terminal() bool {
	return r.Session != nil && r.Session.Status.IsTerminal()
}

// Service manages verification sessions.
type Service struct {
	store    service.VerificationStore
	agent    service.VerificationAgent
	recorder Recorder
	logger   *slog.Logger
	locks    *common.KeyedMutex
	now      func() time.Time
	newID    func() string
}

// NewService creates a verification service. recorder and logger may be nil.
func NewService(store service.VerificationStore, agent service.VerificationAgent, recorder Recorder, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: verification store", common.ErrMissingConfig)
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: verification agent", common.ErrMissingConfig)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Service{
		store:    store,
		agent:    agent,
		recorder: recorder,
		logger:   common.LoggerOrDefault(logger),
		locks:    common.NewKeyedMutex(),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Start places a verification call for product and returns the new session in the
// starting state. When the agent refuses the call the session is stored as failed
// and returned with the error so it can be retried.
func (s *Service) Start(ctx context.Context, product model.FinalProduct) (v *model.VerificationSession, err error) {
	defer s.observe("verify_start", time.Now(), &err)

	if err := product.Validate(); err != nil {
		return nil, common.Validationf("%v", err)
	}
	return s.start(ctx, product, "")
}

func (s *Service) start(ctx context.Context, product model.FinalProduct, retryOf string) (*model.VerificationSession, error) {
	now := s.now()
	v := &model.VerificationSession{
		ID:         s.newID(),
		RetryOf:    retryOf,
		Product:    product.Clone(),
		Status:     model.VerificationStarting,
		Transcript: []model.TranscriptEntry{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	callID, dialErr := s.agent.Dial(ctx, product)
	if dialErr != nil {
		dialErr = common.NewUpstreamError(agentName, dialErr)
		v.Status = model.VerificationFailed
		v.ErrorMessage = dialErr.Error()
	} else {
		v.CallID = callID
	}

	if err := s.store.CreateVerification(context.WithoutCancel(ctx), v); err != nil {
		return nil, fmt.Errorf("failed to store verification: %w", err)
	}

	if dialErr != nil {
		s.recorder.VerificationFinished(v.Status, v.Outcome)
		common.LogError(s.logger, dialErr, "Verification call could not be placed", common.Fields{
			"verification_id": v.ID,
			"product_id":      product.ID,
		})
		return v.Clone(), dialErr
	}

	s.logger.Info("Verification started",
		"verification_id", v.ID,
		"call_id", callID,
		"product_id", product.ID,
		"hs_code", product.HSCode,
		"retry_of", retryOf)

	return v.Clone(), nil
}

// Poll fetches the call's current status and full transcript from the agent and
// replaces the cached copy. Polling a terminal session returns the cached state
// without contacting the agent. A session deleted while the poll was in flight
// yields a not-found error.
func (s *Service) Poll(ctx context.Context, id string) (result PollResult, err error) {
	defer s.observe("verify_poll", time.Now(), &err)

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return PollResult{}, err
	}
	defer unlock()

	current, err := s.store.GetVerification(ctx, id)
	if err != nil {
		return PollResult{}, err
	}
	if current.Status.IsTerminal() {
		return PollResult{Session: current}, nil
	}

	status, err := s.agent.Status(ctx, current.CallID)
	if err != nil {
		return PollResult{}, common.NewUpstreamError(agentName, err)
	}
	for i, entry := range status.Transcript {
		if err := entry.Validate(); err != nil {
			return PollResult{}, common.NewUpstreamError(agentName, fmt.Errorf("transcript entry %d: %w", i, err))
		}
	}

	updated := s.apply(current, status)
	if err := s.store.UpdateVerification(ctx, updated); err != nil {
		return PollResult{}, err
	}

	if updated.Status.IsTerminal() {
		s.recorder.VerificationFinished(updated.Status, updated.Outcome)
		s.logger.Info("Verification finished",
			"verification_id", id,
			"status", updated.Status,
			"outcome", updated.Outcome,
			"transcript_entries", len(updated.Transcript))
	}

	return PollResult{Session: updated.Clone(), Changed: true}, nil
}

// apply merges an agent report into a copy of current. Status only moves forward;
// the transcript is replaced wholesale since the agent owns it.
func (s *Service) apply(current *model.VerificationSession, status service.CallStatus) *model.VerificationSession {
	updated := current.Clone()
	updated.Polls++
	updated.UpdatedAt = s.now()

	if current.Status.CanTransitionTo(status.Status) {
		updated.Status = status.Status
	} else {
		s.logger.Warn("Ignoring backward verification status",
			"verification_id", current.ID,
			"current", current.Status,
			"reported", status.Status)
	}

	transcript := make([]model.TranscriptEntry, len(status.Transcript))
	for i, entry := range status.Transcript {
		if entry.CallID == "" {
			entry.CallID = current.CallID
		}
		if entry.Speaker == "" {
			entry.Speaker = model.SpeakerFor(entry.Text)
		}
		transcript[i] = entry
	}
	updated.Transcript = transcript

	switch updated.Status {
	case model.VerificationCompleted:
		updated.Outcome = status.Outcome
		if !updated.Outcome.IsValid() {
			updated.Outcome = model.OutcomeInconclusive
		}
	case model.VerificationFailed:
		updated.ErrorMessage = status.Error
		if updated.ErrorMessage == "" {
			updated.ErrorMessage = "verification call failed"
		}
	}

	return updated
}

// FetchTranscript returns the full transcript cached by the latest poll.
func (s *Service) FetchTranscript(ctx context.Context, id string) ([]model.TranscriptEntry, error) {
	v, err := s.store.GetVerification(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Transcript == nil {
		return []model.TranscriptEntry{}, nil
	}
	return v.Transcript, nil
}

// Get returns a verification session.
func (s *Service) Get(ctx context.Context, id string) (*model.VerificationSession, error) {
	return s.store.GetVerification(ctx, id)
}

// List returns all verification sessions, newest first.
func (s *Service) List(ctx context.Context) ([]*model.VerificationSession, error) {
	return s.store.ListVerifications(ctx)
}

// Retry starts a new call for the product of a failed session. The failed session
// is kept; the new one records it in RetryOf and starts with an empty transcript.
func (s *Service) Retry(ctx context.Context, id string) (v *model.VerificationSession, err error) {
	defer s.observe("verify_retry", time.Now(), &err)

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	previous, err := s.store.GetVerification(ctx, id)
	if err != nil {
		return nil, err
	}
	if previous.Status != model.VerificationFailed {
		return nil, common.InvalidStatef("verification %s is %s; only failed verifications can be retried", id, previous.Status)
	}

	return s.start(ctx, previous.Product, previous.ID)
}

// Delete removes a verification session, hanging up a call still in progress.
// It never fails: problems are logged.
func (s *Service) Delete(ctx context.Context, id string) {
	v, err := s.store.GetVerification(ctx, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		s.logger.Debug("Verification already deleted", "verification_id", id)
		return
	case err != nil:
		common.LogWarn(s.logger, err, "Failed to load verification for deletion", common.Fields{"verification_id": id})
	case v.CallID != "" && !v.Status.IsTerminal():
		if err := s.agent.Hangup(ctx, v.CallID); err != nil {
			common.LogWarn(s.logger, err, "Failed to hang up verification call", common.Fields{
				"verification_id": id,
				"call_id":         v.CallID,
			})
		}
	}

	if err := s.store.DeleteVerification(ctx, id); err != nil {
		common.LogWarn(s.logger, err, "Failed to delete verification", common.Fields{"verification_id": id})
		return
	}
	s.logger.Info("Verification deleted", "verification_id", id)
}

func (s *Service) observe(op string, start time.Time, err *error) {
	s.recorder.ObserveOperation(op, *err, time.Since(start))
}
