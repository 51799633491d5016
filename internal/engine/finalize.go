package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

const (
	productStoreName = "product store"
	defaultOrigin    = "Unknown"
)

// FinalizeOptions adjusts how a session is finalized. The zero value promotes the top candidate.
type FinalizeOptions struct {
	// ConfidenceOverride replaces the confidence derived from the similarity score.
	ConfidenceOverride *int
	// SelectedCode must be one of the session's current candidates.
	SelectedCode string
	Category     string
	Origin       string
}

// Finalize promotes the top or selected candidate into an immutable product and
// completes the session. Any state except completed may be finalized.
func (e *Engine) Finalize(ctx context.Context, sessionID string, opts FinalizeOptions) (product *model.FinalProduct, err error) {
	defer e.observe("finalize", time.Now(), &err)

	if c := opts.ConfidenceOverride; c != nil && (*c < 0 || *c > 100) {
		return nil, common.Validationf("confidence must be between 0 and 100, got %d", *c)
	}

	unlock, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	product, _, err = e.finalizeLocked(ctx, current, opts)
	return product, err
}

// finalizeLocked must run under the session lock. It returns the product and the completed session.
func (e *Engine) finalizeLocked(ctx context.Context, s *model.Session, opts FinalizeOptions) (*model.FinalProduct, *model.Session, error) {
	if s.State == model.StateCompleted {
		return nil, nil, common.InvalidStatef("session %s is already finalized", s.ID)
	}
	if len(s.Candidates) == 0 {
		return nil, nil, common.InvalidStatef("session %s has no candidates to finalize", s.ID)
	}

	selected := s.Candidates[0]
	if code := strings.TrimSpace(opts.SelectedCode); code != "" {
		found, ok := s.Candidates.Find(code)
		if !ok {
			return nil, nil, common.Validationf("code %q is not among the session's current candidates", code)
		}
		selected = found
	}

	product := e.buildProduct(s, selected, opts)
	if err := e.products.SaveProduct(ctx, product); err != nil {
		return nil, nil, common.NewUpstreamError(productStoreName, err)
	}

	done := s.Clone()
	done.State = model.StateCompleted
	done.ProductID = product.ID
	done.PendingQuestion = nil
	done.UpdatedAt = e.now()
	if err := e.sessions.Update(ctx, done); err != nil {
		return nil, nil, fmt.Errorf("failed to complete session: %w", err)
	}

	e.recorder.SessionFinalized(product.Status)
	e.logger.Info("Classification finalized",
		"session_id", s.ID,
		"product_id", product.ID,
		"hs_code", product.HSCode,
		"confidence", product.Confidence,
		"status", product.Status)

	return product, done, nil
}

func (e *Engine) buildProduct(s *model.Session, selected model.Candidate, opts FinalizeOptions) *model.FinalProduct {
	now := e.now()

	confidence := selected.Confidence()
	if opts.ConfidenceOverride != nil {
		confidence = *opts.ConfidenceOverride
	}

	category := strings.TrimSpace(opts.Category)
	if category == "" {
		category = CategoryForCode(selected.Code)
	}
	origin := strings.TrimSpace(opts.Origin)
	if origin == "" {
		origin = defaultOrigin
	}

	alternatives := make([]model.AlternativeCode, 0, e.config.Alternatives)
	for _, c := range s.Candidates {
		if len(alternatives) == e.config.Alternatives {
			break
		}
		if c.Code == selected.Code {
			continue
		}
		alternatives = append(alternatives, model.AlternativeCode{
			Code:        c.Code,
			Description: c.Description,
			Confidence:  c.Confidence(),
			Reasoning:   fmt.Sprintf("Alternative match with similarity score %.3f", c.SimilarityScore),
		})
	}

	return &model.FinalProduct{
		ID:                 "prod_" + e.newID(),
		SessionID:          s.ID,
		Identification:     "PROD-" + now.Format("2006-01-02-150405"),
		DateAdded:          now,
		Description:        s.ProductDescription,
		HSCode:             selected.Code,
		CodeDescription:    selected.Description,
		Reasoning:          reasoning(s, selected),
		Category:           category,
		Origin:             origin,
		Confidence:         confidence,
		Status:             e.config.Thresholds.StatusFor(confidence),
		VerificationNeeded: e.config.Thresholds.NeedsVerification(confidence),
		AlternativeHSCodes: alternatives,
		QAHistory:          append([]model.QAPair(nil), s.QAHistory...),
		Iterations:         s.Iteration,
	}
}

func reasoning(s *model.Session, selected model.Candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Classified through %d iterations of questioning. Final similarity score: %.3f.",
		s.Iteration, selected.SimilarityScore)
	if top := s.Candidates.Top(); top != nil && top.Code != selected.Code {
		fmt.Fprintf(&sb, " Selected over top-ranked %s.", top.Code)
	}
	if s.Conclusion != "" {
		sb.WriteString(" ")
		sb.WriteString(s.Conclusion)
	}
	return sb.String()
}

// ApplyVerification returns a copy of product whose status reflects a verification outcome.
func (e *Engine) ApplyVerification(product model.FinalProduct, v *model.VerificationSession) model.FinalProduct {
	return product.WithVerification(v)
}
