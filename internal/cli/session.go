package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/engine"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

// SessionEngine is the part of the classification engine an interactive run drives.
type SessionEngine interface {
	Start(ctx context.Context, description string) (*model.Session, error)
	SubmitAnswer(ctx context.Context, sessionID, question, answer string) (engine.SubmitResult, error)
	Finalize(ctx context.Context, sessionID string, opts engine.FinalizeOptions) (*model.FinalProduct, error)
}

// Runner walks one product through the question loop on the terminal.
type Runner struct {
	Engine   SessionEngine
	Prompter *Prompter
	// Interrupts, when set, is told the session ID so the interrupt message can name it.
	Interrupts *InterruptHandler
	// ShowCandidates is how many candidates are printed after each answer; 0 hides them.
	ShowCandidates int
	Origin         string
	Category       string
}

// Run classifies description interactively and returns the finalized product.
func (r *Runner) Run(ctx context.Context, description string) (*model.FinalProduct, error) {
	if r.Engine == nil || r.Prompter == nil {
		return nil, fmt.Errorf("%w: runner needs an engine and a prompter", common.ErrMissingConfig)
	}

	session, err := r.Engine.Start(ctx, description)
	if err != nil {
		return nil, err
	}
	if r.Interrupts != nil {
		r.Interrupts.SetSession(session.ID)
	}
	r.Prompter.Println(FormatInfo(fmt.Sprintf("Session %s started", session.ID)))
	r.showCandidates(session.Candidates)

	for session.PendingQuestion != nil {
		answer, err := r.Prompter.Ask(ctx, session.PendingQuestion, session.Iteration)
		if err != nil {
			return nil, err
		}

		result, err := r.Engine.SubmitAnswer(ctx, session.ID, session.PendingQuestion.Text, answer)
		if errors.Is(err, common.ErrValidation) {
			r.Prompter.Println(FormatError(err.Error()))
			continue
		}
		if err != nil {
			return nil, err
		}

		session = result.Session
		if !result.CandidatesRelevant {
			r.Prompter.Println(FormatWarning("The candidates do not match the product type; consider rephrasing the description."))
		}
		r.showCandidates(result.Candidates)

		if result.Product != nil {
			r.Prompter.ShowProduct(*result.Product)
			return result.Product, nil
		}
	}

	if session.Conclusion != "" {
		r.Prompter.Println(FormatInfo(session.Conclusion))
	}

	code, err := r.Prompter.SelectCode(ctx, session.Candidates, 5)
	if err != nil {
		return nil, err
	}

	product, err := r.Engine.Finalize(ctx, session.ID, engine.FinalizeOptions{
		SelectedCode: code,
		Origin:       r.Origin,
		Category:     r.Category,
	})
	if err != nil {
		return nil, err
	}

	r.Prompter.ShowProduct(*product)
	return product, nil
}

func (r *Runner) showCandidates(candidates model.Candidates) {
	if r.ShowCandidates > 0 {
		r.Prompter.ShowCandidates(candidates, r.ShowCandidates)
	}
}
