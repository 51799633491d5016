package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

// DefaultPollInterval matches the cadence the web client polls at.
const DefaultPollInterval = 2 * time.Second

// ErrPollLimit is returned when a verification is still running after MaxAttempts polls.
var ErrPollLimit = errors.New("verification did not finish within the poll limit")

// Pollable is the part of Service a Poller drives.
type Pollable interface {
	Poll(ctx context.Context, id string) (PollResult, error)
}

// Poller polls a verification session until it reaches a terminal status.
type Poller struct {
	Service Pollable
	// Interval between polls; DefaultPollInterval when zero.
	Interval time.Duration
	// MaxAttempts bounds the number of polls; zero means unlimited.
	MaxAttempts int
}

// Run polls id, calling onUpdate after every successful poll, and returns the terminal session.
// The first poll happens immediately.
func (p Poller) Run(ctx context.Context, id string, onUpdate func(PollResult)) (*model.VerificationSession, error) {
	if p.Service == nil {
		return nil, fmt.Errorf("poller has no service")
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		result, err := p.Service.Poll(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(result)
		}
		if result.Terminal() {
			return result.Session, nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return result.Session, fmt.Errorf("%w: %d polls", ErrPollLimit, attempt)
		}

		select {
		case <-ctx.Done():
			return result.Session, ctx.Err()
		case <-ticker.C:
		}
	}
}
