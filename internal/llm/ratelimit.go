package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// newLimiter creates a token bucket allowing requestsPerMinute calls, with a full bucket at start.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
}

// wait blocks until a token is available or the context is canceled.
func wait(ctx context.Context, limiter *rate.Limiter) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}
	return nil
}
