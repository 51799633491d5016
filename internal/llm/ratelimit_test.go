package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter(t *testing.T) {
	t.Run("starts with a full bucket", func(t *testing.T) {
		limiter := newLimiter(3)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, wait(ctx, limiter))
		}
		assert.False(t, limiter.Allow(), "bucket should be drained")
	})

	t.Run("defaults non-positive rates", func(t *testing.T) {
		limiter := newLimiter(0)
		assert.Equal(t, 60, limiter.Burst())
	})

	t.Run("respects cancellation", func(t *testing.T) {
		limiter := newLimiter(1)
		require.NoError(t, wait(context.Background(), limiter))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := wait(ctx, limiter)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limiter canceled")
	})
}
