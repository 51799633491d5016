package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

func TestPoller_RunsUntilTerminal(t *testing.T) {
	agent := &MockAgent{Reports: []service.CallStatus{
		{Status: model.VerificationActive},
		{Status: model.VerificationActive},
		{Status: model.VerificationCompleted, Outcome: model.OutcomeRejected},
	}}
	svc, _ := newTestService(t, agent)
	ctx := context.Background()

	v, err := svc.Start(ctx, product())
	require.NoError(t, err)

	var updates []model.VerificationStatus
	final, err := Poller{Service: svc, Interval: time.Millisecond}.Run(ctx, v.ID, func(r PollResult) {
		updates = append(updates, r.Session.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, final.Outcome)
	assert.Equal(t, []model.VerificationStatus{
		model.VerificationActive, model.VerificationActive, model.VerificationCompleted,
	}, updates)

	assert.Equal(t, model.ProductNeedsReview, product().WithVerification(final).Status)
}

func TestPoller_MaxAttempts(t *testing.T) {
	agent := &MockAgent{}
	svc, _ := newTestService(t, agent)
	ctx := context.Background()

	v, err := svc.Start(ctx, product())
	require.NoError(t, err)

	last, err := Poller{Service: svc, Interval: time.Millisecond, MaxAttempts: 3}.Run(ctx, v.ID, nil)
	assert.ErrorIs(t, err, ErrPollLimit)
	require.NotNil(t, last)
	assert.Equal(t, model.VerificationActive, last.Status)
	assert.Equal(t, 3, agent.Polls())
}

func TestPoller_StopsOnError(t *testing.T) {
	agent := &MockAgent{}
	svc, _ := newTestService(t, agent)
	ctx := context.Background()

	v, err := svc.Start(ctx, product())
	require.NoError(t, err)
	svc.Delete(ctx, v.ID)

	_, err = Poller{Service: svc, Interval: time.Millisecond}.Run(ctx, v.ID, nil)
	require.Error(t, err)
}

func TestPoller_ContextCancel(t *testing.T) {
	agent := &MockAgent{}
	svc, _ := newTestService(t, agent)

	v, err := svc.Start(context.Background(), product())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = Poller{Service: svc, Interval: time.Hour}.Run(ctx, v.ID, func(PollResult) { cancel() })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPoller_RequiresService(t *testing.T) {
	_, err := Poller{}.Run(context.Background(), "v1", nil)
	assert.Error(t, err)
}
