package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{common.Validationf("answer is required"), "validation"},
		{common.NotFoundf("session s1"), "not_found"},
		{common.InvalidStatef("finalized"), "invalid_state"},
		{common.NewUpstreamError("candidate source", errors.New("boom")), "upstream"},
		{fmt.Errorf("disk full"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Result(tt.err))
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveOperation("answer", nil, 20*time.Millisecond)
	m.ObserveOperation("answer", common.NewUpstreamError("question generator", errors.New("boom")), time.Second)
	m.SessionConverged("stable_top")
	m.SessionFinalized(model.ProductPending)
	m.VerificationFinished(model.VerificationFailed, model.OutcomeNone)

	m.ObserveHTTP("/api/classify/start", http.MethodPost, http.StatusCreated)

	body := scrape(t, m)
	for _, line := range []string{
		`hscode_operations_total{operation="answer",result="ok"} 1`,
		`hscode_operations_total{operation="answer",result="upstream"} 1`,
		`hscode_operation_duration_seconds_count{operation="answer"} 2`,
		`hscode_sessions_converged_total{reason="stable_top"} 1`,
		`hscode_products_finalized_total{status="pending"} 1`,
		`hscode_verifications_finished_total{outcome="none",status="failed"} 1`,
		`hscode_http_requests_total{code="201",method="POST",route="/api/classify/start"} 1`,
	} {
		assert.Contains(t, body, line)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SessionConverged("iteration_cap")

	body := scrape(t, m)
	assert.Contains(t, body, `hscode_sessions_converged_total{reason="iteration_cap"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
