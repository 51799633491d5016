package caller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

func testProduct() model.FinalProduct {
	return model.FinalProduct{
		ID:          "prod_1",
		Description: "Wireless Bluetooth headphones",
		HSCode:      "8518.30.20",
		Confidence:  72,
		Iterations:  2,
		QAHistory:   []model.QAPair{{Question: "Is it over-ear?", Answer: "yes"}},
	}
}

func TestNumberFor(t *testing.T) {
	assert.Equal(t, GermanCustoms, NumberFor("DE"))
	assert.Equal(t, GermanCustoms, NumberFor(" de-bavaria"))
	assert.Equal(t, AustrianCustoms, NumberFor("AT"))
	assert.Equal(t, AustrianCustoms, NumberFor(""))
}

func TestScriptedAgent_RevealsLinesOverTime(t *testing.T) {
	agent := NewScriptedAgent(ScriptedConfig{
		Jurisdiction: "AT",
		Outcome:      model.OutcomeRejected,
		StartDelay:   time.Second,
		LineInterval: 2 * time.Second,
	}, nil)

	clock := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	agent.now = func() time.Time { return clock }
	ctx := context.Background()

	callID, err := agent.Dial(ctx, testProduct())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(callID, "call_"))

	status, err := agent.Status(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationStarting, status.Status)
	assert.Empty(t, status.Transcript)

	clock = clock.Add(time.Second)
	status, err = agent.Status(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationActive, status.Status)
	require.Len(t, status.Transcript, 1)
	assert.Contains(t, status.Transcript[0].Text, "Austrian customs helpdesk")
	assert.Equal(t, model.SpeakerAgent, status.Transcript[0].Speaker)
	assert.Equal(t, callID, status.Transcript[0].CallID)

	clock = clock.Add(4 * time.Second)
	status, err = agent.Status(ctx, callID)
	require.NoError(t, err)
	require.Len(t, status.Transcript, 3)
	assert.Equal(t, model.SpeakerCounterpart, status.Transcript[1].Speaker)
	assert.Contains(t, status.Transcript[2].Text, "8518.30.20")
	assert.True(t, status.Transcript[1].Timestamp.Before(status.Transcript[2].Timestamp))

	clock = clock.Add(time.Hour)
	status, err = agent.Status(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationCompleted, status.Status)
	assert.Equal(t, model.OutcomeRejected, status.Outcome)
	assert.Len(t, status.Transcript, 10)
	for _, entry := range status.Transcript {
		assert.NoError(t, entry.Validate())
	}
}

func TestScriptedAgent_Hangup(t *testing.T) {
	agent := NewScriptedAgent(ScriptedConfig{StartDelay: 0, LineInterval: time.Second}, nil)
	ctx := context.Background()

	callID, err := agent.Dial(ctx, testProduct())
	require.NoError(t, err)
	require.NoError(t, agent.Hangup(ctx, callID))
	require.NoError(t, agent.Hangup(ctx, "unknown"))

	status, err := agent.Status(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationFailed, status.Status)
	assert.NotEmpty(t, status.Error)

	_, err = agent.Status(ctx, "unknown")
	assert.Error(t, err)
}

func newTestHTTPAgent(t *testing.T, handler http.HandlerFunc) *HTTPAgent {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	agent, err := NewHTTPAgent(HTTPConfig{
		BaseURL:      server.URL,
		Jurisdiction: "DE",
		RateLimit:    6000,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return agent
}

func TestHTTPAgent_Dial(t *testing.T) {
	agent := newTestHTTPAgent(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls", r.URL.Path)

		var req dialRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, GermanCustoms, req.Number)
		assert.Equal(t, "8518.30.20", req.Product.HSCode)

		_, _ = w.Write([]byte(`{"call_id":"c-42"}`))
	})

	callID, err := agent.Dial(context.Background(), testProduct())
	require.NoError(t, err)
	assert.Equal(t, "c-42", callID)
}

func TestHTTPAgent_DialMissingCallID(t *testing.T) {
	agent := newTestHTTPAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := agent.Dial(context.Background(), testProduct())
	assert.ErrorContains(t, err, "missing call_id")
}

func TestHTTPAgent_Status(t *testing.T) {
	agent := newTestHTTPAgent(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calls/c-42", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status": "completed",
			"outcome": "confirmed",
			"transcript": [
				{"call_id": "c-42", "timestamp": "2025-06-02T10:00:01Z", "text": "Agent: Hello."},
				{"call_id": "c-42", "timestamp": "2025-06-02T10:00:04Z", "text": "Officer: Good day."}
			]
		}`))
	})

	status, err := agent.Status(context.Background(), "c-42")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationCompleted, status.Status)
	assert.Equal(t, model.OutcomeConfirmed, status.Outcome)
	require.Len(t, status.Transcript, 2)
	assert.Equal(t, "Officer: Good day.", status.Transcript[1].Text)
}

func TestHTTPAgent_StatusRejectsUnknownValues(t *testing.T) {
	tests := map[string]string{
		"status":  `{"status": "ringing"}`,
		"outcome": `{"status": "completed", "outcome": "maybe"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			agent := newTestHTTPAgent(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := agent.Status(context.Background(), "c-1")
			assert.ErrorContains(t, err, "malformed status response")
		})
	}
}

func TestHTTPAgent_Retries(t *testing.T) {
	var calls atomic.Int32
	agent := newTestHTTPAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"switchboard unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"active"}`))
	})

	status, err := agent.Status(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationActive, status.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPAgent_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	agent := newTestHTTPAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"product hsCode is required"}`))
	})

	_, err := agent.Dial(context.Background(), testProduct())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product hsCode is required")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPAgent_Hangup(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	agent := newTestHTTPAgent(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.URL.Path == "/calls/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, agent.Hangup(context.Background(), "c-1"))
	require.NoError(t, agent.Hangup(context.Background(), "gone"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodDelete, http.MethodDelete}, methods)
}

func TestNewHTTPAgent_RequiresURL(t *testing.T) {
	_, err := NewHTTPAgent(HTTPConfig{}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
