package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/engine"
	"github.com/Veraticus/hscode-copilot/internal/metrics"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
	"github.com/Veraticus/hscode-copilot/internal/storage"
	"github.com/Veraticus/hscode-copilot/internal/verification"
)

var testTime = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type testAPI struct {
	handler   http.Handler
	source    *engine.MockCandidateSource
	generator *engine.MockQuestionGenerator
	agent     *verification.MockAgent
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := storage.NewMemoryStore()
	t.Cleanup(store.Stop)

	source := &engine.MockCandidateSource{Results: []model.Candidates{{
		{Code: "8518.30.20", Description: "Headphones and earphones", SimilarityScore: 0.82},
		{Code: "8517.62.00", Description: "Machines for the reception of voice", SimilarityScore: 0.74},
	}}}
	generator := &engine.MockQuestionGenerator{}
	m := metrics.New()

	eng, err := engine.New(engine.Deps{
		Sessions:  store,
		Products:  store,
		Source:    source,
		Generator: generator,
		Recorder:  m,
	}, engine.DefaultConfig())
	require.NoError(t, err)

	agent := &verification.MockAgent{}
	verifier, err := verification.NewService(store, agent, m, nil)
	require.NoError(t, err)

	server, err := NewServer(Deps{
		Engine:    eng,
		Verifier:  verifier,
		Source:    source,
		Products:  store,
		Metrics:   m,
		StoreKind: "memory",
	})
	require.NoError(t, err)

	return &testAPI{handler: server.Router(), source: source, generator: generator, agent: agent}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type sessionBody struct {
	PendingQuestion *model.Question  `json:"pending_question"`
	ID              string           `json:"session_id"`
	Status          string           `json:"status"`
	State           string           `json:"state"`
	Candidates      model.Candidates `json:"candidates"`
	Iteration       int              `json:"iteration"`
}

func (a *testAPI) start(t *testing.T) sessionBody {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/classify/start", map[string]string{"description": "Wireless Bluetooth headphones"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[sessionBody](t, rec)
}

func TestStartSession(t *testing.T) {
	api := newTestAPI(t)

	session := api.start(t)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "active", session.Status)
	require.NotNil(t, session.PendingQuestion)
	assert.Equal(t, "Question 1?", session.PendingQuestion.Text)
	assert.Len(t, session.Candidates, 2)

	rec := api.do(t, http.MethodGet, "/api/classify/session/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.ID, decodeBody[sessionBody](t, rec).ID)
}

func TestStartSession_Validation(t *testing.T) {
	api := newTestAPI(t)

	for name, body := range map[string]any{
		"missing":    map[string]string{},
		"blank":      map[string]string{"description": "   "},
		"not json":   "{description",
		"empty body": nil,
	} {
		t.Run(name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/classify/start", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 0, api.source.Calls())
	assert.Equal(t, 0, api.generator.Calls())
}

func TestStartSession_UpstreamFailure(t *testing.T) {
	api := newTestAPI(t)
	api.generator.Err = errors.New("model overloaded")

	rec := api.do(t, http.MethodPost, "/api/classify/start", map[string]string{"description": "Wireless Bluetooth headphones"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := decodeBody[errorResponse](t, rec)
	assert.Contains(t, body.Error, "model overloaded")
	require.NotEmpty(t, body.SessionID)

	api.generator.Err = nil
	rec = api.do(t, http.MethodPost, "/api/classify/restart/"+body.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", decodeBody[sessionBody](t, rec).Status)
}

func TestAnswerAndFinalize(t *testing.T) {
	api := newTestAPI(t)
	session := api.start(t)

	rec := api.do(t, http.MethodPost, "/api/classify/answer/"+session.ID, map[string]string{
		"question": session.PendingQuestion.Text,
		"answer":   "over-ear",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	answer := decodeBody[struct {
		Question   *model.Question `json:"question"`
		Session    sessionBody     `json:"session"`
		Converged  bool            `json:"converged"`
		Candidates model.Candidates
	}](t, rec)
	assert.False(t, answer.Converged)
	assert.Equal(t, 1, answer.Session.Iteration)
	require.NotNil(t, answer.Question)
	assert.Equal(t, "Question 2?", answer.Question.Text)

	rec = api.do(t, http.MethodPost, "/api/classify/finalize/"+session.ID, map[string]any{"confidence": 92, "origin": "Germany"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	product := decodeBody[model.FinalProduct](t, rec)
	assert.Equal(t, "8518.30.20", product.HSCode)
	assert.Equal(t, model.ProductClassified, product.Status)
	assert.Equal(t, "Germany", product.Origin)

	rec = api.do(t, http.MethodGet, "/api/products/"+product.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/classify/finalize/"+session.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/classify/answer/"+session.ID, map[string]string{"question": "Question 2?", "answer": "yes"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnswer_Errors(t *testing.T) {
	api := newTestAPI(t)
	session := api.start(t)

	tests := []struct {
		body any
		name string
		path string
		want int
	}{
		{name: "missing answer", path: session.ID, body: map[string]string{"question": "Question 1?"}, want: http.StatusBadRequest},
		{name: "blank answer", path: session.ID, body: map[string]string{"question": "Question 1?", "answer": "  "}, want: http.StatusBadRequest},
		{name: "stale question", path: session.ID, body: map[string]string{"question": "Old?", "answer": "yes"}, want: http.StatusBadRequest},
		{name: "unknown session", path: "missing", body: map[string]string{"question": "Question 1?", "answer": "yes"}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/classify/answer/"+tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	api.source.Err = errors.New("index missing")
	rec := api.do(t, http.MethodPost, "/api/classify/answer/"+session.ID, map[string]string{"question": "Question 1?", "answer": "yes"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Contains(t, body.Error, "index missing")
	assert.Equal(t, session.ID, body.SessionID)

	rec = api.do(t, http.MethodGet, "/api/classify/session/"+session.ID, nil)
	assert.Equal(t, "error", decodeBody[sessionBody](t, rec).Status)
}

func TestFinalize_RejectsConfidenceOutOfRange(t *testing.T) {
	api := newTestAPI(t)
	session := api.start(t)

	rec := api.do(t, http.MethodPost, "/api/classify/finalize/"+session.ID, map[string]any{"confidence": 150})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "confidence")
}

func TestDeleteAndListSessions(t *testing.T) {
	api := newTestAPI(t)
	first := api.start(t)
	api.start(t)

	rec := api.do(t, http.MethodGet, "/api/classify/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Sessions []sessionSummary `json:"sessions"`
		Total    int              `json:"total_count"`
	}](t, rec)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "8518.30.20", list.Sessions[0].TopCode)

	for i := 0; i < 2; i++ {
		rec = api.do(t, http.MethodDelete, "/api/classify/session/"+first.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec = api.do(t, http.MethodGet, "/api/classify/session/"+first.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/search", map[string]any{"query": "headphones", "top_k": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[struct {
		Results model.Candidates `json:"results"`
		Count   int              `json:"result_count"`
	}](t, rec)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, []string{"headphones"}, api.source.Queries())

	rec = api.do(t, http.MethodPost, "/api/search", map[string]any{"query": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/search", map[string]any{"query": "headphones", "threshold": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.source.Err = errors.New("search service down")
	rec = api.do(t, http.MethodPost, "/api/search", map[string]any{"query": "headphones"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestVerificationFlow(t *testing.T) {
	api := newTestAPI(t)
	api.agent.Reports = []service.CallStatus{
		{Status: model.VerificationActive, Transcript: []model.TranscriptEntry{
			model.NewTranscriptEntry("call-1", testTime, "Agent: Hello, calling about a classification."),
		}},
		{Status: model.VerificationCompleted, Outcome: model.OutcomeRejected, Transcript: []model.TranscriptEntry{
			model.NewTranscriptEntry("call-1", testTime, "Agent: Hello, calling about a classification."),
			model.NewTranscriptEntry("call-1", testTime.Add(3*time.Second), "Officer: That code does not apply."),
		}},
	}

	session := api.start(t)
	rec := api.do(t, http.MethodPost, "/api/classify/finalize/"+session.ID, map[string]any{"confidence": 55})
	require.Equal(t, http.StatusOK, rec.Code)
	product := decodeBody[model.FinalProduct](t, rec)
	assert.True(t, product.VerificationNeeded)

	rec = api.do(t, http.MethodPost, "/api/agent/verify", map[string]string{"product_id": product.ID})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	v := decodeBody[model.VerificationSession](t, rec)
	assert.Equal(t, model.VerificationStarting, v.Status)

	rec = api.do(t, http.MethodGet, "/api/agent/status/"+v.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	poll := decodeBody[pollResponse](t, rec)
	assert.Equal(t, model.VerificationActive, poll.Status)
	assert.Len(t, poll.Transcript, 1)

	rec = api.do(t, http.MethodGet, "/api/agent/status/"+v.ID, nil)
	poll = decodeBody[pollResponse](t, rec)
	assert.True(t, poll.Terminal)
	assert.Equal(t, model.OutcomeRejected, poll.Session.Outcome)
	assert.Equal(t, model.ProductNeedsReview, product.WithVerification(poll.Session).Status)

	rec = api.do(t, http.MethodGet, "/api/agent/transcript/"+v.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "That code does not apply.")

	rec = api.do(t, http.MethodPost, "/api/agent/retry/"+v.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/agent/sessions", nil)
	assert.Contains(t, rec.Body.String(), `"total_count":1`)

	rec = api.do(t, http.MethodDelete, "/api/agent/session/"+v.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/agent/status/"+v.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProducts(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products":[],"total_count":0}`, rec.Body.String())

	for _, confidence := range []int{92, 55} {
		session := api.start(t)
		rec = api.do(t, http.MethodPost, "/api/classify/finalize/"+session.ID, map[string]any{"confidence": confidence})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[struct {
		Products   []model.FinalProduct `json:"products"`
		TotalCount int                  `json:"total_count"`
	}](t, rec)
	assert.Equal(t, 2, listed.TotalCount)
	require.Len(t, listed.Products, 2)
	for _, p := range listed.Products {
		assert.Equal(t, "8518.30.20", p.HSCode)
	}
}

func TestListVerifications_TruncatesOnRuneBoundary(t *testing.T) {
	api := newTestAPI(t)

	description := strings.Repeat("é", summaryDescriptionLen+20)
	product := map[string]any{"id": "prod_1", "hsCode": "8518.30.20", "description": description, "confidence": 70}
	rec := api.do(t, http.MethodPost, "/api/agent/verify", map[string]any{"product": product})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/agent/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[struct {
		Sessions []verificationSummary `json:"sessions"`
	}](t, rec)
	require.Len(t, listed.Sessions, 1)

	got := listed.Sessions[0].Description
	assert.True(t, utf8.ValidString(got))
	assert.NotContains(t, got, "\uFFFD")
	assert.Equal(t, strings.Repeat("é", summaryDescriptionLen), got)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
	assert.Equal(t, "", truncateRunes("abc", 0))
}

func TestVerify_Validation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/agent/verify", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/agent/verify", map[string]string{"product_id": "prod_missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/agent/verify", map[string]any{"product": map[string]any{"id": "p1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, api.agent.Dials())
}

func TestVerify_DialFailureCanBeRetried(t *testing.T) {
	api := newTestAPI(t)
	api.agent.DialErr = errors.New("no trunk available")

	product := map[string]any{"id": "prod_1", "hsCode": "8518.30.20", "description": "Headphones", "confidence": 70}
	rec := api.do(t, http.MethodPost, "/api/agent/verify", map[string]any{"product": product})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	failed := decodeBody[errorResponse](t, rec)
	require.NotEmpty(t, failed.SessionID)

	api.agent.DialErr = nil
	rec = api.do(t, http.MethodPost, "/api/agent/retry/"+failed.SessionID, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, failed.SessionID, decodeBody[model.VerificationSession](t, rec).RetryOf)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	api.start(t)

	rec := api.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "memory", health["store"])
	assert.EqualValues(t, 1, health["active_sessions"])

	rec = api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hscode_operations_total{operation="start",result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/api/classify/start"`)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodOptions, "/api/classify/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 0, api.source.Calls())
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}
