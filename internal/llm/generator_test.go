package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

type fakeCompletions struct {
	lastReq openai.ChatCompletionRequest
	replies []string
	status  int
	calls   atomic.Int32
}

func (f *fakeCompletions) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(f.calls.Add(1))
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastReq))

		w.Header().Set("Content-Type", "application/json")
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error": {"message": "model overloaded", "type": "server_error"}}`))
			return
		}

		reply := f.replies[len(f.replies)-1]
		if n <= len(f.replies) {
			reply = f.replies[n-1]
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}
}

func newTestGenerator(t *testing.T, fake *fakeCompletions) *Generator {
	t.Helper()

	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	gen, err := NewGenerator(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL + "/v1",
		RateLimit:  600,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return gen
}

func queryRequestFixture() service.QueryRequest {
	return service.QueryRequest{
		Description: "organic pineapple juice in a plastic bottle",
		History: []model.QAPair{
			{Question: "Is it carbonated?", Answer: "no"},
		},
	}
}

func TestGenerator_NextQuestion(t *testing.T) {
	fake := &fakeCompletions{replies: []string{
		`{"type": "question", "question": "Does it include a microphone?", "question_type": "multiple_choice", "options": ["Yes", "No"]}`,
	}}
	gen := newTestGenerator(t, fake)

	candidates := model.Candidates{
		{Code: "8518.30.20", Description: "Headphones", SimilarityScore: 0.82},
		{Code: "8517.62.00", Description: "Transmission apparatus", SimilarityScore: 0.74},
	}

	step, err := gen.NextQuestion(context.Background(), "Wireless Bluetooth headphones", nil, candidates)
	require.NoError(t, err)
	require.False(t, step.Converged())
	assert.Equal(t, "Does it include a microphone?", step.Question.Text)
	assert.Equal(t, []string{"Yes", "No"}, step.Question.Options)

	require.Len(t, fake.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.lastReq.Messages[0].Role)
	assert.Contains(t, fake.lastReq.Messages[1].Content, "PRODUCT DESCRIPTION: Wireless Bluetooth headphones")
	assert.Contains(t, fake.lastReq.Messages[1].Content, "- 8518.30.20: Headphones (similarity: 0.82)")
	require.NotNil(t, fake.lastReq.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, fake.lastReq.ResponseFormat.Type)
}

func TestGenerator_NextQuestionConverges(t *testing.T) {
	fake := &fakeCompletions{replies: []string{
		`{"type": "conclusion", "conclusion": "Based on the description, 8518.30.20 covers headphones.", "codes": ["8518.30.20"]}`,
	}}
	gen := newTestGenerator(t, fake)

	step, err := gen.NextQuestion(context.Background(), "Wireless Bluetooth headphones", nil, nil)
	require.NoError(t, err)
	require.True(t, step.Converged())
	assert.Equal(t, []string{"8518.30.20"}, step.Convergence.Codes)
}

func TestGenerator_MalformedResponseIsUpstreamError(t *testing.T) {
	fake := &fakeCompletions{replies: []string{`QUESTION: What is the`}}
	gen := newTestGenerator(t, fake)

	_, err := gen.NextQuestion(context.Background(), "headphones", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUpstream)
	assert.Contains(t, err.Error(), "question generator")
	assert.Contains(t, err.Error(), "truncated")
}

func TestGenerator_ServerErrorsAreRetriedThenSurfaced(t *testing.T) {
	fake := &fakeCompletions{status: http.StatusInternalServerError}
	gen := newTestGenerator(t, fake)

	_, err := gen.NextQuestion(context.Background(), "headphones", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUpstream)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestGenerator_ClientErrorsAreNotRetried(t *testing.T) {
	fake := &fakeCompletions{status: http.StatusUnauthorized}
	gen := newTestGenerator(t, fake)

	_, err := gen.DeriveQuery(context.Background(), queryRequestFixture())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUpstream)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestGenerator_DeriveQuery(t *testing.T) {
	fake := &fakeCompletions{replies: []string{`"pineapple fruit juice"`}}
	gen := newTestGenerator(t, fake)

	req := queryRequestFixture()
	req.Previous = model.Candidates{{Code: "3923.30", Description: "Plastic bottles", SimilarityScore: 0.8}}
	req.Irrelevant = true

	query, err := gen.DeriveQuery(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "pineapple fruit juice", query)

	assert.Nil(t, fake.lastReq.ResponseFormat)
	assert.Equal(t, queryMaxTokens, fake.lastReq.MaxTokens)
	assert.Contains(t, fake.lastReq.Messages[1].Content, "COMPLETELY IRRELEVANT")
}

func TestNewGenerator_Config(t *testing.T) {
	_, err := NewGenerator(Config{Provider: "openai"}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = NewGenerator(Config{Provider: "local"}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = NewGenerator(Config{Provider: "local", BaseURL: "http://localhost:8081/v1"}, nil)
	assert.NoError(t, err)

	_, err = NewGenerator(Config{Provider: "anthropic", APIKey: "x"}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
