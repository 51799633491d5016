package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/common"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *HTTPSource {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	src, err := NewHTTPSource(Config{
		BaseURL:    server.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return src
}

func TestHTTPSource_Search(t *testing.T) {
	var got searchRequest

	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"query": "wireless headphones",
			"results": [
				{"code": "8518.30.20", "description": "Headphones", "similarity_score": 0.85},
				{"code": "8517.12.00", "description": "Telephones", "similarity_score": 0.91},
				{"code": "8519.81.00", "description": "Sound recording", "similarity_score": 0.41}
			],
			"result_count": 3,
			"total_found": 3
		}`))
	})

	candidates, err := src.Search(context.Background(), "  wireless headphones ", 20, 0.6)
	require.NoError(t, err)

	assert.Equal(t, "wireless headphones", got.Query)
	assert.Equal(t, 20, got.TopK)
	assert.InDelta(t, 0.6, got.Threshold, 1e-9)

	// sorted and filtered even though the service did neither
	assert.Equal(t, []string{"8517.12.00", "8518.30.20"}, candidates.Codes())
	assert.True(t, candidates.IsSorted())
}

func TestHTTPSource_TopK(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results": [
			{"code": "a", "description": "", "similarity_score": 0.9},
			{"code": "b", "description": "", "similarity_score": 0.8},
			{"code": "c", "description": "", "similarity_score": 0.7}
		]}`))
	})

	candidates, err := src.Search(context.Background(), "query", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, candidates.Codes())
}

func TestHTTPSource_MalformedResponses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "not json", body: `<html>oops</html>`, wantMsg: "malformed search response"},
		{name: "missing results", body: `{"query": "x"}`, wantMsg: "missing results"},
		{name: "missing score", body: `{"results": [{"code": "8517.12.00"}]}`, wantMsg: "no similarity_score"},
		{name: "score out of range", body: `{"results": [{"code": "8517.12.00", "similarity_score": 1.7}]}`, wantMsg: "similarity score must be between"},
		{name: "empty code", body: `{"results": [{"code": " ", "similarity_score": 0.7}]}`, wantMsg: "candidate code is required"},
		{name: "duplicate code", body: `{"results": [{"code": "a", "similarity_score": 0.7}, {"code": "a", "similarity_score": 0.6}]}`, wantMsg: "duplicate code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := src.Search(context.Background(), "query", 10, 0.5)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrUpstream)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestHTTPSource_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "Query is required"}`))
	})

	_, err := src.Search(context.Background(), "query", 10, 0.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUpstream)
	assert.Contains(t, err.Error(), "Query is required")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": "Classifier not initialized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"results": [{"code": "2009.89", "description": "Juice", "similarity_score": 0.77}]}`))
	})

	candidates, err := src.Search(context.Background(), "pineapple juice", 10, 0.6)
	require.NoError(t, err)
	assert.Equal(t, []string{"2009.89"}, candidates.Codes())
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_PersistentServerErrorKeepsMessage(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "Search failed: index missing"}`))
	})

	_, err := src.Search(context.Background(), "query", 10, 0.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUpstream)
	assert.Contains(t, err.Error(), "Search failed: index missing")
}

func TestHTTPSource_RejectsBadInput(t *testing.T) {
	src := newTestSource(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := src.Search(context.Background(), "   ", 10, 0.5)
	assert.ErrorIs(t, err, common.ErrUpstream)

	_, err = src.Search(context.Background(), "query", 10, 1.5)
	assert.ErrorIs(t, err, common.ErrUpstream)
}

func TestNewHTTPSource_RequiresURL(t *testing.T) {
	_, err := NewHTTPSource(Config{}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
