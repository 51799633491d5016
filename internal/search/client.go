// Package search talks to the semantic HS code search service.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

const collaboratorName = "candidate source"

// Config configures the HTTP candidate source.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// HTTPSource implements service.CandidateSource against the search service's /api/search endpoint.
type HTTPSource struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	retryOpts  service.RetryOptions
}

var _ service.CandidateSource = (*HTTPSource)(nil)

// NewHTTPSource creates a candidate source client.
func NewHTTPSource(cfg Config, logger *slog.Logger) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: search base URL is required", common.ErrMissingConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: common.LoggerOrDefault(logger),
		retryOpts: service.RetryOptions{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: retryDelay,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

type searchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

type searchResponse struct {
	Results    []searchResult `json:"results"`
	Error      string         `json:"error"`
	TotalFound int            `json:"total_found"`
}

type searchResult struct {
	Score       *float64 `json:"similarity_score"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
}

// Search ranks HS codes for query. Any transport failure or malformed payload is an upstream error.
func (s *HTTPSource) Search(ctx context.Context, query string, topK int, threshold float64) (model.Candidates, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.NewUpstreamError(collaboratorName, fmt.Errorf("empty search query"))
	}
	if threshold < 0 || threshold > 1 {
		return nil, common.NewUpstreamError(collaboratorName, fmt.Errorf("threshold %.2f out of range", threshold))
	}

	body, err := json.Marshal(searchRequest{Query: query, TopK: topK, Threshold: threshold})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	var payload searchResponse
	err = common.WithRetry(ctx, func() error {
		var callErr error
		payload, callErr = s.do(ctx, body)
		return callErr
	}, s.retryOpts)
	if err != nil {
		return nil, common.NewUpstreamError(collaboratorName, err)
	}

	candidates, err := decodeCandidates(payload.Results)
	if err != nil {
		return nil, common.NewUpstreamError(collaboratorName, err)
	}

	// The service is expected to filter and sort; enforce it regardless.
	candidates = candidates.AboveThreshold(threshold)
	if topK > 0 && len(candidates) > topK {
		candidates = candidates.TopN(topK)
	}

	s.logger.Debug("Candidate search completed",
		"query", query,
		"results", len(candidates),
		"total_found", payload.TotalFound)

	return candidates, nil
}

func (s *HTTPSource) do(ctx context.Context, body []byte) (searchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return searchResponse{}, common.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return searchResponse{}, &common.RetryableError{Err: fmt.Errorf("search request failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return searchResponse{}, &common.RetryableError{Err: fmt.Errorf("failed to read search response: %w", err), Retryable: true}
	}

	var payload searchResponse
	decodeErr := json.Unmarshal(raw, &payload)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && payload.Error != "" {
			msg = payload.Error
		}
		statusErr := fmt.Errorf("search service error (status %d): %s", resp.StatusCode, msg)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return searchResponse{}, fmt.Errorf("%w: %w", common.ErrRateLimit, statusErr)
		case resp.StatusCode >= 500:
			return searchResponse{}, &common.RetryableError{Err: statusErr, Retryable: true}
		default:
			return searchResponse{}, common.Permanent(statusErr)
		}
	}

	if decodeErr != nil {
		return searchResponse{}, common.Permanent(fmt.Errorf("malformed search response: %w", decodeErr))
	}
	if payload.Results == nil {
		return searchResponse{}, common.Permanent(fmt.Errorf("malformed search response: missing results"))
	}

	return payload, nil
}

func decodeCandidates(results []searchResult) (model.Candidates, error) {
	candidates := make(model.Candidates, 0, len(results))
	for i, r := range results {
		if r.Score == nil {
			return nil, fmt.Errorf("result %d has no similarity_score", i)
		}
		candidates = append(candidates, model.Candidate{
			Code:            strings.TrimSpace(r.Code),
			Description:     strings.TrimSpace(r.Description),
			SimilarityScore: *r.Score,
		})
	}

	if err := candidates.Validate(); err != nil {
		return nil, fmt.Errorf("malformed search response: %w", err)
	}
	return candidates, nil
}
