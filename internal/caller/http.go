// Package caller provides verification agents: an HTTP client for a call-placing
// agent service and a scripted agent that simulates a customs helpdesk call.
package caller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

// Customs helpdesk numbers dialed per jurisdiction.
const (
	GermanCustoms   = "+49 69 20971-545"
	AustrianCustoms = "+43 50 233 561"
)

// NumberFor returns the helpdesk number for a jurisdiction hint such as "DE" or "AT".
// Unknown jurisdictions fall back to the Austrian helpdesk.
func NumberFor(jurisdiction string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(jurisdiction)), "de") {
		return GermanCustoms
	}
	return AustrianCustoms
}

var errCallNotFound = errors.New("call not found")

// HTTPConfig configures the HTTP agent client.
type HTTPConfig struct {
	BaseURL      string
	Jurisdiction string
	Timeout      time.Duration
	RetryDelay   time.Duration
	// RateLimit is requests per minute; 0 uses 120.
	RateLimit  int
	MaxRetries int
}

// HTTPAgent implements service.VerificationAgent against an agent service exposing
// POST /calls, GET /calls/{id} and DELETE /calls/{id}.
type HTTPAgent struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	number     string
	retryOpts  service.RetryOptions
}

var _ service.VerificationAgent = (*HTTPAgent)(nil)

// NewHTTPAgent creates an agent client.
func NewHTTPAgent(cfg HTTPConfig, logger *slog.Logger) (*HTTPAgent, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: verification agent URL is required", common.ErrMissingConfig)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: verification agent URL: %w", common.ErrInvalidConfig, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	rpm := cfg.RateLimit
	if rpm <= 0 {
		rpm = 120
	}

	return &HTTPAgent{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		number:     NumberFor(cfg.Jurisdiction),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		logger:     common.LoggerOrDefault(logger),
		retryOpts: service.RetryOptions{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: retryDelay,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

type dialRequest struct {
	Number  string             `json:"number"`
	Product model.FinalProduct `json:"product"`
}

type dialResponse struct {
	CallID string `json:"call_id"`
	Error  string `json:"error"`
}

type statusResponse struct {
	Status     string                  `json:"status"`
	Outcome    string                  `json:"outcome"`
	Error      string                  `json:"error"`
	Transcript []model.TranscriptEntry `json:"transcript"`
}

// Dial asks the agent service to call the customs helpdesk about product.
func (a *HTTPAgent) Dial(ctx context.Context, product model.FinalProduct) (string, error) {
	body, err := json.Marshal(dialRequest{Number: a.number, Product: product})
	if err != nil {
		return "", fmt.Errorf("failed to marshal dial request: %w", err)
	}

	var resp dialResponse
	if err := a.call(ctx, http.MethodPost, "/calls", body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.CallID) == "" {
		return "", fmt.Errorf("malformed dial response: missing call_id")
	}

	a.logger.Info("Verification call placed",
		"call_id", resp.CallID,
		"number", a.number,
		"hs_code", product.HSCode)
	return resp.CallID, nil
}

// Status fetches the call status and its full transcript so far.
func (a *HTTPAgent) Status(ctx context.Context, callID string) (service.CallStatus, error) {
	var resp statusResponse
	if err := a.call(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID), nil, &resp); err != nil {
		return service.CallStatus{}, err
	}

	status := model.VerificationStatus(resp.Status)
	if !status.IsValid() {
		return service.CallStatus{}, fmt.Errorf("malformed status response: unknown status %q", resp.Status)
	}
	outcome := model.VerificationOutcome(resp.Outcome)
	if !outcome.IsValid() {
		return service.CallStatus{}, fmt.Errorf("malformed status response: unknown outcome %q", resp.Outcome)
	}

	return service.CallStatus{
		Status:     status,
		Outcome:    outcome,
		Error:      resp.Error,
		Transcript: resp.Transcript,
	}, nil
}

// Hangup ends the call. Calls the service no longer knows are treated as ended.
func (a *HTTPAgent) Hangup(ctx context.Context, callID string) error {
	err := a.call(ctx, http.MethodDelete, "/calls/"+url.PathEscape(callID), nil, nil)
	if errors.Is(err, errCallNotFound) {
		return nil
	}
	return err
}

func (a *HTTPAgent) call(ctx context.Context, method, path string, body []byte, out any) error {
	return common.WithRetry(ctx, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return common.Permanent(fmt.Errorf("rate limiter canceled: %w", err))
		}
		return a.do(ctx, method, path, body, out)
	}, a.retryOpts)
}

func (a *HTTPAgent) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return common.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("agent request failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("failed to read agent response: %w", err), Retryable: true}
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		statusErr := fmt.Errorf("agent service error (status %d): %s", resp.StatusCode, msg)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", common.ErrRateLimit, statusErr)
		case resp.StatusCode == http.StatusNotFound:
			return common.Permanent(fmt.Errorf("%w: %w", errCallNotFound, statusErr))
		case resp.StatusCode >= 500:
			return &common.RetryableError{Err: statusErr, Retryable: true}
		default:
			return common.Permanent(statusErr)
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return common.Permanent(fmt.Errorf("malformed agent response: %w", err))
	}
	return nil
}
