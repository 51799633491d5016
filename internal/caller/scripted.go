package caller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

// ScriptedConfig configures the simulated helpdesk call.
type ScriptedConfig struct {
	Jurisdiction string
	// Outcome reported once the script finishes; confirmed when empty.
	Outcome model.VerificationOutcome
	// StartDelay is how long the call rings before the first line.
	StartDelay time.Duration
	// LineInterval separates consecutive transcript lines.
	LineInterval time.Duration
}

// DefaultScriptedConfig returns a German helpdesk call with a line every three seconds.
func DefaultScriptedConfig() ScriptedConfig {
	return ScriptedConfig{
		Jurisdiction: "DE",
		Outcome:      model.OutcomeConfirmed,
		StartDelay:   time.Second,
		LineInterval: 3 * time.Second,
	}
}

type scriptedCall struct {
	started time.Time
	lines   []string
	hungUp  bool
}

// ScriptedAgent implements service.VerificationAgent without placing real calls.
// Each call reveals a fixed conversation one line at a time as the clock advances.
type ScriptedAgent struct {
	calls  map[string]*scriptedCall
	logger *slog.Logger
	now    func() time.Time
	config ScriptedConfig
	mu     sync.Mutex
}

var _ service.VerificationAgent = (*ScriptedAgent)(nil)

// NewScriptedAgent creates a simulated agent.
func NewScriptedAgent(cfg ScriptedConfig, logger *slog.Logger) *ScriptedAgent {
	defaults := DefaultScriptedConfig()
	if cfg.Jurisdiction == "" {
		cfg.Jurisdiction = defaults.Jurisdiction
	}
	if cfg.Outcome == model.OutcomeNone {
		cfg.Outcome = defaults.Outcome
	}
	if cfg.StartDelay < 0 {
		cfg.StartDelay = 0
	}
	if cfg.LineInterval <= 0 {
		cfg.LineInterval = defaults.LineInterval
	}

	return &ScriptedAgent{
		calls:  make(map[string]*scriptedCall),
		logger: common.LoggerOrDefault(logger),
		now:    time.Now,
		config: cfg,
	}
}

// Dial starts a simulated call.
func (a *ScriptedAgent) Dial(_ context.Context, product model.FinalProduct) (string, error) {
	callID := "call_" + uuid.NewString()

	a.mu.Lock()
	a.calls[callID] = &scriptedCall{
		started: a.now(),
		lines:   conversation(product, a.config.Jurisdiction),
	}
	a.mu.Unlock()

	a.logger.Info("Simulated verification call started",
		"call_id", callID,
		"number", NumberFor(a.config.Jurisdiction),
		"hs_code", product.HSCode)
	return callID, nil
}

// Status reports the lines spoken so far.
func (a *ScriptedAgent) Status(_ context.Context, callID string) (service.CallStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	call, ok := a.calls[callID]
	if !ok {
		return service.CallStatus{}, fmt.Errorf("unknown call %s", callID)
	}

	elapsed := a.now().Sub(call.started)
	if elapsed < a.config.StartDelay {
		return service.CallStatus{Status: model.VerificationStarting, Transcript: []model.TranscriptEntry{}}, nil
	}

	spoken := 1 + int((elapsed-a.config.StartDelay)/a.config.LineInterval)
	if spoken > len(call.lines) {
		spoken = len(call.lines)
	}

	transcript := make([]model.TranscriptEntry, spoken)
	for i := range spoken {
		ts := call.started.Add(a.config.StartDelay + time.Duration(i)*a.config.LineInterval)
		transcript[i] = model.NewTranscriptEntry(callID, ts, call.lines[i])
	}

	switch {
	case call.hungUp:
		return service.CallStatus{Status: model.VerificationFailed, Error: "call ended before completion", Transcript: transcript}, nil
	case spoken == len(call.lines):
		return service.CallStatus{Status: model.VerificationCompleted, Outcome: a.config.Outcome, Transcript: transcript}, nil
	default:
		return service.CallStatus{Status: model.VerificationActive, Transcript: transcript}, nil
	}
}

// Hangup marks the call as ended.
func (a *ScriptedAgent) Hangup(_ context.Context, callID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if call, ok := a.calls[callID]; ok {
		call.hungUp = true
	}
	return nil
}

func conversation(p model.FinalProduct, jurisdiction string) []string {
	office := "Austrian"
	if NumberFor(jurisdiction) == GermanCustoms {
		office = "German"
	}
	description := p.Description
	if description == "" {
		description = p.CodeDescription
	}

	return []string{
		fmt.Sprintf("Agent: Hello, this is an automated assistant calling the %s customs helpdesk regarding an HS code classification.", office),
		"Officer: Good day. How can I assist you with your classification inquiry?",
		fmt.Sprintf("Agent: We need verification for a product classified as HS code %s. The product is described as: %s.", p.HSCode, description),
		"Officer: I see. Please provide the key materials and the intended use.",
		fmt.Sprintf("Agent: Our classification reached %d%% confidence after %d clarifying questions. %s", p.Confidence, p.Iterations, firstAnswer(p)),
		fmt.Sprintf("Officer: Let me check the guidelines for heading %s.", heading(p.HSCode)),
		"Agent: Can you confirm the code and the legal basis for our compliance documentation?",
		"Officer: The legal basis is Council Regulation (EEC) No 2658/87 on the tariff and statistical nomenclature.",
		"Agent: Thank you for confirming. We'll record the guidance with the classification.",
		"Officer: You're welcome. Contact us again if you need further clarification.",
	}
}

func firstAnswer(p model.FinalProduct) string {
	if len(p.QAHistory) == 0 {
		return "No further details were collected."
	}
	return fmt.Sprintf("When asked %q the answer was %q.", p.QAHistory[0].Question, p.QAHistory[0].Answer)
}

func heading(code string) string {
	if len(code) < 4 {
		return code
	}
	return code[:4]
}
