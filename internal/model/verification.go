package model

import (
	"fmt"
	"strings"
	"time"
)

// VerificationStatus is the lifecycle position of a verification call.
type VerificationStatus string

// Verification statuses, in forward order.
const (
	VerificationStarting  VerificationStatus = "starting"
	VerificationActive    VerificationStatus = "active"
	VerificationCompleted VerificationStatus = "completed"
	VerificationFailed    VerificationStatus = "failed"
)

func (s VerificationStatus) rank() int {
	switch s {
	case VerificationStarting:
		return 0
	case VerificationActive:
		return 1
	case VerificationCompleted, VerificationFailed:
		return 2
	default:
		return -1
	}
}

// IsValid reports whether s is a known status.
func (s VerificationStatus) IsValid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no further transitions are possible.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationCompleted || s == VerificationFailed
}

// CanTransitionTo reports whether moving from s to next keeps transitions forward-only.
// Staying in the same status is allowed; leaving a terminal status is not.
func (s VerificationStatus) CanTransitionTo(next VerificationStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// VerificationOutcome is the verdict reached on a completed call.
type VerificationOutcome string

// Verification outcomes.
const (
	OutcomeNone         VerificationOutcome = ""
	OutcomeConfirmed    VerificationOutcome = "confirmed"
	OutcomeRejected     VerificationOutcome = "rejected"
	OutcomeInconclusive VerificationOutcome = "inconclusive"
)

// IsValid reports whether o is a known outcome.
func (o VerificationOutcome) IsValid() bool {
	switch o {
	case OutcomeNone, OutcomeConfirmed, OutcomeRejected, OutcomeInconclusive:
		return true
	}
	return false
}

// Speaker identifies who produced a transcript line.
type Speaker string

// Transcript speakers.
const (
	SpeakerAgent       Speaker = "agent"
	SpeakerCounterpart Speaker = "counterpart"
)

const agentLinePrefix = "Agent:"

// TranscriptEntry is one timestamped utterance from a verification call.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	CallID    string    `json:"call_id"`
	Text      string    `json:"text"`
	Speaker   Speaker   `json:"speaker"`
}

// NewTranscriptEntry builds an entry, inferring the speaker from the line prefix.
func NewTranscriptEntry(callID string, ts time.Time, text string) TranscriptEntry {
	return TranscriptEntry{
		CallID:    callID,
		Timestamp: ts,
		Text:      text,
		Speaker:   SpeakerFor(text),
	}
}

// SpeakerFor infers the speaker of a transcript line.
func SpeakerFor(text string) Speaker {
	if strings.HasPrefix(strings.TrimSpace(text), agentLinePrefix) {
		return SpeakerAgent
	}
	return SpeakerCounterpart
}

// Validate checks an entry received from a verification agent.
func (e TranscriptEntry) Validate() error {
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("transcript text is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("transcript timestamp is required")
	}
	return nil
}

// VerificationSession tracks one verification call for a finalized product.
type VerificationSession struct {
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	ID           string              `json:"session_id"`
	CallID       string              `json:"call_id,omitempty"`
	RetryOf      string              `json:"retry_of,omitempty"`
	ErrorMessage string              `json:"error,omitempty"`
	Status       VerificationStatus  `json:"status"`
	Outcome      VerificationOutcome `json:"outcome,omitempty"`
	Transcript   []TranscriptEntry   `json:"transcript"`
	Product      FinalProduct        `json:"product"`
	Polls        int                 `json:"polls"`
}

// Clone returns a deep copy of the verification session.
func (v *VerificationSession) Clone() *VerificationSession {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Product = v.Product.Clone()
	if v.Transcript != nil {
		clone.Transcript = append([]TranscriptEntry(nil), v.Transcript...)
	}
	return &clone
}
