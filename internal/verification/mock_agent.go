package verification

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

// MockAgent is a test implementation of service.VerificationAgent.
// Status replays Reports in order and repeats the last one.
type MockAgent struct {
	DialErr   error
	StatusErr error
	// BeforeStatus, when set, runs at the start of every Status call.
	BeforeStatus func()
	Reports      []service.CallStatus
	hungUp       []string
	dials        int
	polls        int
	mu           sync.Mutex
}

var _ service.VerificationAgent = (*MockAgent)(nil)

// Dial returns call-1, call-2, ...
func (m *MockAgent) Dial(_ context.Context, _ model.FinalProduct) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dials++
	if m.DialErr != nil {
		return "", m.DialErr
	}
	return fmt.Sprintf("call-%d", m.dials), nil
}

// Status returns the next report.
func (m *MockAgent) Status(_ context.Context, _ string) (service.CallStatus, error) {
	if m.BeforeStatus != nil {
		m.BeforeStatus()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if m.StatusErr != nil {
		return service.CallStatus{}, m.StatusErr
	}
	if len(m.Reports) == 0 {
		return service.CallStatus{Status: model.VerificationActive}, nil
	}

	i := m.polls - 1
	if i >= len(m.Reports) {
		i = len(m.Reports) - 1
	}
	report := m.Reports[i]
	report.Transcript = append([]model.TranscriptEntry(nil), report.Transcript...)
	return report, nil
}

// Hangup records the call as ended.
func (m *MockAgent) Hangup(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hungUp = append(m.hungUp, callID)
	return nil
}

// Dials returns how many calls were placed.
func (m *MockAgent) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// Polls returns how many status requests were made.
func (m *MockAgent) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// HungUp returns the calls that were hung up.
func (m *MockAgent) HungUp() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.hungUp...)
}
