package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"collections-agent/internal/domain"
	"collections-agent/internal/integrations/openai"
	"collections-agent/internal/integrations/relay"
	"collections-agent/internal/poller"
)

const testPrefix = "/collections/test"

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{testPrefix + "/config/openai_model": "gpt-4o"}}
}

type chatCall struct {
	model    string
	messages []domain.ChatMessage
	format   *openai.ResponseFormat
}

type mockLLM struct {
	answer string
	err    error
	calls  []chatCall
}

func (m *mockLLM) Chat(_ context.Context, model string, messages []domain.ChatMessage, format *openai.ResponseFormat) (string, error) {
	m.calls = append(m.calls, chatCall{model: model, messages: messages, format: format})
	return m.answer, m.err
}

type mockModerator struct {
	flagged bool
	err     error
	inputs  []string
}

func (m *mockModerator) Moderate(_ context.Context, input string) (bool, error) {
	m.inputs = append(m.inputs, input)
	return m.flagged, m.err
}

type mockPlacer struct {
	mu     sync.Mutex
	result relay.CallResult
	err    error
	calls  []relay.OutboundCall
}

func (m *mockPlacer) PlaceCall(_ context.Context, call relay.OutboundCall) (relay.CallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.result, m.err
}

type mockSessions struct {
	admitErr    error
	registerOK  bool
	registerErr error
	registered  []poller.Session
	statuses    map[string]poller.Status
	stopped     []string
}

func newMockSessions() *mockSessions {
	return &mockSessions{registerOK: true, statuses: map[string]poller.Status{}}
}

func (m *mockSessions) Admit(string) error { return m.admitErr }

func (m *mockSessions) Register(s poller.Session) (bool, error) {
	if m.registerErr != nil || !m.registerOK {
		return false, m.registerErr
	}
	m.registered = append(m.registered, s)
	m.statuses[s.CorrelationKey] = poller.Status{CorrelationKey: s.CorrelationKey, State: poller.StatePolling, CallID: s.CallID}
	return true, nil
}

func (m *mockSessions) Stop(key string) bool {
	st, ok := m.statuses[key]
	if !ok || st.State != poller.StatePolling {
		return false
	}
	m.stopped = append(m.stopped, key)
	st.State = poller.StateCancelled
	m.statuses[key] = st
	return true
}

func (m *mockSessions) Status(key string) (poller.Status, bool) {
	st, ok := m.statuses[key]
	return st, ok
}

func (m *mockSessions) Wait(_ context.Context, key string) (poller.Status, error) {
	st, ok := m.statuses[key]
	if !ok {
		return poller.Status{}, poller.ErrNotFound
	}
	st.State = poller.StateCompleted
	return st, nil
}

type mockHistory struct {
	items map[string][]domain.ConversationSummary
	err   error
}

func (m *mockHistory) ListSummaries(_ context.Context, customerID string) ([]domain.ConversationSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.items[customerID], nil
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func requireCode(err error) ErrorCode {
	var ue *Error
	if !errors.As(err, &ue) {
		return ""
	}
	return ue.Code
}
