package repository

import (
	"context"
	"sync"

	"collections-agent/internal/domain"
)

// Memory is an in-process HistoryStore used when no table is configured.
type Memory struct {
	mu      sync.RWMutex
	history map[string][]domain.ConversationSummary
}

func NewMemory() *Memory {
	return &Memory{history: make(map[string][]domain.ConversationSummary)}
}

func (m *Memory) AppendSummary(_ context.Context, customerID string, summary domain.ConversationSummary) error {
	if err := validateAppend(customerID, summary); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[customerID] = append(m.history[customerID], summary)
	return nil
}

func (m *Memory) ListSummaries(_ context.Context, customerID string) ([]domain.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.history[customerID]
	out := make([]domain.ConversationSummary, len(entries))
	copy(out, entries)
	return out, nil
}
