// Package poller tracks in-flight outbound calls until the provider reports
// a finished conversation, then summarizes it into the customer's history.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"collections-agent/internal/conversation"
	"collections-agent/internal/domain"
)

const (
	DefaultInterval          = 5 * time.Second
	DefaultTimeout           = 5 * time.Minute
	DefaultPageSize          = 10
	DefaultSummarizeAttempts = 2
)

var (
	ErrActive   = errors.New("poller: session already active")
	ErrBusy     = errors.New("poller: too many active sessions")
	ErrClosed   = errors.New("poller: manager closed")
	ErrNotFound = errors.New("poller: session not found")
)

type ConversationSource interface {
	ListConversations(ctx context.Context, pageSize int) ([]domain.ConversationListItem, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, entries []domain.TranscriptEntry) (domain.ConversationSummary, error)
}

type HistoryAppender interface {
	AppendSummary(ctx context.Context, customerID string, summary domain.ConversationSummary) error
}

type Config struct {
	Interval time.Duration
	// Timeout is the absolute ceiling measured from registration.
	Timeout           time.Duration
	PageSize          int
	SummarizeAttempts int
	// MaxActive limits concurrent sessions; zero means unlimited.
	MaxActive  int
	Logger     *slog.Logger
	OnComplete func(correlationKey string, summary domain.ConversationSummary)
	Now        func() time.Time
}

// Session describes one placed call. ConversationID is set when the
// initiator already knows it, which skips the listing step.
type Session struct {
	CorrelationKey string
	StartTime      time.Time
	CallID         string
	ConversationID string
}

type Status struct {
	CorrelationKey string                      `json:"correlationKey"`
	State          State                       `json:"state"`
	CallID         string                      `json:"callId,omitempty"`
	ConversationID string                      `json:"conversationId,omitempty"`
	StartedAt      time.Time                   `json:"startedAt"`
	EndedAt        *time.Time                  `json:"endedAt,omitempty"`
	Polls          int                         `json:"polls"`
	Summary        *domain.ConversationSummary `json:"summary,omitempty"`
	Error          string                      `json:"error,omitempty"`
}

type session struct {
	Session
	cancel context.CancelFunc
	done   chan struct{}

	state State
	polls int
}

type Manager struct {
	source  ConversationSource
	summary Summarizer
	history HistoryAppender
	cfg     Config
	log     *slog.Logger

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	active  map[string]*session
	results map[string]Status
	claimed map[string]claim
}

type claim struct {
	key string
	at  time.Time
}

func New(source ConversationSource, summarizer Summarizer, history HistoryAppender, cfg Config) (*Manager, error) {
	if source == nil {
		return nil, errors.New("poller: conversation source must not be nil")
	}
	if summarizer == nil {
		return nil, errors.New("poller: summarizer must not be nil")
	}
	if history == nil {
		return nil, errors.New("poller: history must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.SummarizeAttempts <= 0 {
		cfg.SummarizeAttempts = DefaultSummarizeAttempts
	}
	if cfg.MaxActive < 0 {
		cfg.MaxActive = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		source:     source,
		summary:    summarizer,
		history:    history,
		cfg:        cfg,
		log:        cfg.Logger.With("component", "poller"),
		root:       root,
		rootCancel: cancel,
		active:     make(map[string]*session),
		results:    make(map[string]Status),
		claimed:    make(map[string]claim),
	}, nil
}

// Register starts polling for the call described by s. It reports false
// without error when a session for the same correlation key is already
// active.
func (m *Manager) Register(s Session) (bool, error) {
	s.CorrelationKey = strings.TrimSpace(s.CorrelationKey)
	if s.CorrelationKey == "" {
		return false, errors.New("poller: correlation key must not be empty")
	}
	if s.StartTime.IsZero() {
		return false, errors.New("poller: start time must be set")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.active[s.CorrelationKey]; ok {
		return false, nil
	}
	if m.cfg.MaxActive > 0 && len(m.active) >= m.cfg.MaxActive {
		return false, ErrBusy
	}
	m.pruneClaimsLocked()
	if s.ConversationID != "" {
		m.claimed[s.ConversationID] = claim{key: s.CorrelationKey, at: m.cfg.Now()}
	}

	ctx, cancel := context.WithTimeout(m.root, m.cfg.Timeout)
	sess := &session{Session: s, cancel: cancel, done: make(chan struct{}), state: StatePolling}
	m.active[s.CorrelationKey] = sess
	delete(m.results, s.CorrelationKey)

	m.wg.Add(1)
	go m.run(ctx, sess)

	m.log.Info("session registered",
		"correlation_key", s.CorrelationKey,
		"call_id", s.CallID,
		"conversation_id", s.ConversationID,
	)
	return true, nil
}

// Stop cancels an active session and waits for its loop to exit, so no
// provider request is issued for it after Stop returns. Stopping an unknown
// or finished session is a no-op.
func (m *Manager) Stop(correlationKey string) bool {
	m.mu.Lock()
	sess, ok := m.active[correlationKey]
	m.mu.Unlock()
	if !ok {
		return false
	}
	sess.cancel()
	<-sess.done
	return true
}

func (m *Manager) Status(correlationKey string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.active[correlationKey]; ok {
		return sess.status(), true
	}
	st, ok := m.results[correlationKey]
	return st, ok
}

// Admit reports whether Register would currently start a session for the
// key. Callers check it before side effects that must not happen for a call
// that cannot be tracked.
func (m *Manager) Admit(correlationKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return ErrClosed
	case m.active[correlationKey] != nil:
		return ErrActive
	case m.cfg.MaxActive > 0 && len(m.active) >= m.cfg.MaxActive:
		return ErrBusy
	}
	return nil
}

// Wait blocks until the session for the key ends or ctx is done.
func (m *Manager) Wait(ctx context.Context, correlationKey string) (Status, error) {
	m.mu.Lock()
	sess, ok := m.active[correlationKey]
	m.mu.Unlock()
	if ok {
		select {
		case <-sess.done:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
	st, ok := m.Status(correlationKey)
	if !ok {
		return Status{}, ErrNotFound
	}
	return st, nil
}

// Close cancels every active session and waits for their loops to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.rootCancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, sess *session) {
	defer m.wg.Done()
	defer close(sess.done)
	defer sess.cancel()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.finish(sess, contextState(ctx), nil, nil)
			return
		case <-ticker.C:
		}

		res := m.tick(ctx, sess)
		if res.state == StatePolling {
			continue
		}
		m.finish(sess, res.state, res.summary, res.err)
		return
	}
}

type tickResult struct {
	state   State
	summary *domain.ConversationSummary
	err     error
}

func (m *Manager) tick(ctx context.Context, sess *session) tickResult {
	if ctx.Err() != nil {
		return tickResult{state: contextState(ctx)}
	}
	m.mu.Lock()
	sess.polls++
	convID := sess.ConversationID
	m.mu.Unlock()

	log := m.log.With("correlation_key", sess.CorrelationKey)

	if convID == "" {
		items, err := m.source.ListConversations(ctx, m.cfg.PageSize)
		if err != nil {
			return m.pollFailure(ctx, log, "list conversations", err)
		}
		candidate, ok := m.claimCandidate(sess, items)
		if !ok {
			return tickResult{state: StatePolling}
		}
		convID = candidate.ConversationID
		log.Info("candidate conversation selected",
			"conversation_id", convID,
			"start_time_unix_secs", candidate.StartTimeUnixSecs,
		)
	}

	conv, err := m.source.GetConversation(ctx, convID)
	if err != nil {
		return m.pollFailure(ctx, log, "get conversation", err)
	}
	if !conversation.IsComplete(conv) {
		log.Debug("conversation not complete", "conversation_id", convID, "status", conv.Status)
		return tickResult{state: StatePolling}
	}

	summary, err := m.summarize(ctx, conversation.Normalize(conv))
	if err != nil {
		if ctx.Err() != nil {
			return tickResult{state: contextState(ctx)}
		}
		return tickResult{state: StateErrored, err: fmt.Errorf("poller: summarize: %w", err)}
	}
	summary.ConversationID = convID

	if err := m.history.AppendSummary(ctx, sess.CorrelationKey, summary); err != nil {
		if ctx.Err() != nil {
			return tickResult{state: contextState(ctx)}
		}
		return tickResult{state: StateErrored, err: fmt.Errorf("poller: append summary: %w", err)}
	}
	return tickResult{state: StateCompleted, summary: &summary}
}

func (m *Manager) pollFailure(ctx context.Context, log *slog.Logger, action string, err error) tickResult {
	if ctx.Err() != nil {
		return tickResult{state: contextState(ctx)}
	}
	if isPermanent(err) {
		return tickResult{state: StateErrored, err: fmt.Errorf("poller: %s: %w", action, err)}
	}
	log.Warn("poll tick failed", "action", action, "error", err)
	return tickResult{state: StatePolling}
}

func (m *Manager) summarize(ctx context.Context, entries []domain.TranscriptEntry) (domain.ConversationSummary, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.SummarizeAttempts; attempt++ {
		summary, err := m.summary.Summarize(ctx, entries)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		m.log.Warn("summarize attempt failed", "attempt", attempt, "error", err)
	}
	return domain.ConversationSummary{}, lastErr
}

func (m *Manager) claimCandidate(sess *session, items []domain.ConversationListItem) (domain.ConversationListItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidate, ok := SelectCandidate(items, sess.StartTime, func(id string) bool {
		c, taken := m.claimed[id]
		return taken && c.key != sess.CorrelationKey
	})
	if !ok {
		return domain.ConversationListItem{}, false
	}
	m.claimed[candidate.ConversationID] = claim{key: sess.CorrelationKey, at: m.cfg.Now()}
	sess.ConversationID = candidate.ConversationID
	return candidate, true
}

// pruneClaimsLocked forgets claims old enough that no active session could
// select the conversation again.
func (m *Manager) pruneClaimsLocked() {
	cutoff := m.cfg.Now().Add(-2 * m.cfg.Timeout)
	for id, c := range m.claimed {
		if c.at.Before(cutoff) {
			delete(m.claimed, id)
		}
	}
}

func (m *Manager) finish(sess *session, state State, summary *domain.ConversationSummary, err error) {
	now := m.cfg.Now()

	m.mu.Lock()
	sess.state = state
	st := sess.status()
	st.EndedAt = &now
	st.Summary = summary
	if err != nil {
		st.Error = err.Error()
	}
	if m.active[sess.CorrelationKey] == sess {
		delete(m.active, sess.CorrelationKey)
	}
	m.results[sess.CorrelationKey] = st
	m.mu.Unlock()

	attrs := []any{
		"correlation_key", sess.CorrelationKey,
		"state", string(state),
		"conversation_id", st.ConversationID,
		"polls", st.Polls,
	}
	switch state {
	case StateErrored:
		m.log.Error("session ended", append(attrs, "error", err)...)
	case StateCompleted:
		m.log.Info("session ended", append(attrs, "outcome", string(summary.Outcome))...)
	default:
		m.log.Info("session ended", attrs...)
	}

	if state == StateCompleted && m.cfg.OnComplete != nil {
		m.cfg.OnComplete(sess.CorrelationKey, *summary)
	}
}

func (s *session) status() Status {
	return Status{
		CorrelationKey: s.CorrelationKey,
		State:          s.state,
		CallID:         s.CallID,
		ConversationID: s.ConversationID,
		StartedAt:      s.StartTime,
		Polls:          s.polls,
	}
}

func contextState(ctx context.Context) State {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StateTimedOut
	}
	return StateCancelled
}

type permanentError interface {
	Permanent() bool
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// isPermanent reports whether retrying err on the next tick is pointless:
// bad credentials or a request the provider will never accept.
func isPermanent(err error) bool {
	var p permanentError
	if errors.As(err, &p) && p.Permanent() {
		return true
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusMethodNotAllowed, http.StatusUnprocessableEntity:
			return true
		}
	}
	return false
}
