package usecase

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"collections-agent/internal/agentconfig"
	"collections-agent/internal/domain"
	"collections-agent/internal/integrations/relay"
	"collections-agent/internal/jcs"
	"collections-agent/internal/poller"
)

const (
	maxCustomerIDLen     = 128
	maxScriptLen         = 8000
	maxIdempotencyKeyLen = 128
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

type CallPlacer interface {
	PlaceCall(ctx context.Context, call relay.OutboundCall) (relay.CallResult, error)
}

type SessionManager interface {
	Admit(correlationKey string) error
	Register(s poller.Session) (bool, error)
	Stop(correlationKey string) bool
	Status(correlationKey string) (poller.Status, bool)
	Wait(ctx context.Context, correlationKey string) (poller.Status, error)
}

type SettingsProvider interface {
	Get() domain.AgentSettings
}

type HistoryReader interface {
	ListSummaries(ctx context.Context, customerID string) ([]domain.ConversationSummary, error)
}

type CallService struct {
	placer   CallPlacer
	sessions SessionManager
	settings SettingsProvider
	history  HistoryReader
	mod      Moderator
	ledger   *callLedger
	now      func() time.Time
	log      *slog.Logger
}

type CallServiceConfig struct {
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

type StartCallInput struct {
	CustomerID     string
	PhoneNumber    string
	Debtor         *domain.Debtor
	Prompt         string
	FirstMessage   string
	IdempotencyKey string
	Wait           bool
}

type StartCallOutput struct {
	CustomerID     string
	CallID         string
	ConversationID string
	StartedAt      time.Time
	Replayed       bool
	// Final is set when the caller waited for the session to end.
	Final *poller.Status
}

// callFingerprint is the canonical identity of a placement request.
type callFingerprint struct {
	CustomerID   string `json:"customer_id"`
	Number       string `json:"number"`
	Prompt       string `json:"prompt"`
	FirstMessage string `json:"first_message"`
}

func NewCallService(placer CallPlacer, sessions SessionManager, settings SettingsProvider, history HistoryReader, mod Moderator, cfg CallServiceConfig) (*CallService, error) {
	if placer == nil {
		return nil, errors.New("usecase: call placer must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session manager must not be nil")
	}
	if settings == nil {
		return nil, errors.New("usecase: settings provider must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history reader must not be nil")
	}
	if mod == nil {
		return nil, errors.New("usecase: moderator must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CallService{
		placer:   placer,
		sessions: sessions,
		settings: settings,
		history:  history,
		mod:      mod,
		ledger:   newCallLedger(cfg.IdempotencyTTL, time.Now),
		now:      time.Now,
		log:      logger,
	}, nil
}

// StartCall places one outbound call and starts tracking it. Repeating an
// identical request, or reusing an idempotency key, returns the original
// result instead of placing a second call.
func (s *CallService) StartCall(ctx context.Context, in StartCallInput) (StartCallOutput, error) {
	customerID, err := validCustomerID(in.CustomerID)
	if err != nil {
		return StartCallOutput{}, err
	}
	number := strings.TrimSpace(in.PhoneNumber)
	if !e164.MatchString(number) {
		return StartCallOutput{}, newError(ErrorInvalidInput, "invalid_phone_number", nil)
	}
	idemKey := strings.TrimSpace(in.IdempotencyKey)
	if len(idemKey) > maxIdempotencyKeyLen {
		return StartCallOutput{}, newError(ErrorInvalidInput, "idempotency_key_too_long", nil)
	}

	call, custom, err := s.buildCall(number, in)
	if err != nil {
		return StartCallOutput{}, err
	}
	if custom != "" {
		flagged, err := s.mod.Moderate(ctx, custom)
		if err != nil {
			return StartCallOutput{}, upstreamError("moderation", err)
		}
		if flagged {
			return StartCallOutput{}, newError(ErrorInvalidInput, "script_flagged", nil)
		}
	}

	hash, err := jcs.Digest(callFingerprint{
		CustomerID:   customerID,
		Number:       call.Number,
		Prompt:       call.Prompt,
		FirstMessage: call.FirstMessage,
	})
	if err != nil {
		return StartCallOutput{}, newError(ErrorInternal, "fingerprint_error", err)
	}
	if idemKey == "" {
		idemKey = hash
	}

	prior, outcome := s.ledger.reserve(idemKey, hash)
	switch outcome {
	case replay:
		prior.Replayed = true
		return s.maybeWait(ctx, in.Wait, prior)
	case inFlight:
		return StartCallOutput{}, newError(ErrorConflict, "call_in_progress", nil)
	case keyReused:
		return StartCallOutput{}, newError(ErrorConflict, "idempotency_key_reused", nil)
	}

	out, placed, err := s.place(ctx, customerID, call)
	if !placed {
		s.ledger.release(idemKey)
		return StartCallOutput{}, err
	}
	// A placed call is never dialled again for this key, even if tracking
	// it failed.
	s.ledger.complete(idemKey, out)
	if err != nil {
		return StartCallOutput{}, err
	}
	return s.maybeWait(ctx, in.Wait, out)
}

// buildCall fills in the script and opening line from the agent settings
// when the operator supplied none. custom is the operator-written text that
// must be screened before use.
func (s *CallService) buildCall(number string, in StartCallInput) (call relay.OutboundCall, custom string, err error) {
	settings := s.settings.Get()
	prompt := strings.TrimSpace(in.Prompt)
	first := strings.TrimSpace(in.FirstMessage)
	if len(prompt) > maxScriptLen || len(first) > maxScriptLen {
		return relay.OutboundCall{}, "", newError(ErrorInvalidInput, "script_too_long", nil)
	}

	custom = strings.TrimSpace(prompt + "\n" + first)
	if prompt == "" {
		prompt = buildCallScript(settings, in.Debtor)
	}
	if first == "" {
		first = agentconfig.FirstMessage(settings)
	}
	return relay.OutboundCall{Number: number, Prompt: prompt, FirstMessage: first}, custom, nil
}

// place reports placed=true once the relay accepted the call, whether or
// not the session could then be registered.
func (s *CallService) place(ctx context.Context, customerID string, call relay.OutboundCall) (StartCallOutput, bool, error) {
	if err := s.sessions.Admit(customerID); err != nil {
		return StartCallOutput{}, false, sessionError(err)
	}

	startedAt := s.now()
	res, err := s.placer.PlaceCall(ctx, call)
	var unreadable *relay.UnreadableResponseError
	switch {
	case errors.As(err, &unreadable):
		// Accepted but no identifiers; the session falls back to listing.
		s.log.Warn("relay response unreadable, tracking call without identifiers",
			"customer_id", customerID,
			"error", err,
		)
		res = relay.CallResult{}
	case err != nil:
		return StartCallOutput{}, false, upstreamError("relay", err)
	}
	out := StartCallOutput{
		CustomerID:     customerID,
		CallID:         res.CallID,
		ConversationID: res.ConversationID,
		StartedAt:      startedAt,
	}

	ok, err := s.sessions.Register(poller.Session{
		CorrelationKey: customerID,
		StartTime:      startedAt,
		CallID:         res.CallID,
		ConversationID: res.ConversationID,
	})
	if err != nil || !ok {
		s.log.Error("placed call is not tracked",
			"customer_id", customerID,
			"call_id", res.CallID,
			"error", err,
		)
		if err == nil {
			err = poller.ErrActive
		}
		return out, true, sessionError(err)
	}

	s.log.Info("call placed", "customer_id", customerID, "call_id", res.CallID)
	return out, true, nil
}

func (s *CallService) maybeWait(ctx context.Context, wait bool, out StartCallOutput) (StartCallOutput, error) {
	if !wait {
		return out, nil
	}
	st, err := s.sessions.Wait(ctx, out.CustomerID)
	if err != nil {
		if errors.Is(err, poller.ErrNotFound) {
			return StartCallOutput{}, newError(ErrorNotFound, "session_not_found", err)
		}
		return StartCallOutput{}, newError(ErrorInternal, "wait_interrupted", err)
	}
	out.Final = &st
	return out, nil
}

// EndCall stops tracking the customer's active call.
func (s *CallService) EndCall(_ context.Context, customerID string) (poller.Status, error) {
	customerID, err := validCustomerID(customerID)
	if err != nil {
		return poller.Status{}, err
	}
	if !s.sessions.Stop(customerID) {
		return poller.Status{}, newError(ErrorNotFound, "no_active_call", nil)
	}
	st, _ := s.sessions.Status(customerID)
	return st, nil
}

func (s *CallService) CallStatus(_ context.Context, customerID string) (poller.Status, error) {
	customerID, err := validCustomerID(customerID)
	if err != nil {
		return poller.Status{}, err
	}
	st, ok := s.sessions.Status(customerID)
	if !ok {
		return poller.Status{}, newError(ErrorNotFound, "no_call", nil)
	}
	return st, nil
}

// History returns the customer's conversation summaries, oldest first.
func (s *CallService) History(ctx context.Context, customerID string) ([]domain.ConversationSummary, error) {
	customerID, err := validCustomerID(customerID)
	if err != nil {
		return nil, err
	}
	out, err := s.history.ListSummaries(ctx, customerID)
	if err != nil {
		return nil, newError(ErrorInternal, "history_read_error", err)
	}
	if out == nil {
		out = []domain.ConversationSummary{}
	}
	return out, nil
}

func validCustomerID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", newError(ErrorInvalidInput, "missing_customer_id", nil)
	}
	if len(id) > maxCustomerIDLen {
		return "", newError(ErrorInvalidInput, "customer_id_too_long", nil)
	}
	return id, nil
}

func sessionError(err error) *Error {
	switch {
	case errors.Is(err, poller.ErrActive):
		return newError(ErrorConflict, "call_active", err)
	case errors.Is(err, poller.ErrBusy):
		return newError(ErrorRateLimited, "too_many_active_calls", err)
	default:
		return newError(ErrorInternal, "session_error", err)
	}
}
