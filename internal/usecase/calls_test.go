package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collections-agent/internal/agentconfig"
	"collections-agent/internal/domain"
	"collections-agent/internal/integrations/relay"
	"collections-agent/internal/poller"
)

type callFixture struct {
	svc      *CallService
	placer   *mockPlacer
	sessions *mockSessions
	mod      *mockModerator
	history  *mockHistory
}

func newCallFixture(t *testing.T) *callFixture {
	t.Helper()
	store, err := agentconfig.NewStore(agentconfig.Defaults())
	require.NoError(t, err)
	f := &callFixture{
		placer:   &mockPlacer{result: relay.CallResult{CallID: "CA123"}},
		sessions: newMockSessions(),
		mod:      &mockModerator{},
		history:  &mockHistory{items: map[string][]domain.ConversationSummary{}},
	}
	f.svc, err = NewCallService(f.placer, f.sessions, store, f.history, f.mod, CallServiceConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return f
}

func validStart() StartCallInput {
	return StartCallInput{
		CustomerID:  "cust-1",
		PhoneNumber: "+15551234567",
		Debtor:      &domain.Debtor{Name: "Jane Roe", TotalOwed: 1250, TypeOfDebt: "medical", DebtAge: 120, City: "Austin", State: "TX", Language: "English"},
	}
}

func TestNewCallService_Validation(t *testing.T) {
	store, err := agentconfig.NewStore(agentconfig.Defaults())
	require.NoError(t, err)
	_, err = NewCallService(nil, newMockSessions(), store, &mockHistory{}, &mockModerator{}, CallServiceConfig{})
	require.Error(t, err)
	_, err = NewCallService(&mockPlacer{}, nil, store, &mockHistory{}, &mockModerator{}, CallServiceConfig{})
	require.Error(t, err)
	_, err = NewCallService(&mockPlacer{}, newMockSessions(), nil, &mockHistory{}, &mockModerator{}, CallServiceConfig{})
	require.Error(t, err)
	_, err = NewCallService(&mockPlacer{}, newMockSessions(), store, nil, &mockModerator{}, CallServiceConfig{})
	require.Error(t, err)
	_, err = NewCallService(&mockPlacer{}, newMockSessions(), store, &mockHistory{}, nil, CallServiceConfig{})
	require.Error(t, err)
}

func TestStartCall_BuildsScriptAndRegisters(t *testing.T) {
	f := newCallFixture(t)

	out, err := f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)
	require.Equal(t, "cust-1", out.CustomerID)
	require.Equal(t, "CA123", out.CallID)
	require.False(t, out.Replayed)
	require.Nil(t, out.Final)

	require.Len(t, f.placer.calls, 1)
	call := f.placer.calls[0]
	require.Equal(t, "+15551234567", call.Number)
	require.Contains(t, call.Prompt, "Collection Strategy for Jane Roe")
	require.Contains(t, call.Prompt, "$1250.00")
	require.Contains(t, call.Prompt, "Austin, TX")
	require.Contains(t, call.Prompt, agentconfig.Defaults().MiniMiranda)
	require.Equal(t, agentconfig.Defaults().Greeting, call.FirstMessage)
	require.Empty(t, f.mod.inputs)

	require.Len(t, f.sessions.registered, 1)
	sess := f.sessions.registered[0]
	require.Equal(t, "cust-1", sess.CorrelationKey)
	require.Equal(t, "CA123", sess.CallID)
	require.Equal(t, out.StartedAt, sess.StartTime)
}

func TestStartCall_Validation(t *testing.T) {
	f := newCallFixture(t)
	for name, mutate := range map[string]func(*StartCallInput){
		"missing customer": func(in *StartCallInput) { in.CustomerID = "  " },
		"bad number":       func(in *StartCallInput) { in.PhoneNumber = "555-1234" },
		"no plus":          func(in *StartCallInput) { in.PhoneNumber = "15551234567" },
		"long script":      func(in *StartCallInput) { in.Prompt = string(make([]byte, maxScriptLen+1)) },
	} {
		t.Run(name, func(t *testing.T) {
			in := validStart()
			mutate(&in)
			_, err := f.svc.StartCall(context.Background(), in)
			require.Equal(t, ErrorInvalidInput, requireCode(err))
		})
	}
	require.Empty(t, f.placer.calls)
}

func TestStartCall_ModeratesCustomScript(t *testing.T) {
	f := newCallFixture(t)
	f.mod.flagged = true

	in := validStart()
	in.Prompt = "Threaten the debtor."
	_, err := f.svc.StartCall(context.Background(), in)
	require.Equal(t, ErrorInvalidInput, requireCode(err))
	require.Equal(t, []string{"Threaten the debtor."}, f.mod.inputs)
	require.Empty(t, f.placer.calls)

	f.mod.flagged = false
	f.mod.err = statusErr{code: 429}
	_, err = f.svc.StartCall(context.Background(), in)
	require.Equal(t, ErrorRateLimited, requireCode(err))

	f.mod.err = nil
	in.FirstMessage = "Hi, this is Dana."
	_, err = f.svc.StartCall(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "Threaten the debtor.", f.placer.calls[0].Prompt)
	require.Equal(t, "Hi, this is Dana.", f.placer.calls[0].FirstMessage)
}

func TestStartCall_ReplaysDuplicateRequest(t *testing.T) {
	f := newCallFixture(t)

	first, err := f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)
	second, err := f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)

	require.True(t, second.Replayed)
	require.Equal(t, first.CallID, second.CallID)
	require.Len(t, f.placer.calls, 1)
	require.Len(t, f.sessions.registered, 1)
}

func TestStartCall_IdempotencyKeyReuse(t *testing.T) {
	f := newCallFixture(t)

	in := validStart()
	in.IdempotencyKey = "op-42"
	_, err := f.svc.StartCall(context.Background(), in)
	require.NoError(t, err)

	in.PhoneNumber = "+15557654321"
	_, err = f.svc.StartCall(context.Background(), in)
	require.Equal(t, ErrorConflict, requireCode(err))
	require.Len(t, f.placer.calls, 1)
}

func TestStartCall_PlacementFailureReleasesReservation(t *testing.T) {
	f := newCallFixture(t)
	f.placer.err = &relay.HTTPStatusError{StatusCode: 502}

	_, err := f.svc.StartCall(context.Background(), validStart())
	require.Equal(t, ErrorUpstream, requireCode(err))
	require.Empty(t, f.sessions.registered)

	f.placer.err = nil
	out, err := f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)
	require.False(t, out.Replayed)
	require.Len(t, f.placer.calls, 2)
}

func TestStartCall_AcceptedButUnreadableIsTracked(t *testing.T) {
	f := newCallFixture(t)
	f.placer.result = relay.CallResult{CallID: "ignored"}
	f.placer.err = &relay.UnreadableResponseError{StatusCode: 200, Err: errors.New("invalid JSON")}

	first, err := f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)
	require.Empty(t, first.CallID)
	require.Empty(t, first.ConversationID)
	require.Len(t, f.sessions.registered, 1)
	require.Empty(t, f.sessions.registered[0].CallID, "session falls back to listing")

	second, err := f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Len(t, f.placer.calls, 1, "a call the relay accepted is never dialled twice")
}

func TestStartCall_ActiveSessionConflict(t *testing.T) {
	f := newCallFixture(t)
	f.sessions.admitErr = poller.ErrActive

	_, err := f.svc.StartCall(context.Background(), validStart())
	require.Equal(t, ErrorConflict, requireCode(err))
	require.Empty(t, f.placer.calls)

	f.sessions.admitErr = poller.ErrBusy
	_, err = f.svc.StartCall(context.Background(), validStart())
	require.Equal(t, ErrorRateLimited, requireCode(err))
}

func TestStartCall_RegisterFailureDoesNotRedial(t *testing.T) {
	f := newCallFixture(t)
	f.sessions.registerErr = errors.New("boom")

	_, err := f.svc.StartCall(context.Background(), validStart())
	require.Equal(t, ErrorInternal, requireCode(err))

	out, err := f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)
	require.True(t, out.Replayed)
	require.Len(t, f.placer.calls, 1)
}

func TestStartCall_Wait(t *testing.T) {
	f := newCallFixture(t)
	in := validStart()
	in.Wait = true

	out, err := f.svc.StartCall(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Final)
	require.Equal(t, poller.StateCompleted, out.Final.State)
}

func TestEndCallAndStatus(t *testing.T) {
	f := newCallFixture(t)

	_, err := f.svc.EndCall(context.Background(), "cust-1")
	require.Equal(t, ErrorNotFound, requireCode(err))
	_, err = f.svc.CallStatus(context.Background(), "cust-1")
	require.Equal(t, ErrorNotFound, requireCode(err))

	_, err = f.svc.StartCall(context.Background(), validStart())
	require.NoError(t, err)

	st, err := f.svc.CallStatus(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Equal(t, poller.StatePolling, st.State)

	st, err = f.svc.EndCall(context.Background(), " cust-1 ")
	require.NoError(t, err)
	require.Equal(t, poller.StateCancelled, st.State)
	require.Equal(t, []string{"cust-1"}, f.sessions.stopped)

	_, err = f.svc.EndCall(context.Background(), "cust-1")
	require.Equal(t, ErrorNotFound, requireCode(err))
}

func TestHistory(t *testing.T) {
	f := newCallFixture(t)
	f.history.items["cust-1"] = []domain.ConversationSummary{{Date: time.Now(), Summary: "agreed", Outcome: domain.OutcomeSuccessful}}

	got, err := f.svc.History(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = f.svc.History(context.Background(), "cust-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	f.history.err = errors.New("dynamo down")
	_, err = f.svc.History(context.Background(), "cust-1")
	require.Equal(t, ErrorInternal, requireCode(err))
}

func TestCallLedger_Lifecycle(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newCallLedger(time.Minute, func() time.Time { return now })

	_, outcome := l.reserve("k", "h1")
	require.Equal(t, reserved, outcome)
	_, outcome = l.reserve("k", "h1")
	require.Equal(t, inFlight, outcome)
	_, outcome = l.reserve("k", "h2")
	require.Equal(t, keyReused, outcome)

	l.complete("k", StartCallOutput{CallID: "CA1"})
	got, outcome := l.reserve("k", "h1")
	require.Equal(t, replay, outcome)
	require.Equal(t, "CA1", got.CallID)

	now = now.Add(2 * time.Minute)
	_, outcome = l.reserve("k", "h1")
	require.Equal(t, reserved, outcome)

	l.release("k")
	_, outcome = l.reserve("k", "h2")
	require.Equal(t, reserved, outcome)
}
