package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/adapter"
	audithook "github.com/xraph/billing/audit_hook"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/types"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) record(_ context.Context, evt *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func (s *sink) last(action string) *audithook.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Action == action {
			return s.events[i]
		}
	}
	return nil
}

func setup(t *testing.T, opts ...audithook.Option) (*billing.Engine, *sink) {
	t.Helper()
	s := &sink{}
	ext := audithook.New(audithook.RecorderFunc(s.record), opts...)
	e := billing.New(memory.New(),
		billing.WithPlugin(ext),
		billing.WithAdapter(&adapter.Func{
			ServiceID: "echo",
			Price:     types.USD(10),
			Fn: func(context.Context, *adapter.Input) (*adapter.Output, error) {
				return &adapter.Output{EstimatedUnits: adapter.Units(2)}, nil
			},
		}),
	)
	require.NoError(t, e.Start(context.Background()))
	_, err := e.OpenAccount(context.Background(), "alice", types.USD(30))
	require.NoError(t, err)
	return e, s
}

func TestRequestLifecycleIsAudited(t *testing.T) {
	ctx := context.Background()
	e, s := setup(t)

	res, err := e.ProcessRequest(ctx, "alice", "echo", nil)
	require.NoError(t, err)
	_, err = e.ProcessRequest(ctx, "alice", "echo", nil)
	require.ErrorIs(t, err, billing.ErrInsufficientFunds)
	require.NoError(t, e.Stop())

	assert.Equal(t, []string{
		audithook.ActionAdapterRegistered,
		audithook.ActionEngineStarted,
		audithook.ActionRequestCommitted,
		audithook.ActionChargeRefused,
		audithook.ActionRequestAborted,
		audithook.ActionEngineStopped,
	}, s.actions())

	committed := s.last(audithook.ActionRequestCommitted)
	assert.Equal(t, audithook.OutcomeSuccess, committed.Outcome)
	assert.Equal(t, res.Entry.ID.String(), committed.Metadata["entry_id"])
	assert.Equal(t, int64(20), committed.Metadata["cost"])

	aborted := s.last(audithook.ActionRequestAborted)
	assert.Equal(t, audithook.OutcomeFailure, aborted.Outcome)
	assert.Equal(t, audithook.SeverityWarning, aborted.Severity)
	assert.Equal(t, "billing_reconciling", aborted.Metadata["stage"])
	assert.NotEmpty(t, aborted.Reason)
}

func TestAdapterFailureIsAnError(t *testing.T) {
	ctx := context.Background()
	e, s := setup(t)
	require.NoError(t, e.RegisterAdapter(&adapter.Func{
		ServiceID: "broken",
		Price:     types.USD(1),
		Fn: func(context.Context, *adapter.Input) (*adapter.Output, error) {
			return nil, errors.New("down")
		},
	}))

	_, err := e.ProcessRequest(ctx, "alice", "broken", nil)
	require.Error(t, err)

	aborted := s.last(audithook.ActionRequestAborted)
	require.NotNil(t, aborted)
	assert.Equal(t, audithook.SeverityError, aborted.Severity)
	assert.Equal(t, "adapter_executing", aborted.Metadata["stage"])
}

func TestActionAllowlist(t *testing.T) {
	ctx := context.Background()
	e, s := setup(t, audithook.WithActions(audithook.ActionRequestCommitted))

	_, err := e.ProcessRequest(ctx, "alice", "echo", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{audithook.ActionRequestCommitted}, s.actions())
}

func TestActionDenylist(t *testing.T) {
	ctx := context.Background()
	e, s := setup(t, audithook.WithoutActions(audithook.ActionEngineStarted, audithook.ActionAdapterRegistered))

	_, err := e.ProcessRequest(ctx, "alice", "echo", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{audithook.ActionRequestCommitted}, s.actions())
}

func TestMinSeverity(t *testing.T) {
	ctx := context.Background()
	e, s := setup(t, audithook.WithMinSeverity(audithook.SeverityWarning))

	_, err := e.ProcessRequest(ctx, "alice", "echo", nil)
	require.NoError(t, err)
	assert.Empty(t, s.actions(), "info events are dropped")

	_, err = e.ProcessRequest(ctx, "alice", "echo", nil)
	require.ErrorIs(t, err, billing.ErrInsufficientFunds)
	assert.Equal(t, []string{audithook.ActionChargeRefused, audithook.ActionRequestAborted}, s.actions())
}

func TestRecorderFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("audit store down")
	}))
	e := billing.New(memory.New(), billing.WithPlugin(ext), billing.WithAdapter(&adapter.Func{
		ServiceID: "echo",
		Price:     types.USD(1),
		Fn: func(context.Context, *adapter.Input) (*adapter.Output, error) {
			return &adapter.Output{}, nil
		},
	}))
	_, err := e.OpenAccount(ctx, "alice", types.USD(5))
	require.NoError(t, err)

	_, err = e.ProcessRequest(ctx, "alice", "echo", nil)
	assert.NoError(t, err)
}
