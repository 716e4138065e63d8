package plugin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/request"
)

type committedCounter struct {
	name  string
	calls int
	err   error
}

func (c *committedCounter) Name() string { return c.name }

func (c *committedCounter) OnRequestCommitted(context.Context, *request.Outcome) error {
	c.calls++
	return c.err
}

type slowShutdown struct{}

func (slowShutdown) Name() string { return "slow" }

func (slowShutdown) OnShutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) OnRequestAborted(context.Context, *request.Outcome) error {
	panic("boom")
}

func quiet() *plugin.Registry {
	return plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterDiscoversHooks(t *testing.T) {
	r := quiet()
	a := &committedCounter{name: "a"}
	b := &committedCounter{name: "b", err: errors.New("ignored")}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(slowShutdown{}))

	r.EmitRequestCommitted(context.Background(), &request.Outcome{})

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls, "a failing plugin does not stop dispatch")
	assert.Equal(t, 3, r.Count())
	assert.Same(t, a, r.Get("a"))
	assert.Nil(t, r.Get("nope"))
}

func TestRegisterDuplicate(t *testing.T) {
	r := quiet()
	require.NoError(t, r.Register(&committedCounter{name: "a"}))
	assert.Error(t, r.Register(&committedCounter{name: "a"}))
	assert.Len(t, r.List(), 1)
}

func TestHookTimeout(t *testing.T) {
	r := quiet().WithTimeout(10 * time.Millisecond)
	require.NoError(t, r.Register(slowShutdown{}))

	done := make(chan struct{})
	go func() {
		r.EmitShutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EmitShutdown blocked past the hook timeout")
	}
}

func TestHookPanicIsContained(t *testing.T) {
	r := quiet()
	require.NoError(t, r.Register(panicky{}))

	assert.NotPanics(t, func() {
		r.EmitRequestAborted(context.Background(), &request.Outcome{})
	})
}
