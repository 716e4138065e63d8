package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/events"
	"github.com/xraph/billing/request"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/types"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	ctxErr error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctxErr = ctx.Err()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func engine(t *testing.T, p *events.Publisher) *billing.Engine {
	t.Helper()
	e := billing.New(memory.New(),
		billing.WithPlugin(p),
		billing.WithAdapter(&adapter.Func{
			ServiceID: "echo",
			Price:     types.USD(10),
			Fn: func(context.Context, *adapter.Input) (*adapter.Output, error) {
				return &adapter.Output{EstimatedUnits: adapter.Units(2)}, nil
			},
		}),
	)
	_, err := e.OpenAccount(context.Background(), "alice", types.USD(30))
	require.NoError(t, err)
	return e
}

func TestCommittedEntriesArePublished(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	e := engine(t, events.NewPublisher(w))

	res, err := e.ProcessRequest(ctx, "alice", "echo", nil)
	require.NoError(t, err)
	_, err = e.ProcessRequest(ctx, "alice", "echo", nil)
	require.Error(t, err, "second charge is refused")

	require.Len(t, w.msgs, 1, "aborted requests are not published by default")
	msg := w.msgs[0]
	assert.Equal(t, "alice", string(msg.Key))
	assert.Equal(t, events.TypeEntryCommitted, header(msg, "event-type"))

	var evt events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, events.TypeEntryCommitted, evt.Type)
	assert.Equal(t, "echo", evt.ServiceID)
	assert.Equal(t, header(msg, "event-id"), evt.ID)
	require.NotNil(t, evt.Entry)
	assert.Equal(t, res.Entry.ID.String(), evt.Entry.ID.String())
	assert.Equal(t, int64(20), evt.Entry.Cost.Amount)
	assert.Equal(t, int64(10), evt.Entry.ResultingBalance.Amount)

	require.NoError(t, e.Stop())
	assert.True(t, w.closed)
}

func TestAbortedRequestsOptIn(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	e := engine(t, events.NewPublisher(w, events.WithAborted()))

	_, err := e.ProcessRequest(ctx, "alice", "missing", nil)
	require.Error(t, err)

	require.Len(t, w.msgs, 1)
	var evt events.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	assert.Equal(t, events.TypeRequestAborted, evt.Type)
	assert.Equal(t, "received", evt.Stage)
	assert.Contains(t, evt.Error, "missing")
	assert.Nil(t, evt.Entry)
}

func TestWriteFailureDoesNotAffectBilling(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{err: errors.New("broker down")}
	e := engine(t, events.NewPublisher(w))

	res, err := e.ProcessRequest(ctx, "alice", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Balance.Amount)
}

func TestKafkaWriterFlushesPromptly(t *testing.T) {
	w := events.NewKafkaWriter([]string{"localhost:9092"}, "billing.events")
	defer w.Close()

	assert.Equal(t, events.BatchTimeout, w.BatchTimeout)
	assert.Less(t, w.BatchTimeout, 100*time.Millisecond)
	assert.Equal(t, "billing.events", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestPublishOutlivesCallerContext(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewPublisher(w)
	e := engine(t, p)

	res, err := e.ProcessRequest(context.Background(), "alice", "echo", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := &request.Outcome{Request: request.New("alice", "echo", nil, time.Now()), Entry: res.Entry, Attempts: 1}
	require.NoError(t, p.OnRequestCommitted(ctx, out))

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.msgs, 2)
	assert.NoError(t, w.ctxErr, "a cancelled caller does not cancel the write")
}
