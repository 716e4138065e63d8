// Package events publishes billing outcomes to Kafka.
//
// The Publisher is a plugin: register it on the engine and every committed
// ledger entry (and, optionally, every aborted request) is written to a
// topic, keyed by account id so one account's events stay in order on a
// single partition.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/billing/entry"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/request"
)

// Event types.
const (
	TypeEntryCommitted = "billing.entry.committed"
	TypeRequestAborted = "billing.request.aborted"
)

var (
	_ plugin.Plugin             = (*Publisher)(nil)
	_ plugin.OnRequestCommitted = (*Publisher)(nil)
	_ plugin.OnRequestAborted   = (*Publisher)(nil)
	_ plugin.OnShutdown         = (*Publisher)(nil)
)

// BatchTimeout is how long the kafka writer holds a partial batch. Writes
// happen on the request path, so it is kept far below kafka-go's 1s default.
const BatchTimeout = 5 * time.Millisecond

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON message body.
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	RequestID  string       `json:"request_id"`
	AccountID  string       `json:"account_id"`
	ServiceID  string       `json:"service_id"`
	Attempts   int          `json:"attempts"`
	Entry      *entry.Entry `json:"entry,omitempty"`
	Stage      string       `json:"stage,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Publisher writes billing events through a Writer.
type Publisher struct {
	writer       Writer
	logger       *slog.Logger
	withAborted  bool
	writeTimeout time.Duration
	clock        func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithAborted also publishes aborted requests.
func WithAborted() Option {
	return func(p *Publisher) { p.withAborted = true }
}

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.writeTimeout = d }
}

// NewPublisher wraps w.
func NewPublisher(w Writer, opts ...Option) *Publisher {
	p := &Publisher{
		writer:       w,
		logger:       slog.Default(),
		writeTimeout: 3 * time.Second,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewKafkaWriter returns a kafka.Writer hashing keys onto partitions.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           BatchTimeout,
		AllowAutoTopicCreation: true,
	}
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "kafka-events" }

// OnRequestCommitted implements plugin.OnRequestCommitted.
func (p *Publisher) OnRequestCommitted(ctx context.Context, out *request.Outcome) error {
	evt := p.event(TypeEntryCommitted, out)
	evt.Entry = out.Entry
	return p.publish(ctx, evt)
}

// OnRequestAborted implements plugin.OnRequestAborted.
func (p *Publisher) OnRequestAborted(ctx context.Context, out *request.Outcome) error {
	if !p.withAborted {
		return nil
	}
	evt := p.event(TypeRequestAborted, out)
	evt.Stage = string(out.Stage)
	if out.Err != nil {
		evt.Error = out.Err.Error()
	}
	return p.publish(ctx, evt)
}

// OnShutdown implements plugin.OnShutdown.
func (p *Publisher) OnShutdown(context.Context) error {
	return p.writer.Close()
}

func (p *Publisher) event(typ string, out *request.Outcome) *Event {
	return &Event{
		ID:         id.NewEventID().String(),
		Type:       typ,
		OccurredAt: p.clock().UTC(),
		RequestID:  out.Request.ID.String(),
		AccountID:  out.Request.AccountID,
		ServiceID:  out.Request.ServiceID,
		Attempts:   out.Attempts,
	}
}

func (p *Publisher) publish(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(evt.AccountID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "event-id", Value: []byte(evt.ID)},
		},
		Time: evt.OccurredAt,
	}

	// The entry is already committed; a caller going away must not drop
	// its event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("events: kafka write failed",
			"type", evt.Type,
			"account_id", evt.AccountID,
			"error", err,
		)
		return fmt.Errorf("events: publish %s: %w", evt.Type, err)
	}
	return nil
}
