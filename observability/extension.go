// Package observability provides a metrics extension for the billing engine
// that records request outcomes through a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/request"
	"github.com/xraph/billing/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnInit              = (*MetricsExtension)(nil)
	_ plugin.OnAdapterRegistered = (*MetricsExtension)(nil)
	_ plugin.OnRequestCommitted  = (*MetricsExtension)(nil)
	_ plugin.OnRequestAborted    = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientFunds = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records engine-wide request metrics.
// Register it as a plugin to track billing throughput and failures.
type MetricsExtension struct {
	factory MetricFactory

	// Adapter metrics
	AdaptersRegistered Counter

	// Request metrics
	RequestsCommitted Counter
	RequestsAborted   Counter
	RequestLatency    Histogram
	TxAttempts        Histogram

	// Billing metrics
	UnitsBilled       Counter
	AmountBilled      Counter
	InsufficientFunds Counter

	// Failure breakdown
	AdapterFailures   Counter
	AdapterNotFound   Counter
	ValidationErrors  Counter
	EntryCollisions   Counter
	TransactionFailed Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		AdaptersRegistered: factory.Counter("billing.adapter.registered"),

		RequestsCommitted: factory.Counter("billing.request.committed"),
		RequestsAborted:   factory.Counter("billing.request.aborted"),
		RequestLatency:    factory.Histogram("billing.request.latency_ms"),
		TxAttempts:        factory.Histogram("billing.request.tx_attempts"),

		UnitsBilled:       factory.Counter("billing.units.billed"),
		AmountBilled:      factory.Counter("billing.amount.billed_minor"),
		InsufficientFunds: factory.Counter("billing.charge.refused"),

		AdapterFailures:   factory.Counter("billing.adapter.failures"),
		AdapterNotFound:   factory.Counter("billing.adapter.not_found"),
		ValidationErrors:  factory.Counter("billing.request.invalid"),
		EntryCollisions:   factory.Counter("billing.entry.collisions"),
		TransactionFailed: factory.Counter("billing.store.tx_failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnAdapterRegistered implements plugin.OnAdapterRegistered.
func (m *MetricsExtension) OnAdapterRegistered(_ context.Context, _ adapter.Adapter) error {
	m.AdaptersRegistered.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Request hooks
// ──────────────────────────────────────────────────

// OnRequestCommitted implements plugin.OnRequestCommitted.
func (m *MetricsExtension) OnRequestCommitted(_ context.Context, out *request.Outcome) error {
	m.RequestsCommitted.Inc()
	m.RequestLatency.Observe(latencyMS(out.Elapsed))
	m.TxAttempts.Observe(float64(out.Attempts))
	if out.Entry != nil {
		m.UnitsBilled.Add(float64(out.Entry.UnitsUsed))
		m.AmountBilled.Add(float64(out.Entry.Cost.Amount))
	}
	return nil
}

// OnRequestAborted implements plugin.OnRequestAborted.
func (m *MetricsExtension) OnRequestAborted(_ context.Context, out *request.Outcome) error {
	m.RequestsAborted.Inc()
	m.RequestLatency.Observe(latencyMS(out.Elapsed))

	switch err := out.Err; {
	case errors.Is(err, billing.ErrAdapterExecution):
		m.AdapterFailures.Inc()
	case errors.Is(err, billing.ErrAdapterNotFound):
		m.AdapterNotFound.Inc()
	case errors.Is(err, billing.ErrInvalidInput):
		m.ValidationErrors.Inc()
	case errors.Is(err, billing.ErrEntryCollision):
		m.EntryCollisions.Inc()
	case errors.Is(err, billing.ErrTransactionFailed):
		m.TransactionFailed.Inc()
	}
	return nil
}

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (m *MetricsExtension) OnInsufficientFunds(_ context.Context, _ string, _, _ types.Money) error {
	m.InsufficientFunds.Inc()
	return nil
}

func latencyMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
