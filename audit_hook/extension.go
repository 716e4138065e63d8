// Package audithook bridges billing engine events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/billing"
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/request"
	"github.com/xraph/billing/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnInit              = (*Extension)(nil)
	_ plugin.OnShutdown          = (*Extension)(nil)
	_ plugin.OnAdapterRegistered = (*Extension)(nil)
	_ plugin.OnRequestCommitted  = (*Extension)(nil)
	_ plugin.OnRequestAborted    = (*Extension)(nil)
	_ plugin.OnInsufficientFunds = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges engine events to an audit trail backend.
type Extension struct {
	recorder Recorder
	only     map[string]bool // nil = every action
	skip     map[string]bool
	minRank  int
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit implements plugin.OnInit.
func (e *Extension) OnInit(ctx context.Context, _ any) error {
	return e.record(ctx, ActionEngineStarted, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategorySystem, nil,
	)
}

// OnShutdown implements plugin.OnShutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionEngineStopped, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategorySystem, nil,
	)
}

// OnAdapterRegistered implements plugin.OnAdapterRegistered.
func (e *Extension) OnAdapterRegistered(ctx context.Context, a adapter.Adapter) error {
	return e.record(ctx, ActionAdapterRegistered, SeverityInfo, OutcomeSuccess,
		ResourceAdapter, a.ID(), CategoryIntegration, nil,
		"name", a.Name(),
		"unit_price", a.UnitPrice().Amount,
		"currency", a.UnitPrice().Currency,
	)
}

// ──────────────────────────────────────────────────
// Request hooks
// ──────────────────────────────────────────────────

// OnRequestCommitted implements plugin.OnRequestCommitted.
func (e *Extension) OnRequestCommitted(ctx context.Context, out *request.Outcome) error {
	kv := []any{
		"account_id", out.Request.AccountID,
		"service_id", out.Request.ServiceID,
		"attempts", out.Attempts,
	}
	if ent := out.Entry; ent != nil {
		kv = append(kv,
			"entry_id", ent.ID.String(),
			"units_used", ent.UnitsUsed,
			"cost", ent.Cost.Amount,
			"resulting_balance", ent.ResultingBalance.Amount,
			"currency", ent.Cost.Currency,
		)
	}
	return e.record(ctx, ActionRequestCommitted, SeverityInfo, OutcomeSuccess,
		ResourceRequest, out.Request.ID.String(), CategoryBilling, nil,
		kv...,
	)
}

// OnRequestAborted implements plugin.OnRequestAborted.
func (e *Extension) OnRequestAborted(ctx context.Context, out *request.Outcome) error {
	return e.record(ctx, ActionRequestAborted, abortSeverity(out.Err), OutcomeFailure,
		ResourceRequest, out.Request.ID.String(), CategoryBilling, out.Err,
		"account_id", out.Request.AccountID,
		"service_id", out.Request.ServiceID,
		"stage", string(out.Stage),
		"attempts", out.Attempts,
	)
}

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (e *Extension) OnInsufficientFunds(ctx context.Context, accountID string, balance, cost types.Money) error {
	return e.record(ctx, ActionChargeRefused, SeverityWarning, OutcomeFailure,
		ResourceAccount, accountID, CategoryBilling, nil,
		"balance", balance.Amount,
		"cost", cost.Amount,
		"currency", cost.Currency,
	)
}

// abortSeverity grades a failure: caller mistakes and refused charges are
// warnings, everything else is an error.
func abortSeverity(err error) string {
	switch {
	case errors.Is(err, billing.ErrInsufficientFunds),
		errors.Is(err, billing.ErrInvalidInput),
		billing.IsNotFound(err):
		return SeverityWarning
	case errors.Is(err, billing.ErrEntryCollision):
		return SeverityCritical
	default:
		return SeverityError
	}
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) wants(action, severity string) bool {
	if e.only != nil && !e.only[action] {
		return false
	}
	if e.skip[action] {
		return false
	}
	return severityRank(severity) >= e.minRank
}

// record builds and sends an audit event unless it is filtered out.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if !e.wants(action, severity) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
