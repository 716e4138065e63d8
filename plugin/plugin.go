// Package plugin provides the hook system of the billing engine.
// Plugins implement any subset of the hook interfaces below; the registry
// discovers them at registration time.
package plugin

import (
	"context"

	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/request"
	"github.com/xraph/billing/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Adapter hooks
// ──────────────────────────────────────────────────

// OnAdapterRegistered is called after an adapter is added to the engine.
type OnAdapterRegistered interface {
	Plugin
	OnAdapterRegistered(ctx context.Context, a adapter.Adapter) error
}

// ──────────────────────────────────────────────────
// Request hooks
// ──────────────────────────────────────────────────

// OnRequestCommitted is called after a request's transaction commits.
// out.Entry is the ledger entry that was written.
type OnRequestCommitted interface {
	Plugin
	OnRequestCommitted(ctx context.Context, out *request.Outcome) error
}

// OnRequestAborted is called after a request fails at any stage.
type OnRequestAborted interface {
	Plugin
	OnRequestAborted(ctx context.Context, out *request.Outcome) error
}

// OnInsufficientFunds is called when a charge is refused for lack of balance.
type OnInsufficientFunds interface {
	Plugin
	OnInsufficientFunds(ctx context.Context, accountID string, balance, cost types.Money) error
}
