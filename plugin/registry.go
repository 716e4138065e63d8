package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/request"
	"github.com/xraph/billing/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once, at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit              []OnInit
	onShutdown          []OnShutdown
	onAdapterRegistered []OnAdapterRegistered
	onRequestCommitted  []OnRequestCommitted
	onRequestAborted    []OnRequestAborted
	onInsufficientFunds []OnInsufficientFunds
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAdapterRegistered); ok {
		r.onAdapterRegistered = append(r.onAdapterRegistered, v)
	}
	if v, ok := p.(OnRequestCommitted); ok {
		r.onRequestCommitted = append(r.onRequestCommitted, v)
	}
	if v, ok := p.(OnRequestAborted); ok {
		r.onRequestAborted = append(r.onRequestAborted, v)
	}
	if v, ok := p.(OnInsufficientFunds); ok {
		r.onInsufficientFunds = append(r.onInsufficientFunds, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name  string
	iface reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnAdapterRegistered", reflect.TypeFor[OnAdapterRegistered]()},
	{"OnRequestCommitted", reflect.TypeFor[OnRequestCommitted]()},
	{"OnRequestAborted", reflect.TypeFor[OnRequestAborted]()},
	{"OnInsufficientFunds", reflect.TypeFor[OnInsufficientFunds]()},
}

func implementedInterfaces(p Plugin) []string {
	var out []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.iface) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnInit", p.Name(), func(ctx context.Context) error {
			return p.OnInit(ctx, engine)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnShutdown", p.Name(), func(ctx context.Context) error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitAdapterRegistered notifies plugins of a new adapter.
func (r *Registry) EmitAdapterRegistered(ctx context.Context, a adapter.Adapter) {
	r.mu.RLock()
	plugins := r.onAdapterRegistered
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnAdapterRegistered", p.Name(), func(ctx context.Context) error {
			return p.OnAdapterRegistered(ctx, a)
		})
	}
}

// EmitRequestCommitted notifies plugins of a committed request.
func (r *Registry) EmitRequestCommitted(ctx context.Context, out *request.Outcome) {
	r.mu.RLock()
	plugins := r.onRequestCommitted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnRequestCommitted", p.Name(), func(ctx context.Context) error {
			return p.OnRequestCommitted(ctx, out)
		})
	}
}

// EmitRequestAborted notifies plugins of an aborted request.
func (r *Registry) EmitRequestAborted(ctx context.Context, out *request.Outcome) {
	r.mu.RLock()
	plugins := r.onRequestAborted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnRequestAborted", p.Name(), func(ctx context.Context) error {
			return p.OnRequestAborted(ctx, out)
		})
	}
}

// EmitInsufficientFunds notifies plugins of a refused charge.
func (r *Registry) EmitInsufficientFunds(ctx context.Context, accountID string, balance, cost types.Money) {
	r.mu.RLock()
	plugins := r.onInsufficientFunds
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnInsufficientFunds", p.Name(), func(ctx context.Context) error {
			return p.OnInsufficientFunds(ctx, accountID, balance, cost)
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, hook, pluginName string, fn func(context.Context) error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("plugin timeout: %s: %w", pluginName, ctx.Err())
	}
}
