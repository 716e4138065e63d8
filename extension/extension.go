// Package extension assembles a runnable billing service from a
// config.Config: it opens the configured store, builds the declared
// adapters, attaches the metrics, audit and event plugins, and manages the
// engine lifecycle.
//
// Pieces can be replaced programmatically via Option functions, which is
// how tests inject an in-memory store or a fake Kafka writer.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/billing"
	audithook "github.com/xraph/billing/audit_hook"
	"github.com/xraph/billing/config"
	"github.com/xraph/billing/events"
	"github.com/xraph/billing/observability"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/store"
)

// ExtensionName is the name used in logs.
const ExtensionName = "billing"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Extension owns one engine and the store behind it.
type Extension struct {
	config     config.Config
	logger     *slog.Logger
	engine     *billing.Engine
	store      store.Store
	registerer prometheus.Registerer
	kafka      events.Writer
	plugins    []plugin.Plugin
	engineOpts []billing.Option
	started    bool
}

// New creates an Extension for cfg.
func New(cfg config.Config, opts ...Option) *Extension {
	e := &Extension{
		config:     cfg,
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *billing.Engine { return e.engine }

// Config returns the resolved configuration.
func (e *Extension) Config() config.Config { return e.config }

// Register opens the store and builds the engine with its adapters and
// plugins. It does not touch the store beyond connecting.
func (e *Extension) Register(ctx context.Context) error {
	if e.engine != nil {
		return errors.New("billing: extension already registered")
	}

	if e.store == nil {
		s, err := OpenStore(ctx, e.config.Store, e.config.Retry.Policy(), e.logger)
		if err != nil {
			return err
		}
		e.store = s
	}

	adapters, err := BuildAdapters(e.config, e.logger)
	if err != nil {
		return err
	}

	opts := e.buildEngineOpts()
	for _, a := range adapters {
		opts = append(opts, billing.WithAdapter(a))
	}

	e.engine = billing.New(e.store, opts...)
	e.logger.Debug("billing: extension registered",
		"version", ExtensionVersion,
		"store", e.config.Store.Driver,
		"adapters", len(adapters),
		"plugins", e.engine.Plugins().Count(),
	)
	return nil
}

// Start migrates the store, starts the engine and opens seeded accounts
// that do not exist yet.
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("billing: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.started = true

	for _, seed := range e.config.Accounts {
		opening, err := seed.Opening(e.config.Currency)
		if err != nil {
			return fmt.Errorf("billing: seed %s: %w", seed.ID, err)
		}
		_, err = e.engine.OpenAccount(ctx, seed.ID, opening)
		switch {
		case errors.Is(err, billing.ErrAccountExists):
			e.logger.Debug("billing: seed account exists", "account_id", seed.ID)
		case err != nil:
			return fmt.Errorf("billing: seed %s: %w", seed.ID, err)
		default:
			e.logger.Info("billing: seed account opened", "account_id", seed.ID, "balance", opening.String())
		}
	}
	return nil
}

// Stop stops the engine and closes the store.
func (e *Extension) Stop(_ context.Context) error {
	if e.engine == nil || !e.started {
		return nil
	}
	e.started = false
	return e.engine.Stop()
}

// Health reports whether the store is reachable.
func (e *Extension) Health(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("billing: store not initialized")
	}
	return e.engine.Ping(ctx)
}

// buildEngineOpts constructs billing.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []billing.Option {
	opts := []billing.Option{
		billing.WithLogger(e.logger),
		billing.WithDefaultCurrency(e.config.Currency),
	}
	if e.config.PluginTimeout > 0 {
		opts = append(opts, billing.WithPluginTimeout(e.config.PluginTimeout))
	}

	if e.config.Metrics.Enabled {
		factory := observability.NewPrometheusFactory(e.registerer)
		opts = append(opts, billing.WithPlugin(observability.NewMetricsExtension(factory)))
	}

	if e.config.AuditLog {
		rec := audithook.NewLogRecorder(e.logger.With("component", "audit"))
		opts = append(opts, billing.WithPlugin(audithook.New(rec, audithook.WithLogger(e.logger))))
	}

	if e.config.Kafka.Enabled || e.kafka != nil {
		w := e.kafka
		if w == nil {
			w = events.NewKafkaWriter(e.config.Kafka.Brokers, e.config.Kafka.Topic)
		}
		pubOpts := []events.Option{events.WithLogger(e.logger)}
		if e.config.Kafka.PublishAborted {
			pubOpts = append(pubOpts, events.WithAborted())
		}
		if e.config.Kafka.WriteTimeout > 0 {
			pubOpts = append(pubOpts, events.WithWriteTimeout(e.config.Kafka.WriteTimeout))
		}
		opts = append(opts, billing.WithPlugin(events.NewPublisher(w, pubOpts...)))
	}

	for _, p := range e.plugins {
		opts = append(opts, billing.WithPlugin(p))
	}

	// Pass-through options last so they win.
	return append(opts, e.engineOpts...)
}
