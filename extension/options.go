package extension

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/billing"
	"github.com/xraph/billing/events"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/store"
)

// Option configures the Extension.
type Option func(*Extension)

// WithStore sets the store instead of opening the configured driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLogger sets the logger shared by the engine, store and plugins.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEngineOption passes a billing.Option through to the underlying engine.
func WithEngineOption(opt billing.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an additional plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.plugins = append(e.plugins, p)
	}
}

// WithRegisterer sets where metrics are registered. The default is
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Extension) { e.registerer = r }
}

// WithKafkaWriter publishes events through w, enabling the publisher even
// when kafka is disabled in config.
func WithKafkaWriter(w events.Writer) Option {
	return func(e *Extension) { e.kafka = w }
}
