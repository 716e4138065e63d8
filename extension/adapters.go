package extension

import (
	"fmt"
	"log/slog"

	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/adapter/echo"
	"github.com/xraph/billing/adapter/httpcall"
	"github.com/xraph/billing/adapter/script"
	"github.com/xraph/billing/config"
	"github.com/xraph/billing/types"
)

// BuildAdapters instantiates every adapter declared in cfg. With none
// declared, a single echo adapter priced at one minor unit is returned so
// a fresh daemon has something to bill.
func BuildAdapters(cfg config.Config, logger *slog.Logger) ([]adapter.Adapter, error) {
	if len(cfg.Adapters) == 0 {
		return []adapter.Adapter{echo.New(echo.DefaultID, types.New(1, cfg.Currency))}, nil
	}

	out := make([]adapter.Adapter, 0, len(cfg.Adapters))
	for _, ac := range cfg.Adapters {
		a, err := buildAdapter(ac, cfg.Currency, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func buildAdapter(ac config.AdapterConfig, currency string, logger *slog.Logger) (adapter.Adapter, error) {
	price, err := ac.UnitPrice(currency)
	if err != nil {
		return nil, fmt.Errorf("billing: adapter %s: %w", ac.ID, err)
	}

	switch ac.Kind {
	case config.KindEcho:
		return echo.New(ac.ID, price), nil

	case config.KindScript:
		src, err := ac.LoadSource()
		if err != nil {
			return nil, err
		}
		return script.New(script.Config{
			ID:         ac.ID,
			Name:       ac.Name,
			Price:      price,
			Source:     src,
			EntryPoint: ac.EntryPoint,
			Timeout:    ac.Timeout,
			Logger:     logger,
		})

	case config.KindHTTP:
		return httpcall.New(httpcall.Config{
			ID:        ac.ID,
			Name:      ac.Name,
			Price:     price,
			URL:       ac.URL,
			Method:    ac.Method,
			Headers:   ac.Headers,
			Timeout:   ac.Timeout,
			UnitsPath: ac.UnitsPath,
			DataPath:  ac.DataPath,
		})

	default:
		return nil, fmt.Errorf("billing: adapter %s: unknown kind %q", ac.ID, ac.Kind)
	}
}
