package extension

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/billing/config"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/store/mongo"
	"github.com/xraph/billing/store/postgres"
	"github.com/xraph/billing/store/redis"
)

// OpenStore connects the backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, policy store.RetryPolicy, logger *slog.Logger) (store.Store, error) {
	var (
		s   store.Store
		err error
	)

	switch cfg.Driver {
	case config.DriverMemory, "":
		s = memory.New(memory.WithRetryPolicy(policy))
	case config.DriverPostgres:
		s, err = postgres.Open(cfg.PostgresDSN,
			postgres.WithRetryPolicy(policy),
			postgres.WithLogger(logger),
		)
	case config.DriverMongo:
		s, err = mongo.Connect(cfg.MongoURI, cfg.MongoDatabase, mongo.WithRetryPolicy(policy))
	case config.DriverRedis:
		s, err = redis.Open(cfg.RedisURL,
			redis.WithPrefix(cfg.RedisPrefix),
			redis.WithRetryPolicy(policy),
		)
	default:
		return nil, fmt.Errorf("billing: unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("billing: %s store unreachable: %w", cfg.Driver, err)
	}

	logger.Info("billing: store connected", "driver", cfg.Driver)
	return s, nil
}
