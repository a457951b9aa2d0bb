package cache

import (
	"context"
	"fmt"
	"strconv"

	"backbone/config"
	"backbone/logging"
	"backbone/metrics"
	"backbone/registry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OptionsFor builds go-redis options for the named server and logical database.
func OptionsFor(cfg *config.Config, server config.RedisServer, db int) *redis.Options {
	port := server.Port
	if cfg.LocalRedis {
		port = localRedisPort
	}

	return &redis.Options{
		Addr:            Addr(server.Host, port),
		Username:        server.Username,
		Password:        server.Password,
		DB:              db,
		PoolSize:        cfg.Redis.PoolSize,
		MaxRetries:      cfg.Redis.Retry.MaxRetries,
		MinRetryBackoff: cfg.Redis.Retry.MinBackoff,
		MaxRetryBackoff: cfg.Redis.Retry.MaxBackoff,
	}
}

// Connect opens a Store for every redis.databases entry that is not marked
// ignore_bootstrap, in configuration order. In strict startup mode the first failure
// aborts and already opened stores are closed; in graceful mode failures are logged and
// the unreachable store is still registered so that it can recover later.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, console *logging.Console) (*registry.Registry[*Store], error) {
	console.Headline("redis")
	stores := registry.New[*Store]()

	for _, database := range cfg.Redis.Databases {
		if database.IgnoreBootstrap {
			continue
		}

		server, ok := cfg.RedisServerByName(database.Server)
		if !ok {
			err := fmt.Errorf("redis database %s: %w", database.Name, config.ErrMissingServerConfig)
			if cfg.StartupMode != config.StartupModeGraceful {
				closeAll(stores)
				return nil, err
			}
			logger.Errorw("Redis bootstrap skipped database", "name", database.Name, "error", err)
			continue
		}

		opts := OptionsFor(cfg, server, database.DB)
		if cfg.IsTest() {
			name := database.Name
			opts.OnConnect = func(ctx context.Context, _ *redis.Conn) error {
				logger.Debugw("Connected to Redis", "name", name)
				return nil
			}
		}

		store := NewStore(database.Name, opts, cfg.Redis.ErrorInterval, logger)
		if err := store.Ping(ctx); err != nil {
			metrics.SetConnection("redis", database.Name, false)
			logger.Errorw("Redis ready check failed", "name", database.Name, "addr", opts.Addr, "error", err)
			console.Listing("Name", database.Name)
			console.Failure("Connection", "Failed")
			if cfg.StartupMode != config.StartupModeGraceful {
				_ = store.Close()
				closeAll(stores)
				return nil, fmt.Errorf("redis database %s not ready: %w", database.Name, err)
			}
			stores.Register(database.Name, store)
			continue
		}

		metrics.SetConnection("redis", database.Name, true)
		stores.Register(database.Name, store)

		console.Listing("Name", database.Name)
		console.Listing("Host/Port", opts.Addr)
		console.Listing("DB", strconv.Itoa(database.DB))
		console.Success("Connection", "Successful")
		logger.Infow("Redis store ready", "name", database.Name, "addr", describe(store))

		if cfg.IsTest() && cfg.Redis.FlushInTestMode {
			if err := store.FlushDB(ctx); err != nil {
				closeAll(stores)
				return nil, fmt.Errorf("flush redis database %s: %w", database.Name, err)
			}
			console.Success("Flushed", "Successful")
		}
	}

	return stores, nil
}

// CloseAll closes every store in the registry and returns the combined errors.
func CloseAll(stores *registry.Registry[*Store]) error {
	return closeAll(stores)
}

func closeAll(stores *registry.Registry[*Store]) error {
	var errs error
	stores.Range(func(name string, s *Store) bool {
		if err := s.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close redis store %s: %w", name, err))
		}
		return true
	})
	return errs
}
