// Package cache opens the Redis key/value stores listed under redis.databases and keeps
// them in a registry keyed by database name.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"backbone/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// localRedisPort is used for every server when local_redis is enabled
const localRedisPort = 6379

// Store is one named Redis database connection
type Store struct {
	Name   string
	Addr   string
	DB     int
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewStore creates a store for opts. Command errors are counted and logged at most once
// per errorInterval.
func NewStore(name string, opts *redis.Options, errorInterval time.Duration, logger *zap.SugaredLogger) *Store {
	client := redis.NewClient(opts)
	client.AddHook(newErrorHook(name, errorInterval, logger))

	return &Store{
		Name:   name,
		Addr:   opts.Addr,
		DB:     opts.DB,
		client: client,
		logger: logger,
	}
}

// Client returns the underlying go-redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping tests the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// HSet writes field/value pairs into the hash at key
func (s *Store) HSet(ctx context.Context, key string, values ...interface{}) error {
	return s.client.HSet(ctx, key, values...).Err()
}

// HGetAll reads the whole hash at key
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

// FlushDB clears the store's logical database
func (s *Store) FlushDB(ctx context.Context) error {
	return s.client.FlushDB(ctx).Err()
}

// errorHook reports command failures without flooding the log while a server is down
type errorHook struct {
	store   string
	logger  *zap.SugaredLogger
	limiter *rate.Limiter
}

func newErrorHook(store string, interval time.Duration, logger *zap.SugaredLogger) *errorHook {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &errorHook{
		store:   store,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (h *errorHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *errorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.report(err)
		return err
	}
}

func (h *errorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.report(err)
		return err
	}
}

func (h *errorHook) report(err error) {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return
	}
	metrics.RedisErrors.WithLabelValues(h.store).Inc()
	if h.logger != nil && h.limiter.Allow() {
		h.logger.Errorw("Redis problem", "store", h.store, "error", err)
	}
}

// Addr joins host and port, defaulting the host to localhost.
func Addr(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = localRedisPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func describe(s *Store) string {
	return fmt.Sprintf("%s db %d", s.Addr, s.DB)
}
