package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"backbone/api"
	"backbone/cache"
	"backbone/config"
	"backbone/database"
	"backbone/jobs"
	"backbone/logging"
	"backbone/queue"
	"backbone/registry"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configure NewApp.
type Options struct {
	// ConfigPath is the config file to load. Empty searches ./config.yaml and ./config/config.yaml.
	ConfigPath string
	// ConsoleOut receives the bootstrap banner. Nil writes to stdout.
	ConsoleOut io.Writer
	// Queue selects the job-list table and the handlers attached to its queues
	Queue jobs.SetupOptions
}

// App is the shared application context of a backbone process. It owns every
// connection opened during bootstrap.
type App struct {
	// Configuration
	Config  *config.Config
	Logger  *zap.Logger
	Sugar   *zap.SugaredLogger
	Console *logging.Console

	// Connections
	Stores    *registry.Registry[*cache.Store]
	Databases *registry.Registry[*database.Pool]
	Queues    *registry.Registry[*queue.Queue]

	// Services
	Resolver  *jobs.Resolver
	Submitter *jobs.Submitter
	APIServer *api.API

	// Lifecycle
	opts         Options
	ctx          context.Context
	cancel       context.CancelFunc
	serviceWg    *sync.WaitGroup
	shutdownOnce sync.Once
}

// NewApp loads configuration and builds the logger. Nothing is connected until Connect.
func NewApp(opts Options) (*App, error) {
	cfg, err := InitConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, _, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger, opts), nil
}

// New creates an App from an already loaded configuration.
func New(cfg *config.Config, logger *zap.Logger, opts Options) *App {
	return &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     logger.Sugar(),
		Console:   logging.NewConsole(opts.ConsoleOut, 0),
		Resolver:  jobs.NewResolver(cfg),
		opts:      opts,
		serviceWg: &sync.WaitGroup{},
	}
}

// Connect opens Redis stores, database pools and queues, in that order, then builds the
// submitter on top of them. Workers and listeners started here run until Shutdown.
// In strict mode the first failure closes everything opened so far and is returned.
func (a *App) Connect(ctx context.Context) error {
	logStartup(a.Config, a.Sugar)
	a.ctx, a.cancel = context.WithCancel(ctx)

	stores, err := cache.Connect(a.ctx, a.Config, a.Sugar, a.Console)
	if err != nil {
		a.Sugar.Error(ClassifyConnectionError(err, "Redis", ""))
		return a.abort(err)
	}
	a.Stores = stores

	databases, err := database.ConnectAll(a.ctx, a.Config, a.Sugar, a.Console)
	if err != nil {
		a.Sugar.Error(ClassifyConnectionError(err, "database", ""))
		return a.abort(err)
	}
	a.Databases = databases

	queues, err := jobs.InitQueues(a.ctx, a.Config, a.opts.Queue, a.Sugar, a.Console)
	if err != nil {
		return a.abort(fmt.Errorf("queue bootstrap failed: %w", err))
	}
	a.Queues = queues

	a.Submitter = jobs.NewSubmitter(a.Config, a.Resolver, jobs.QueuesFrom(queues), jobs.StoresFrom(stores), a.Sugar)

	a.Sugar.Infow("Bootstrap complete",
		"stores", stores.Len(),
		"databases", databases.Len(),
		"queues", queues.Len())
	return nil
}

func (a *App) abort(err error) error {
	if closeErr := a.Shutdown(); closeErr != nil {
		a.Sugar.Warnw("Cleanup after failed bootstrap", "error", closeErr)
	}
	return err
}

// Start starts the admin API when api.enabled is set.
func (a *App) Start() error {
	if a.Submitter == nil {
		return errors.New("app is not connected")
	}
	if !a.Config.API.Enabled {
		return nil
	}
	return a.startAPIServer()
}

// HealthChecks returns every open connection keyed by "<kind>:<name>".
func (a *App) HealthChecks() map[string]api.Pinger {
	checks := make(map[string]api.Pinger)
	if a.Stores != nil {
		a.Stores.Range(func(name string, s *cache.Store) bool {
			checks["redis:"+name] = s
			return true
		})
	}
	if a.Databases != nil {
		a.Databases.Range(func(name string, p *database.Pool) bool {
			checks["database:"+name] = p
			return true
		})
	}
	if a.Queues != nil {
		a.Queues.Range(func(name string, q *queue.Queue) bool {
			checks["queue:"+name] = q
			return true
		})
	}
	return checks
}

// WaitForShutdown blocks until a shutdown signal is received or ctx is done.
func (a *App) WaitForShutdown(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case <-c:
	case <-ctx.Done():
	}
}

// Shutdown stops workers, listeners and the API server, then closes queues, pools and
// stores. It is safe to call more than once; only the first call does any work.
func (a *App) Shutdown() error {
	var err error
	a.shutdownOnce.Do(func() {
		err = a.shutdown()
	})
	return err
}

func (a *App) shutdown() error {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - Stop workers and listeners
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error

	// Phase 2 - Stop API server
	if a.APIServer != nil {
		a.Sugar.Info("Stopping API server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop api server: %w", err))
		}
		cancel()
	}

	// Phase 3 - Wait for service goroutines
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	// Phase 4 - Close connections
	a.Sugar.Info("Closing connections...")
	if a.Queues != nil {
		errs = append(errs, jobs.CloseQueues(a.Queues))
	}
	if a.Databases != nil {
		errs = append(errs, database.CloseAll(a.Databases))
	}
	if a.Stores != nil {
		errs = append(errs, cache.CloseAll(a.Stores))
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
	return multierr.Combine(errs...)
}

// startAPIServer creates and starts the API server.
func (a *App) startAPIServer() error {
	a.APIServer = api.NewAPI(a.Queues, a.Submitter, a.HealthChecks(), a.Config, a.Sugar)

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.Sugar.Infof("API server started on %s", a.Config.API.Addr)
		if err := a.APIServer.Start(a.Config.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()

	return nil
}
