package jobs

import (
	"context"
	"fmt"
	"strconv"

	"backbone/cache"
	"backbone/config"
	"backbone/logging"
	"backbone/queue"
	"backbone/registry"
	"backbone/util/goroutine"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// componentName prefixes queue log lines
var componentName = logging.PadEnd("Queue", 10)

// defaultQueueDB is used when the queue database is not configured
const defaultQueueDB = 3

// SetupOptions select the job-list table and the callbacks attached to its queues.
type SetupOptions struct {
	ConfigPath  string
	Environment string
	// Completed maps job-list names to their global completed handler
	Completed map[string]queue.CompletedHandler
	// Processors maps job-list names to the processor run by this process
	Processors map[string]queue.Processor
}

// InitQueues creates one queue per job list, each with its own Redis client on the
// queue database. With queue.activate_listeners set, listeners and workers are started
// for the lists flagged listening or worker, and finished jobs are cleaned.
// Workers and listeners stop when ctx is done.
func InitQueues(ctx context.Context, cfg *config.Config, opts SetupOptions, logger *zap.SugaredLogger, console *logging.Console) (*registry.Registry[*queue.Queue], error) {
	console.Headline("queue")

	server, ok := cfg.RedisServerByName(cfg.Queue.Redis.Server)
	if !ok {
		server = config.RedisServer{Server: cfg.Queue.Redis.Server, Host: "localhost"}
	}
	db := defaultQueueDB
	if database, ok := cfg.RedisDatabaseByName(cfg.QueueStoreName()); ok {
		db = database.DB
	}
	redisOpts := cache.OptionsFor(cfg, server, db)

	console.ServerInfo(map[string]string{
		"Name":      cfg.QueueStoreName(),
		"Host/Port": redisOpts.Addr,
		"DB":        strconv.Itoa(db),
	})

	resolver := NewResolver(cfg)
	queues := registry.New[*queue.Queue]()

	for _, jl := range cfg.JobListTable(opts.ConfigPath) {
		resolved, err := resolver.Resolve(jl.JobList, ResolveOptions{ConfigPath: opts.ConfigPath, Environment: opts.Environment})
		if err != nil {
			CloseQueues(queues)
			return nil, err
		}
		queueName := resolved.QueueName

		store := cache.NewStore(queueName, cache.OptionsFor(cfg, server, db), cfg.Redis.ErrorInterval, logger)
		q := queue.New(queueName, store.Client(), queue.Options{Prefix: cfg.Queue.Prefix, Logger: logger})
		queues.Register(queueName, q)
		console.Listing("Queue", queueName)

		if !cfg.Queue.ActivateListeners {
			continue
		}
		if err := activate(ctx, cfg, q, jl, opts, logger, console); err != nil {
			CloseQueues(queues)
			return nil, err
		}
	}

	return queues, nil
}

func activate(ctx context.Context, cfg *config.Config, q *queue.Queue, jl config.JobList, opts SetupOptions, logger *zap.SugaredLogger, console *logging.Console) error {
	if jl.Listening {
		handlers := queue.Handlers{
			Completed: opts.Completed[jl.JobList],
			Failed:    FailedJobLogger(q.Name(), cfg.Queue.Log.FunctionIdentifierLength, logger),
		}
		if err := q.Subscribe(ctx, handlers); err != nil {
			return fmt.Errorf("activate listener for %s: %w", q.Name(), err)
		}
		console.Listing("", "Listener activated")
	}

	if jl.Worker {
		proc, ok := opts.Processors[jl.JobList]
		if !ok {
			return fmt.Errorf("no processor registered for job list %s", jl.JobList)
		}
		worker := q.NewWorker(proc, queue.WorkerOptions{
			Concurrency: jl.Concurrency,
			Attempts:    jl.Attempts,
			LockTTL:     jl.LockDuration,
		})
		goroutine.Go("queue-worker-"+q.Name(), logger, func() {
			if err := worker.Run(ctx); err != nil {
				logger.Errorw("Worker stopped", "queue", q.Name(), "error", err)
			}
		})
		console.Listing("", "Worker activated")
	}

	grace := jl.AutoClean
	if grace == 0 {
		grace = cfg.Queue.AutoClean
	}
	if grace > 0 {
		removed, err := q.Clean(ctx, grace, queue.StateCompleted)
		if err != nil {
			logger.Warnw("Auto clean failed", "queue", q.Name(), "error", err)
		} else if removed > 0 {
			logger.Infow("Auto clean removed jobs", "queue", q.Name(), "removed", removed)
		}
	}
	return nil
}

// FailedJobLogger logs "<component> | <queue> | # <jobId> | Job Failed" for every job
// of queueName that runs out of attempts.
func FailedJobLogger(queueName string, fieldWidth int, logger *zap.SugaredLogger) queue.FailedHandler {
	identifier := logging.PadEnd(queueName, fieldWidth)
	return func(jobID, reason string) {
		logger.Errorw(fmt.Sprintf("%s | %s | # %s | Job Failed", componentName, identifier, jobID), "reason", reason)
	}
}

// CloseQueues closes every queue and returns the combined errors.
func CloseQueues(queues *registry.Registry[*queue.Queue]) error {
	var errs []error
	queues.Range(func(name string, q *queue.Queue) bool {
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue %s: %w", name, err))
		}
		return true
	})
	return multierr.Combine(errs...)
}
