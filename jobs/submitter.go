package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"backbone/cache"
	"backbone/config"
	"backbone/logging"
	"backbone/metrics"
	"backbone/queue"
	"backbone/registry"

	"go.uber.org/zap"
)

// Payload is the job data. Identifier lookups may address nested maps with dots.
type Payload = map[string]any

// payloadJobIDField holds an explicit job id inside the payload
const payloadJobIDField = "jobId"

// Enqueuer is the part of a queue the submitter needs.
type Enqueuer interface {
	Add(ctx context.Context, data map[string]any, opts queue.JobOptions) (*queue.Job, error)
	AddNamed(ctx context.Context, name string, data map[string]any, opts queue.JobOptions) (*queue.Job, error)
}

// HashWriter is the part of a key/value store the watch list needs.
type HashWriter interface {
	HSet(ctx context.Context, key string, values ...interface{}) error
}

// QueueLookup returns the live queue registered under a queue name.
type QueueLookup func(queueName string) (Enqueuer, bool)

// StoreLookup returns the key/value store registered under a database name.
type StoreLookup func(name string) (HashWriter, bool)

// QueuesFrom adapts a queue registry.
func QueuesFrom(queues *registry.Registry[*queue.Queue]) QueueLookup {
	return func(name string) (Enqueuer, bool) {
		q, ok := queues.Get(name)
		if !ok {
			return nil, false
		}
		return q, true
	}
}

// StoresFrom adapts a store registry.
func StoresFrom(stores *registry.Registry[*cache.Store]) StoreLookup {
	return func(name string) (HashWriter, bool) {
		s, ok := stores.Get(name)
		if !ok {
			return nil, false
		}
		return s, true
	}
}

// SubmitParams describe one job submission.
type SubmitParams struct {
	Payload Payload
	// Name submits a named job; empty submits an anonymous one
	Name string
	// JobID is used instead of a generated id. Falls back to Payload["jobId"].
	JobID string
	// Identifier is the payload field (dot separated path) naming the watch-list owner
	Identifier string
	// AddToWatchList defaults to true
	AddToWatchList *bool
	ConfigPath     string
	Environment    string
}

// Result of a successful submission.
type Result struct {
	JobID        string `json:"jobId"`
	QueueName    string `json:"queueName"`
	WatchListKey string `json:"watchListKey,omitempty"`
}

// Outcome is delivered once by SubmitAsync.
type Outcome struct {
	Result Result
	Err    error
}

// Submitter adds jobs to the queue of a job list.
type Submitter struct {
	cfg      *config.Config
	resolver *Resolver
	queues   QueueLookup
	stores   StoreLookup
	logger   *zap.SugaredLogger
	fieldLen int
}

// NewSubmitter creates a submitter. stores may be nil when no watch list is kept.
func NewSubmitter(cfg *config.Config, resolver *Resolver, queues QueueLookup, stores StoreLookup, logger *zap.SugaredLogger) *Submitter {
	if stores == nil {
		stores = func(string) (HashWriter, bool) { return nil, false }
	}
	return &Submitter{
		cfg:      cfg,
		resolver: resolver,
		queues:   queues,
		stores:   stores,
		logger:   logger,
		fieldLen: cfg.Queue.Log.FunctionIdentifierLength,
	}
}

// Submit adds one job to the queue of jobList and records it in the watch list. The job
// is added before the watch-list entry is written. A watch-list failure is returned
// together with the result of the already added job.
func (s *Submitter) Submit(ctx context.Context, jobList string, params SubmitParams) (Result, error) {
	resolved, err := s.resolver.Resolve(jobList, ResolveOptions{
		ConfigPath:  params.ConfigPath,
		Environment: params.Environment,
	})
	if err != nil {
		return Result{}, err
	}
	queueName := resolved.QueueName

	q, ok := s.queues(queueName)
	if !ok {
		return Result{}, &SubmitError{JobList: jobList, QueueName: queueName, Err: ErrQueueClientUnavailable}
	}

	opts := queue.JobOptions{JobID: explicitJobID(params), Attempts: resolved.JobList.Attempts}

	identifierValue, hasIdentifier := lookupIdentifier(params.Payload, params.Identifier)
	if !hasIdentifier {
		s.logger.Warnw(s.prefix("addJob")+" | Job has no identifier",
			"queue", queueName, "identifier", params.Identifier)
	}

	var job *queue.Job
	if params.Name != "" {
		job, err = q.AddNamed(ctx, params.Name, params.Payload, opts)
	} else {
		job, err = q.Add(ctx, params.Payload, opts)
	}
	if err != nil {
		metrics.JobsSubmitted.WithLabelValues(queueName, "error").Inc()
		s.logger.Errorw(queueName+" | Adding job failed", "name", params.Name, "error", err)
		return Result{}, &SubmitError{JobList: jobList, QueueName: queueName, Err: fmt.Errorf("%w: %w", ErrSubmitFailed, err)}
	}
	metrics.JobsSubmitted.WithLabelValues(queueName, "ok").Inc()

	result := Result{JobID: job.ID, QueueName: queueName}

	if !s.watchListEnabled(params) {
		return result, nil
	}
	store, ok := s.stores(s.cfg.QueueStoreName())
	if !ok {
		s.logger.Debugw("Watch list store not available", "store", s.cfg.QueueStoreName())
		return result, nil
	}

	key := WatchListKey(s.cfg, identifierValue)
	if err := store.HSet(ctx, key, job.ID, queueName); err != nil {
		metrics.WatchListWrites.WithLabelValues("error").Inc()
		s.logger.Errorw(queueName+" | Watch list write failed", "key", key, "jobId", job.ID, "error", err)
		return result, &SubmitError{JobList: jobList, QueueName: queueName, Err: fmt.Errorf("%w: %w", ErrWatchListWrite, err)}
	}
	metrics.WatchListWrites.WithLabelValues("ok").Inc()
	result.WatchListKey = key

	return result, nil
}

// SubmitAsync runs Submit in the background. The returned channel receives exactly one
// Outcome and is then closed.
func (s *Submitter) SubmitAsync(ctx context.Context, jobList string, params SubmitParams) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res, err := s.Submit(ctx, jobList, params)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

func (s *Submitter) watchListEnabled(params SubmitParams) bool {
	if s.cfg.Queue.JobListWatchKey == "" {
		return false
	}
	return params.AddToWatchList == nil || *params.AddToWatchList
}

func (s *Submitter) prefix(function string) string {
	return componentName + " | " + logging.PadEnd(function, s.fieldLen)
}

// WatchListKey is "<environment><watch prefix><local suffix>:<identifier>", or without
// the ":<identifier>" part when the job has no identifier.
func WatchListKey(cfg *config.Config, identifier string) string {
	key := cfg.Environment + cfg.Queue.JobListWatchKey + cfg.LocalDevelopment
	if identifier == "" {
		return key
	}
	return key + ":" + identifier
}

func explicitJobID(params SubmitParams) string {
	if params.JobID != "" {
		return params.JobID
	}
	if v, ok := params.Payload[payloadJobIDField]; ok && v != nil {
		return stringValue(v)
	}
	return ""
}

// lookupIdentifier resolves a dot separated path in payload. Missing, nil and empty
// values are reported as absent.
func lookupIdentifier(payload Payload, path string) (string, bool) {
	if path == "" || payload == nil {
		return "", false
	}

	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = m[part]
		if !ok {
			return "", false
		}
	}

	if current == nil {
		return "", false
	}
	value := stringValue(current)
	return value, value != ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
