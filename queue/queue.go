// Package queue is a Redis backed job queue. Jobs are stored as hashes and referenced
// from a wait list, an active list and completed/failed sorted sets under
// "<prefix>:<queue>". Job data is msgpack encoded.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"backbone/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned by GetJob for an unknown id
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned when adding to a closed queue
var ErrQueueClosed = errors.New("queue closed")

// DefaultPrefix is the key prefix used when Options.Prefix is empty
const DefaultPrefix = "bull"

// addScript creates the job hash and pushes the id onto the wait list. When a custom
// id is given and the job already exists nothing is changed.
var addScript = redis.NewScript(`
local jobId = ARGV[2]
if jobId == "" then
  jobId = tostring(redis.call("INCR", KEYS[1]))
end
local jobKey = ARGV[1] .. jobId
if redis.call("EXISTS", jobKey) == 1 then
  return {jobId, 0}
end
redis.call("HSET", jobKey, "name", ARGV[3], "data", ARGV[4], "opts", ARGV[5], "timestamp", ARGV[6], "attemptsMade", "0")
redis.call("LPUSH", KEYS[2], jobId)
return {jobId, 1}
`)

// Options configure a Queue.
type Options struct {
	Prefix string
	Logger *zap.SugaredLogger
}

// Queue is one named job queue. It owns its Redis client.
type Queue struct {
	name   string
	keys   keys
	client *redis.Client
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	subs   []*redis.PubSub
}

// New creates a queue on client. Closing the queue closes the client.
func New(name string, client *redis.Client, opts Options) *Queue {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Queue{
		name:   name,
		keys:   keys{base: prefix + ":" + name},
		client: client,
		logger: logger,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Client returns the queue's Redis client.
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Ping checks the queue's Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Add enqueues an unnamed job.
func (q *Queue) Add(ctx context.Context, data map[string]any, opts JobOptions) (*Job, error) {
	return q.AddNamed(ctx, DefaultJobName, data, opts)
}

// AddNamed enqueues a job under name. If opts.JobID names an existing job that job is
// returned and nothing is enqueued.
func (q *Queue) AddNamed(ctx context.Context, name string, data map[string]any, opts JobOptions) (*Job, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	rawData, rawOpts, err := encodeJob(data, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res, err := addScript.Run(ctx, q.client,
		[]string{q.keys.id(), q.keys.list(StateWaiting)},
		q.keys.jobPrefix(), opts.JobID, name, rawData, rawOpts, timeToMs(now),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("add job to %s: %w", q.name, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("add job to %s: unexpected script reply %v", q.name, res)
	}

	id := fmt.Sprint(res[0])
	created, _ := res[1].(int64)
	if created == 0 {
		q.logger.Debugw("Job already exists", "queue", q.name, "jobId", id)
		return q.GetJob(ctx, id)
	}

	q.publish(ctx, Event{Event: EventWaiting, JobID: id})
	return &Job{
		ID:        id,
		Queue:     q.name,
		Name:      name,
		Data:      data,
		Opts:      opts,
		Timestamp: time.UnixMilli(timeToMs(now)),
	}, nil
}

// GetJob loads a job by id.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", q.name, id, ErrJobNotFound)
	}
	return decodeJob(q.name, id, fields)
}

// Counts is the number of jobs per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Counts returns the number of jobs in every state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var waiting, active *redis.IntCmd
	var completed, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.LLen(ctx, q.keys.list(StateWaiting))
		active = p.LLen(ctx, q.keys.list(StateActive))
		completed = p.ZCard(ctx, q.keys.list(StateCompleted))
		failed = p.ZCard(ctx, q.keys.list(StateFailed))
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs in %s: %w", q.name, err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Clean removes completed or failed jobs that finished more than grace ago and
// returns how many were removed.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, state State) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, fmt.Errorf("clean %s: unsupported state %q", q.name, state)
	}

	set := q.keys.list(state)
	cutoff := timeToMs(time.Now().Add(-grace))
	ids, err := q.client.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", q.name, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		members := make([]interface{}, len(ids))
		jobKeys := make([]string, len(ids))
		for i, id := range ids {
			members[i] = id
			jobKeys[i] = q.keys.job(id)
		}
		p.ZRem(ctx, set, members...)
		p.Del(ctx, jobKeys...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", q.name, err)
	}

	metrics.JobsCleaned.WithLabelValues(q.name, string(state)).Add(float64(len(ids)))
	return len(ids), nil
}

// Close stops all subscriptions and closes the Redis client.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	subs := q.subs
	q.subs = nil
	q.mu.Unlock()

	var errs error
	for _, s := range subs {
		errs = multierr.Append(errs, s.Close())
	}
	return multierr.Append(errs, q.client.Close())
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) publish(ctx context.Context, e Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := q.client.Publish(ctx, q.keys.events(), raw).Err(); err != nil {
		q.logger.Warnw("Publishing queue event failed", "queue", q.name, "event", e.Event, "error", err)
	}
}

type keys struct {
	base string
}

func (k keys) id() string { return k.base + ":id" }
func (k keys) list(s State) string { return k.base + ":" + string(s) }
func (k keys) events() string { return k.base + ":events" }
func (k keys) jobPrefix() string { return k.base + ":" }
func (k keys) job(id string) string { return k.base + ":" + id }
func (k keys) lock(id string) string { return k.job(id) + ":lock" }
