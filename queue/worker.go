package queue

import (
	"context"
	"errors"
	"time"

	"backbone/metrics"
	"backbone/util/goroutine"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Processor handles one job. The returned string is stored as the job's return value.
type Processor func(ctx context.Context, job *Job) (string, error)

// WorkerOptions configure a Worker.
type WorkerOptions struct {
	// Concurrency is the number of jobs processed at the same time (default 1)
	Concurrency int
	// Attempts is used for jobs that were added without their own attempts option (default 1)
	Attempts int
	// LockTTL bounds how long a crashed worker keeps a job locked (default 30s).
	// A live worker renews the lock every LockTTL/2 while the processor runs.
	LockTTL time.Duration
	// PollTimeout is how long one blocking pop waits for new jobs. Redis blocks in
	// whole seconds, so values below 1s are raised to 1s (default 1s).
	PollTimeout time.Duration
}

const minPollTimeout = time.Second

// releaseScript deletes the lock only if it is still held with the given token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the lock TTL only if it is still held with the given token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Worker moves jobs from the wait list through the processor.
type Worker struct {
	queue *Queue
	proc  Processor
	opts  WorkerOptions
}

// NewWorker creates a worker for q. Call Run to start processing.
func (q *Queue) NewWorker(proc Processor, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.PollTimeout < minPollTimeout {
		opts.PollTimeout = minPollTimeout
	}
	return &Worker{queue: q, proc: proc, opts: opts}
}

// Run processes jobs until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.requeueStalled(ctx); err != nil {
		w.queue.logger.Warnw("Checking stalled jobs failed", "queue", w.queue.name, "error", err)
	} else if n > 0 {
		w.queue.logger.Infow("Requeued stalled jobs", "queue", w.queue.name, "count", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

// requeueStalled moves active jobs whose lock has expired back onto the wait list.
func (w *Worker) requeueStalled(ctx context.Context) (int, error) {
	q := w.queue
	ids, err := q.client.LRange(ctx, q.keys.list(StateActive), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		exists, err := q.client.Exists(ctx, q.keys.lock(id)).Result()
		if err != nil {
			return requeued, err
		}
		if exists == 1 {
			continue
		}
		_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, q.keys.list(StateActive), 1, id)
			p.RPush(ctx, q.keys.list(StateWaiting), id)
			return nil
		})
		if err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

func (w *Worker) loop(ctx context.Context) {
	q := w.queue
	for {
		if ctx.Err() != nil || q.isClosed() {
			return
		}

		id, err := q.client.BRPopLPush(ctx, q.keys.list(StateWaiting), q.keys.list(StateActive), w.opts.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil || q.isClosed() {
				return
			}
			q.logger.Errorw("Fetching next job failed", "queue", q.name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollTimeout):
			}
			continue
		}

		w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, id string) {
	q := w.queue
	token := uuid.NewString()

	locked, err := q.client.SetNX(ctx, q.keys.lock(id), token, w.opts.LockTTL).Result()
	if err != nil {
		// the id stays active and is picked up again as stalled
		q.logger.Errorw("Locking job failed", "queue", q.name, "jobId", id, "error", err)
		return
	}
	if !locked {
		// the holder completes or fails the job, this copy is a duplicate
		q.logger.Warnw("Job is locked by another worker", "queue", q.name, "jobId", id)
		if err := q.client.LRem(context.WithoutCancel(ctx), q.keys.list(StateActive), 1, id).Err(); err != nil {
			q.logger.Errorw("Dropping duplicate active job failed", "queue", q.name, "jobId", id, "error", err)
		}
		return
	}
	defer releaseScript.Run(context.WithoutCancel(ctx), q.client, []string{q.keys.lock(id)}, token)

	job, err := q.GetJob(ctx, id)
	if err != nil {
		q.logger.Errorw("Dropping unknown job", "queue", q.name, "jobId", id, "error", err)
		q.client.LRem(ctx, q.keys.list(StateActive), 1, id)
		return
	}

	stop := make(chan struct{})
	renewing := make(chan struct{})
	goroutine.Go("queue-lock-"+q.name, q.logger, func() {
		defer close(renewing)
		w.keepLocked(context.WithoutCancel(ctx), id, token, stop)
	})

	started := time.Now()
	q.client.HSet(ctx, q.keys.job(id), "processedOn", timeToMs(started))

	var result string
	err = goroutine.Safe("queue-job-"+q.name, q.logger, func() error {
		var procErr error
		result, procErr = w.proc(ctx, job)
		return procErr
	})
	close(stop)
	<-renewing
	metrics.JobProcessingDuration.WithLabelValues(q.name).Observe(time.Since(started).Seconds())

	// bookkeeping must finish even if the worker is being stopped
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		w.complete(ctx, job, result)
		return
	}
	w.fail(ctx, job, err)
}

// keepLocked extends the job lock every LockTTL/2 until stop is closed or the lock is lost.
func (w *Worker) keepLocked(ctx context.Context, id, token string, stop <-chan struct{}) {
	q := w.queue
	ticker := time.NewTicker(max(w.opts.LockTTL/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		held, err := extendScript.Run(ctx, q.client, []string{q.keys.lock(id)}, token, w.opts.LockTTL.Milliseconds()).Int()
		if err != nil {
			q.logger.Warnw("Extending job lock failed", "queue", q.name, "jobId", id, "error", err)
			continue
		}
		if held == 0 {
			q.logger.Warnw("Job lock lost while processing", "queue", q.name, "jobId", id)
			return
		}
	}
}

func (w *Worker) complete(ctx context.Context, job *Job, result string) {
	q := w.queue
	now := time.Now()
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.keys.list(StateActive), 1, job.ID)
		p.ZAdd(ctx, q.keys.list(StateCompleted), redis.Z{Score: float64(timeToMs(now)), Member: job.ID})
		p.HSet(ctx, q.keys.job(job.ID),
			"returnvalue", result,
			"finishedOn", timeToMs(now),
			"attemptsMade", job.AttemptsMade+1,
		)
		return nil
	})
	if err != nil {
		q.logger.Errorw("Marking job completed failed", "queue", q.name, "jobId", job.ID, "error", err)
		return
	}

	metrics.JobsProcessed.WithLabelValues(q.name, string(StateCompleted)).Inc()
	q.publish(ctx, Event{Event: EventCompleted, JobID: job.ID, Result: result})
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) {
	q := w.queue
	attempts := job.Opts.Attempts
	if attempts <= 0 {
		attempts = w.opts.Attempts
	}
	made := job.AttemptsMade + 1

	if made < attempts {
		_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, q.keys.list(StateActive), 1, job.ID)
			p.HSet(ctx, q.keys.job(job.ID), "attemptsMade", made, "failedReason", cause.Error())
			p.LPush(ctx, q.keys.list(StateWaiting), job.ID)
			return nil
		})
		if err != nil {
			q.logger.Errorw("Requeueing job failed", "queue", q.name, "jobId", job.ID, "error", err)
		}
		q.logger.Debugw("Job will be retried", "queue", q.name, "jobId", job.ID, "attempt", made, "error", cause)
		return
	}

	now := time.Now()
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.keys.list(StateActive), 1, job.ID)
		p.ZAdd(ctx, q.keys.list(StateFailed), redis.Z{Score: float64(timeToMs(now)), Member: job.ID})
		p.HSet(ctx, q.keys.job(job.ID),
			"failedReason", cause.Error(),
			"finishedOn", timeToMs(now),
			"attemptsMade", made,
		)
		return nil
	})
	if err != nil {
		q.logger.Errorw("Marking job failed failed", "queue", q.name, "jobId", job.ID, "error", err)
		return
	}

	metrics.JobsProcessed.WithLabelValues(q.name, string(StateFailed)).Inc()
	q.publish(ctx, Event{Event: EventFailed, JobID: job.ID, Reason: cause.Error()})
}
