package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"backbone/util/goroutine"
)

// Event names published on "<prefix>:<queue>:events"
const (
	EventWaiting   = "waiting"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Event is the message published for global listeners.
type Event struct {
	Event  string `json:"event"`
	JobID  string `json:"jobId"`
	Result string `json:"result,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CompletedHandler receives the id and return value of every job completed by any worker.
type CompletedHandler func(jobID, result string)

// FailedHandler receives the id and failure reason of every job that ran out of attempts.
type FailedHandler func(jobID, reason string)

// Handlers are the global event callbacks. Nil handlers are skipped.
type Handlers struct {
	Completed CompletedHandler
	Failed    FailedHandler
}

// Subscribe listens for events published by workers of this queue in any process.
// Delivery stops when ctx is done or the queue is closed.
func (q *Queue) Subscribe(ctx context.Context, h Handlers) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	pubsub := q.client.Subscribe(ctx, q.keys.events())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe to %s events: %w", q.name, err)
	}

	q.mu.Lock()
	q.subs = append(q.subs, pubsub)
	q.mu.Unlock()

	messages := pubsub.Channel()
	goroutine.Go("queue-events-"+q.name, q.logger, func() {
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					q.logger.Warnw("Malformed queue event", "queue", q.name, "payload", msg.Payload)
					continue
				}
				dispatch(h, e)
			}
		}
	})
	return nil
}

func dispatch(h Handlers, e Event) {
	switch e.Event {
	case EventCompleted:
		if h.Completed != nil {
			h.Completed(e.JobID, e.Result)
		}
	case EventFailed:
		if h.Failed != nil {
			h.Failed(e.JobID, e.Reason)
		}
	}
}
