package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrJobListNotDefined means no job-list descriptor exists for the requested name
	ErrJobListNotDefined = errors.New("job list not defined")
	// ErrQueueClientUnavailable means no live queue is registered under the resolved name
	ErrQueueClientUnavailable = errors.New("queue client not available")
	// ErrSubmitFailed wraps the queue's error when adding a job fails
	ErrSubmitFailed = errors.New("adding job failed")
	// ErrWatchListWrite wraps the store's error when the watch-list entry cannot be written
	ErrWatchListWrite = errors.New("watch list write failed")
)

// SubmitError reports which job list or queue a submission failed for.
type SubmitError struct {
	JobList   string
	QueueName string
	Err       error
}

func (e *SubmitError) Error() string {
	switch {
	case e.QueueName != "":
		return fmt.Sprintf("queue %s: %v", e.QueueName, e.Err)
	case e.JobList != "":
		return fmt.Sprintf("job list %s: %v", e.JobList, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
