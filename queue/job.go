package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultJobName is stored for jobs added without a name
const DefaultJobName = "__default__"

// State is the list a finished job is kept in.
type State string

const (
	StateWaiting   State = "wait"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// JobOptions are stored with the job.
type JobOptions struct {
	// JobID replaces the generated id. Adding a job with an existing id is a no-op.
	JobID string `msgpack:"jobId,omitempty" json:"jobId,omitempty"`
	// Attempts is the number of times the job is tried before it fails. Zero means once.
	Attempts int `msgpack:"attempts,omitempty" json:"attempts,omitempty"`
}

// Job is one unit of work stored in the job hash.
type Job struct {
	ID           string         `json:"id"`
	Queue        string         `json:"queue"`
	Name         string         `json:"name"`
	Data         map[string]any `json:"data"`
	Opts         JobOptions     `json:"opts"`
	Timestamp    time.Time      `json:"timestamp"`
	AttemptsMade int            `json:"attemptsMade"`
	ProcessedOn  time.Time      `json:"processedOn,omitempty"`
	FinishedOn   time.Time      `json:"finishedOn,omitempty"`
	FailedReason string         `json:"failedReason,omitempty"`
	ReturnValue  string         `json:"returnValue,omitempty"`
}

func encodeJob(data map[string]any, opts JobOptions) (string, string, error) {
	rawData, err := msgpack.Marshal(data)
	if err != nil {
		return "", "", fmt.Errorf("encode job data: %w", err)
	}
	rawOpts, err := msgpack.Marshal(opts)
	if err != nil {
		return "", "", fmt.Errorf("encode job options: %w", err)
	}
	return string(rawData), string(rawOpts), nil
}

func decodeJob(queueName, id string, fields map[string]string) (*Job, error) {
	job := &Job{
		ID:           id,
		Queue:        queueName,
		Name:         fields["name"],
		FailedReason: fields["failedReason"],
		ReturnValue:  fields["returnvalue"],
		Timestamp:    msToTime(fields["timestamp"]),
		ProcessedOn:  msToTime(fields["processedOn"]),
		FinishedOn:   msToTime(fields["finishedOn"]),
	}

	if raw := fields["data"]; raw != "" {
		if err := msgpack.Unmarshal([]byte(raw), &job.Data); err != nil {
			return nil, fmt.Errorf("decode job %s data: %w", id, err)
		}
	}
	if raw := fields["opts"]; raw != "" {
		if err := msgpack.Unmarshal([]byte(raw), &job.Opts); err != nil {
			return nil, fmt.Errorf("decode job %s options: %w", id, err)
		}
	}
	if raw := fields["attemptsMade"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("decode job %s attempts: %w", id, err)
		}
		job.AttemptsMade = n
	}
	return job, nil
}

func timeToMs(t time.Time) int64 {
	return t.UnixMilli()
}

func msToTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
