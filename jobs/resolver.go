// Package jobs maps logical job lists onto environment qualified queues and submits
// jobs to them, recording each job in the per-identifier watch list.
package jobs

import (
	"backbone/config"
)

// ResolveOptions override where and for which environment a job list is resolved.
type ResolveOptions struct {
	// ConfigPath selects an alternative job-list table (queue.extra_job_lists.<path>)
	ConfigPath string
	// Environment replaces the configured environment and local suffix entirely
	Environment string
}

// Resolved is a job list bound to its queue name.
type Resolved struct {
	QueueName string
	JobList   config.JobList
}

// Resolver turns job-list names into queue names. It has no side effects.
type Resolver struct {
	cfg *config.Config
}

// NewResolver creates a resolver over cfg.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve finds the descriptor for jobList and derives its queue name,
// "<environment>.<jobList>".
func (r *Resolver) Resolve(jobList string, opts ResolveOptions) (Resolved, error) {
	if jobList == "" {
		return Resolved{}, &SubmitError{Err: ErrJobListNotDefined}
	}

	for _, jl := range r.cfg.JobListTable(opts.ConfigPath) {
		if jl.JobList != jobList {
			continue
		}
		env := opts.Environment
		if env == "" {
			env = r.cfg.QualifiedEnvironment()
		}
		return Resolved{QueueName: QueueName(env, jobList), JobList: jl}, nil
	}

	return Resolved{}, &SubmitError{JobList: jobList, Err: ErrJobListNotDefined}
}

// QueueName joins an environment and a job list.
func QueueName(environment, jobList string) string {
	return environment + "." + jobList
}
