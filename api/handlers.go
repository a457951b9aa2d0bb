package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"backbone/jobs"
	"backbone/queue"

	"github.com/gorilla/mux"
)

// healthCheckTimeout bounds the pings made by /health
const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Time   string            `json:"time"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := healthResponse{Status: "healthy", Checks: make(map[string]string, len(a.checks))}
	for name, p := range a.checks {
		if err := p.Ping(ctx); err != nil {
			response.Status = "degraded"
			response.Checks[name] = err.Error()
			continue
		}
		response.Checks[name] = "ok"
	}
	response.Time = time.Now().Format(time.RFC3339)

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

type queueSummary struct {
	Name   string       `json:"name"`
	Counts queue.Counts `json:"counts"`
	Error  string       `json:"error,omitempty"`
}

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	names := a.queues.Names()
	summaries := make([]queueSummary, 0, len(names))
	for _, name := range names {
		q, ok := a.queues.Get(name)
		if !ok {
			continue
		}
		summary := queueSummary{Name: name}
		counts, err := q.Counts(r.Context())
		if err != nil {
			a.logger.Warnw("Counting jobs failed", "queue", name, "error", err)
			summary.Error = "unavailable"
		}
		summary.Counts = counts
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q, ok := a.queues.Get(vars["queue"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "queue not found"})
		return
	}

	job, err := q.GetJob(r.Context(), vars["id"])
	if errors.Is(err, queue.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load job", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// submitRequest is the body of POST /api/v1/jobs/{jobList}
type submitRequest struct {
	Payload        map[string]any `json:"payload"`
	Name           string         `json:"name"`
	JobID          string         `json:"jobId"`
	Identifier     string         `json:"identifier"`
	AddToWatchList *bool          `json:"addToWatchList"`
	ConfigPath     string         `json:"configPath"`
	Environment    string         `json:"environment"`
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := a.decodeJSONBodyWithLimit(w, r, &req, a.config.API.MaxBodyBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	jobList := mux.Vars(r)["jobList"]
	res, err := a.submitter.Submit(r.Context(), jobList, jobs.SubmitParams{
		Payload:        jobs.NormalizeNumbers(req.Payload),
		Name:           req.Name,
		JobID:          req.JobID,
		Identifier:     req.Identifier,
		AddToWatchList: req.AddToWatchList,
		ConfigPath:     req.ConfigPath,
		Environment:    req.Environment,
	})

	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, res)
	case errors.Is(err, jobs.ErrJobListNotDefined):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrQueueClientUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrWatchListWrite):
		// the job itself was added
		a.logger.Errorw("Watch list write failed", "jobList", jobList, "jobId", res.JobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "watch list write failed", JobID: res.JobID})
	default:
		writeError(w, http.StatusBadGateway, "Adding job failed", err, a.logger)
	}
}
