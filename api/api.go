// Package api is the admin HTTP surface of a backbone process: health, metrics,
// queue inspection and job submission.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"backbone/config"
	"backbone/jobs"
	"backbone/queue"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Pinger is a connection that can report readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueSource lists and looks up live queues
type QueueSource interface {
	Names() []string
	Get(name string) (*queue.Queue, bool)
}

// JobSubmitter submits jobs to a job list
type JobSubmitter interface {
	Submit(ctx context.Context, jobList string, params jobs.SubmitParams) (jobs.Result, error)
}

// API holds the admin HTTP server
type API struct {
	router         *mux.Router
	server         *http.Server
	queues         QueueSource
	submitter      JobSubmitter
	checks         map[string]Pinger
	config         *config.Config
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates the admin API. checks are pinged by /health, keyed by display name.
func NewAPI(queues QueueSource, submitter JobSubmitter, checks map[string]Pinger, cfg *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:       mux.NewRouter(),
		queues:       queues,
		submitter:    submitter,
		checks:       checks,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.server = &http.Server{
		Handler:           api.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.rateLimitMiddleware)
	v1.HandleFunc("/queues", a.listQueues).Methods("GET")
	v1.HandleFunc("/queues/{queue}/jobs/{id}", a.getJob).Methods("GET")
	v1.HandleFunc("/jobs/{jobList}", a.submitJob).Methods("POST")
}

// Handler returns the router, for tests and embedding
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server. It returns http.ErrServerClosed after Stop, even when
// Stop was called first.
func (a *API) Start(addr string) error {
	a.server.Addr = addr
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return a.server.Shutdown(ctx)
}
