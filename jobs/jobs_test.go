package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"backbone/config"
	"backbone/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type addCall struct {
	name string
	data map[string]any
	opts queue.JobOptions
}

// fakeQueue records adds and hands out sequential ids
type fakeQueue struct {
	mu    sync.Mutex
	calls []addCall
	err   error
}

func (f *fakeQueue) Add(ctx context.Context, data map[string]any, opts queue.JobOptions) (*queue.Job, error) {
	return f.AddNamed(ctx, "", data, opts)
}

func (f *fakeQueue) AddNamed(_ context.Context, name string, data map[string]any, opts queue.JobOptions) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addCall{name: name, data: data, opts: opts})
	if f.err != nil {
		return nil, f.err
	}
	id := opts.JobID
	if id == "" {
		id = strconv.Itoa(len(f.calls))
	}
	return &queue.Job{ID: id, Name: name, Data: data, Opts: opts}, nil
}

type hsetCall struct {
	key    string
	values []interface{}
}

type fakeStore struct {
	mu    sync.Mutex
	calls []hsetCall
	err   error
}

func (f *fakeStore) HSet(_ context.Context, key string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hsetCall{key: key, values: values})
	return f.err
}

func newTestConfig() *config.Config {
	cfg := &config.Config{Environment: "prod"}
	cfg.Queue.JobListWatchKey = ".jobWatch"
	cfg.Queue.Redis.Database = config.DefaultJobProcessingStore
	cfg.Queue.Log.FunctionIdentifierLength = 20
	cfg.Queue.JobLists = []config.JobList{
		{JobList: "emails", Worker: true, Attempts: 2},
		{JobList: "reports", Listening: true},
	}
	cfg.Queue.ExtraJobLists = map[string][]config.JobList{
		"batch": {{JobList: "exports"}},
	}
	return cfg
}

type harness struct {
	cfg       *config.Config
	queues    map[string]*fakeQueue
	store     *fakeStore
	submitter *Submitter
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg *config.Config, queueNames ...string) *harness {
	t.Helper()
	h := &harness{cfg: cfg, queues: map[string]*fakeQueue{}, store: &fakeStore{}}
	for _, name := range queueNames {
		h.queues[name] = &fakeQueue{}
	}

	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs

	lookup := func(name string) (Enqueuer, bool) {
		q, ok := h.queues[name]
		if !ok {
			return nil, false
		}
		return q, true
	}
	stores := func(name string) (HashWriter, bool) {
		if name != config.DefaultJobProcessingStore {
			return nil, false
		}
		return h.store, true
	}
	h.submitter = NewSubmitter(cfg, NewResolver(cfg), lookup, stores, zap.New(core).Sugar())
	return h
}

func boolPtr(b bool) *bool { return &b }

func TestResolve_Example(t *testing.T) {
	r := NewResolver(newTestConfig())

	resolved, err := r.Resolve("emails", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "prod.emails", resolved.QueueName)
	assert.Equal(t, 2, resolved.JobList.Attempts)
	assert.True(t, resolved.JobList.Worker)
}

func TestResolve_LocalSuffix(t *testing.T) {
	cfg := newTestConfig()
	cfg.LocalDevelopment = "-alice"

	resolved, err := NewResolver(cfg).Resolve("reports", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "prod-alice.reports", resolved.QueueName)
}

func TestResolve_OverrideWinsOutright(t *testing.T) {
	cfg := newTestConfig()
	cfg.LocalDevelopment = "-alice"

	for _, env := range []string{"staging", "eu.prod", "x"} {
		resolved, err := NewResolver(cfg).Resolve("emails", ResolveOptions{Environment: env})
		require.NoError(t, err)
		assert.Equal(t, env+".emails", resolved.QueueName)
	}
}

func TestResolve_ConfigPath(t *testing.T) {
	r := NewResolver(newTestConfig())

	resolved, err := r.Resolve("exports", ResolveOptions{ConfigPath: "batch"})
	require.NoError(t, err)
	assert.Equal(t, "prod.exports", resolved.QueueName)

	_, err = r.Resolve("emails", ResolveOptions{ConfigPath: "batch"})
	assert.ErrorIs(t, err, ErrJobListNotDefined)

	_, err = r.Resolve("exports", ResolveOptions{})
	assert.ErrorIs(t, err, ErrJobListNotDefined)
}

func TestResolve_Undefined(t *testing.T) {
	r := NewResolver(newTestConfig())

	for _, name := range []string{"", "unknown", "Emails"} {
		_, err := r.Resolve(name, ResolveOptions{})
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrJobListNotDefined), name)
	}

	_, err := r.Resolve("unknown", ResolveOptions{})
	var submitErr *SubmitError
	require.True(t, errors.As(err, &submitErr))
	assert.Equal(t, "unknown", submitErr.JobList)
	assert.Contains(t, err.Error(), "unknown")
}

func TestSubmit_UndefinedJobListTouchesNothing(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")

	_, err := h.submitter.Submit(context.Background(), "nope", SubmitParams{Payload: Payload{"customerId": "c1"}, Identifier: "customerId"})
	assert.ErrorIs(t, err, ErrJobListNotDefined)
	assert.Empty(t, h.queues["prod.emails"].calls)
	assert.Empty(t, h.store.calls)
}

func TestSubmit_QueueClientUnavailable(t *testing.T) {
	h := newHarness(t, newTestConfig())

	_, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{})
	require.ErrorIs(t, err, ErrQueueClientUnavailable)

	var submitErr *SubmitError
	require.True(t, errors.As(err, &submitErr))
	assert.Equal(t, "prod.emails", submitErr.QueueName)
	assert.Empty(t, h.store.calls)
}

func TestSubmit_WritesWatchList(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")

	res, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{
		Payload:    Payload{"customerId": "c42", "subject": "hi"},
		Identifier: "customerId",
	})
	require.NoError(t, err)
	assert.Equal(t, "1", res.JobID)
	assert.Equal(t, "prod.emails", res.QueueName)
	assert.Equal(t, "prod.jobWatch:c42", res.WatchListKey)

	require.Len(t, h.store.calls, 1)
	assert.Equal(t, "prod.jobWatch:c42", h.store.calls[0].key)
	assert.Equal(t, []interface{}{"1", "prod.emails"}, h.store.calls[0].values)

	calls := h.queues["prod.emails"].calls
	require.Len(t, calls, 1)
	assert.Equal(t, "", calls[0].name)
	assert.Equal(t, 2, calls[0].opts.Attempts)
}

func TestSubmit_WatchListKeyWithLocalSuffix(t *testing.T) {
	cfg := newTestConfig()
	cfg.LocalDevelopment = "-bob"
	h := newHarness(t, cfg, "prod-bob.emails")

	res, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{
		Payload:    Payload{"customer": map[string]any{"id": 7}},
		Identifier: "customer.id",
	})
	require.NoError(t, err)
	assert.Equal(t, "prod.jobWatch-bob:7", res.WatchListKey)
	require.Len(t, h.store.calls, 1)
	assert.Equal(t, "prod.jobWatch-bob:7", h.store.calls[0].key)
}

func TestSubmit_NamedJob(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")

	_, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{Name: "welcome", Payload: Payload{}})
	require.NoError(t, err)
	assert.Equal(t, "welcome", h.queues["prod.emails"].calls[0].name)
}

func TestSubmit_ExplicitJobID(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")
	ctx := context.Background()

	res, err := h.submitter.Submit(ctx, "emails", SubmitParams{JobID: "explicit", Payload: Payload{"jobId": "payload"}})
	require.NoError(t, err)
	assert.Equal(t, "explicit", res.JobID)

	res, err = h.submitter.Submit(ctx, "emails", SubmitParams{Payload: Payload{"jobId": 99}})
	require.NoError(t, err)
	assert.Equal(t, "99", res.JobID)

	// decoded JSON numbers are float64
	res, err = h.submitter.Submit(ctx, "emails", SubmitParams{Payload: Payload{"jobId": float64(2500000)}})
	require.NoError(t, err)
	assert.Equal(t, "2500000", res.JobID)
}

func TestSubmit_WatchListDisabled(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")

	res, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{
		Payload:        Payload{"customerId": "c1"},
		Identifier:     "customerId",
		AddToWatchList: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Empty(t, res.WatchListKey)
	assert.Empty(t, h.store.calls)
	assert.Len(t, h.queues["prod.emails"].calls, 1)
}

func TestSubmit_WatchListRequiresPrefix(t *testing.T) {
	cfg := newTestConfig()
	cfg.Queue.JobListWatchKey = ""
	h := newHarness(t, cfg, "prod.emails")

	_, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{Payload: Payload{"customerId": "c1"}, Identifier: "customerId"})
	require.NoError(t, err)
	assert.Empty(t, h.store.calls)
}

func TestSubmit_MissingStoreSkipsSilently(t *testing.T) {
	cfg := newTestConfig()
	cfg.Queue.Redis.Database = "elsewhere"
	h := newHarness(t, cfg, "prod.emails")

	res, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{Payload: Payload{"customerId": "c1"}, Identifier: "customerId"})
	require.NoError(t, err)
	assert.Equal(t, "1", res.JobID)
	assert.Empty(t, h.store.calls)
}

func TestSubmit_MissingIdentifierWarnsAndContinues(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")

	res, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{
		Payload:    Payload{"customerId": ""},
		Identifier: "customerId",
	})
	require.NoError(t, err)
	assert.Equal(t, "prod.jobWatch", res.WatchListKey)
	assert.Equal(t, 1, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestSubmit_QueueErrorIsReturnedAndLogged(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")
	cause := errors.New("connection reset")
	h.queues["prod.emails"].err = cause

	_, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{Payload: Payload{"customerId": "c1"}, Identifier: "customerId"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, h.store.calls)
	assert.Equal(t, 1, h.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestSubmit_WatchListErrorIsReturned(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")
	h.store.err = errors.New("READONLY")

	res, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{Payload: Payload{"customerId": "c1"}, Identifier: "customerId"})
	require.ErrorIs(t, err, ErrWatchListWrite)
	assert.Equal(t, "1", res.JobID)
}

func TestSubmitAsync_DeliversExactlyOnce(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")

	out := h.submitter.SubmitAsync(context.Background(), "emails", SubmitParams{Payload: Payload{"customerId": "c1"}, Identifier: "customerId"})
	outcome, ok := <-out
	require.True(t, ok)
	require.NoError(t, outcome.Err)
	assert.Equal(t, "1", outcome.Result.JobID)

	_, ok = <-out
	assert.False(t, ok)

	failed := <-h.submitter.SubmitAsync(context.Background(), "nope", SubmitParams{})
	assert.ErrorIs(t, failed.Err, ErrJobListNotDefined)
}

func TestSubmit_ConcurrentCallsAreIndependent(t *testing.T) {
	h := newHarness(t, newTestConfig(), "prod.emails")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.submitter.Submit(context.Background(), "emails", SubmitParams{Payload: Payload{"customerId": "c"}, Identifier: "customerId"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.queues["prod.emails"].calls, 20)
	assert.Len(t, h.store.calls, 20)
}

func TestLookupIdentifier(t *testing.T) {
	payload := Payload{
		"customerId": "c1",
		"count":      3,
		"nothing":    nil,
		"nested":     map[string]any{"deep": map[string]any{"id": "d"}},
		"big":        float64(1000000),
		"ratio":      2.5,
		"small":      float32(0.5),
		"number":     json.Number("12345678901234"),
	}

	tests := []struct {
		path  string
		want  string
		found bool
	}{
		{"customerId", "c1", true},
		{"count", "3", true},
		{"nested.deep.id", "d", true},
		{"big", "1000000", true},
		{"ratio", "2.5", true},
		{"small", "0.5", true},
		{"number", "12345678901234", true},
		{"nothing", "", false},
		{"missing", "", false},
		{"customerId.more", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, found := lookupIdentifier(payload, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
		assert.Equal(t, tt.found, found, tt.path)
	}
}

func TestWatchListKey(t *testing.T) {
	cfg := newTestConfig()
	assert.Equal(t, "prod.jobWatch:c1", WatchListKey(cfg, "c1"))
	assert.Equal(t, "prod.jobWatch", WatchListKey(cfg, ""))
}

func TestDecodePayload_KeepsIntegersExact(t *testing.T) {
	data, err := DecodePayload(strings.NewReader(`{"customerId":1000000,"ratio":1.5,"nested":{"n":2},"list":[7,"s"]}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1000000), data["customerId"])
	assert.Equal(t, 1.5, data["ratio"])
	assert.Equal(t, int64(2), data["nested"].(map[string]any)["n"])
	assert.Equal(t, []any{int64(7), "s"}, data["list"])

	id, found := lookupIdentifier(data, "customerId")
	assert.True(t, found)
	assert.Equal(t, "1000000", id)
}

func TestDecodePayload_Invalid(t *testing.T) {
	_, err := DecodePayload(strings.NewReader("{"))
	assert.Error(t, err)
}
