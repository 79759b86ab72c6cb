package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/optimus-run/optimus/internal/adapter/httpserver"
	"github.com/optimus-run/optimus/internal/config"
	"github.com/optimus-run/optimus/internal/domain"
	"github.com/optimus-run/optimus/internal/usecase"
)

type memQueue struct {
	jobs []domain.Job
}

func (q *memQueue) Enqueue(_ domain.Context, _ string, job domain.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}
func (q *memQueue) EnqueueRetry(domain.Context, string, domain.Job) error { return nil }
func (q *memQueue) EnqueueDLQ(domain.Context, string, domain.Job) error   { return nil }
func (q *memQueue) Dequeue(domain.Context, string, time.Duration) (domain.Job, domain.QueueKind, bool, error) {
	return domain.Job{}, "", false, nil
}
func (q *memQueue) Depth(domain.Context, string) (domain.QueueDepth, error) {
	return domain.QueueDepth{}, nil
}

type memResults struct {
	results map[string]domain.ExecutionResult
}

func (r *memResults) PutResult(_ domain.Context, result domain.ExecutionResult, _ time.Duration) error {
	r.results[result.JobID] = result
	return nil
}
func (r *memResults) GetResult(_ domain.Context, jobID string) (domain.ExecutionResult, bool, error) {
	res, ok := r.results[jobID]
	return res, ok, nil
}
func (r *memResults) GetStatus(_ domain.Context, jobID string) (domain.OverallStatus, bool, error) {
	res, ok := r.results[jobID]
	return res.OverallStatus, ok, nil
}

type memIdempotency struct {
	records map[string]domain.IdempotencyRecord
}

func (i *memIdempotency) Get(_ domain.Context, key string) (domain.IdempotencyRecord, bool, error) {
	rec, ok := i.records[key]
	return rec, ok, nil
}
func (i *memIdempotency) Put(_ domain.Context, record domain.IdempotencyRecord, _ time.Duration) error {
	i.records[record.Key] = record
	return nil
}

type memCancel struct {
	flags map[string]bool
}

func (c *memCancel) RequestCancel(_ domain.Context, jobID string) error {
	c.flags[jobID] = true
	return nil
}
func (c *memCancel) IsCancelled(_ domain.Context, jobID string) (bool, error) {
	return c.flags[jobID], nil
}

type memInspector struct {
	find func(language, jobID string) (bool, bool, bool, domain.Attempts, bool, error)
}

func (f *memInspector) Find(_ domain.Context, language, jobID string) (bool, bool, bool, domain.Attempts, bool, error) {
	if f.find != nil {
		return f.find(language, jobID)
	}
	return false, false, false, domain.Attempts{}, false, nil
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(domain.Context) error { return p.err }

type fixture struct {
	srv     *httpserver.Server
	queue   *memQueue
	results *memResults
	cancel  *memCancel
}

func testCfg() config.Config {
	return config.Config{
		DefaultMaxAttempts: 3,
		DefaultTimeoutMS:   5000,
		DefaultTestWeight:  10,
		MaxTestCases:       100,
		MaxSourceCodeBytes: 256000,
		MaxTestInputBytes:  64000,
		MaxTestOutputBytes: 64000,
		MaxTimeoutMS:       60000,
		IdempotencyTTL:     24 * time.Hour,
		ResultTTL:          24 * time.Hour,
	}
}

func newFixture(inspector *memInspector) fixture {
	queue := &memQueue{}
	results := &memResults{results: map[string]domain.ExecutionResult{}}
	idem := &memIdempotency{records: map[string]domain.IdempotencyRecord{}}
	cancel := &memCancel{flags: map[string]bool{}}
	if inspector == nil {
		inspector = &memInspector{}
	}
	languages := domain.NewLanguageRegistry([]domain.LanguageSpec{
		{Name: "python", Image: "optimus-runner-python:3.12", ExecuteCommand: []string{"python3", "/scratch/solution.py"}, FileExtension: ".py"},
	})
	cfg := testCfg()
	srv := &httpserver.Server{
		Submit: usecase.NewSubmitService(queue, idem, languages, cfg, nil),
		Status: usecase.NewStatusService(results),
		Cancel: usecase.NewCancelService(results, cancel),
		Debug:  usecase.NewDebugService(results, inspector, languages),
	}
	return fixture{srv: srv, queue: queue, results: results, cancel: cancel}
}

func newRouter(srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Post("/execute", srv.SubmitHandler)
	r.Get("/job/{id}", srv.StatusHandler)
	r.Post("/job/{id}/cancel", srv.CancelHandler)
	r.Get("/job/{id}/debug", srv.DebugHandler)
	r.Get("/healthz", srv.HealthzHandler)
	r.Get("/readyz", srv.ReadyzHandler)
	return r
}

func validBody() string {
	return `{"language":"python","source_code":"print(1)","test_cases":[{"input":"","expected_output":"1"}]}`
}

func TestSubmitHandlerAccepts(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(validBody())))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, resp.JobID, f.queue.jobs[0].ID)
}

func TestSubmitHandlerRejectsMalformedJSON(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("{not json")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MALFORMED_JSON")
	assert.Empty(t, f.queue.jobs)
}

func TestSubmitHandlerRejectsUnknownFields(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	body := `{"language":"python","source_code":"x","test_cases":[{"input":"","expected_output":"1"}],"bogus":true}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitHandlerValidationStatusCodes(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantCode int
		wantText string
	}{
		{
			name:     "no test cases",
			body:     `{"language":"python","source_code":"x","test_cases":[]}`,
			wantCode: http.StatusUnprocessableEntity,
			wantText: "NO_TEST_CASES",
		},
		{
			name:     "unsupported language",
			body:     `{"language":"cobol","source_code":"x","test_cases":[{"input":"","expected_output":"1"}]}`,
			wantCode: http.StatusUnprocessableEntity,
			wantText: "LANGUAGE_NOT_SUPPORTED",
		},
		{
			name:     "oversized source",
			body:     `{"language":"python","source_code":"` + strings.Repeat("a", 256001) + `","test_cases":[{"input":"","expected_output":"1"}]}`,
			wantCode: http.StatusRequestEntityTooLarge,
			wantText: "SOURCE_CODE_TOO_LARGE",
		},
		{
			name:     "invalid timeout",
			body:     `{"language":"python","source_code":"x","test_cases":[{"input":"","expected_output":"1"}],"timeout_ms":0}`,
			wantCode: http.StatusUnprocessableEntity,
			wantText: "INVALID_TIMEOUT",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(nil)
			h := newRouter(f.srv)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(tc.body)))

			require.Equal(t, tc.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantText)
			assert.Empty(t, f.queue.jobs, "rejected submissions never touch the queue")
		})
	}
}

func TestSubmitHandlerIdempotencyReplayAndConflict(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(validBody()))
	req.Header.Set("Idempotency-Key", "K")
	h.ServeHTTP(first, req)
	require.Equal(t, http.StatusAccepted, first.Code)

	replay := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(validBody()))
	req2.Header.Set("Idempotency-Key", "K")
	h.ServeHTTP(replay, req2)
	require.Equal(t, http.StatusAccepted, replay.Code)
	assert.JSONEq(t, first.Body.String(), replay.Body.String(), "replay returns the original job id")
	assert.Len(t, f.queue.jobs, 1, "no second enqueue on replay")

	conflict := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(
		`{"language":"python","source_code":"print(2)","test_cases":[{"input":"","expected_output":"1"}]}`))
	req3.Header.Set("Idempotency-Key", "K")
	h.ServeHTTP(conflict, req3)
	require.Equal(t, http.StatusConflict, conflict.Code)
	assert.Contains(t, conflict.Body.String(), "IDEMPOTENCY_CONFLICT")
}

func TestStatusHandlerPending(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/job/"+uuid.NewString(), nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"pending"}`, rec.Body.String())
}

func TestStatusHandlerTerminal(t *testing.T) {
	f := newFixture(nil)
	jobID := uuid.NewString()
	f.results.results[jobID] = domain.ExecutionResult{
		JobID:         jobID,
		OverallStatus: domain.OverallCompleted,
		Score:         25,
		MaxScore:      25,
		Results: []domain.TestResult{
			{TestID: 1, Status: domain.StatusPassed, Stdout: "1\n", ExecutionTimeMS: 12},
		},
	}
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/job/"+jobID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		JobID         string `json:"job_id"`
		OverallStatus string `json:"overall_status"`
		Score         int    `json:"score"`
		Results       []struct {
			Status string `json:"status"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp.JobID)
	assert.Equal(t, "Completed", resp.OverallStatus)
	assert.Equal(t, 25, resp.Score)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Passed", resp.Results[0].Status)
}

func TestStatusHandlerRejectsMalformedID(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/job/not-a-uuid", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JOB_ID")
}

func TestCancelHandlerSetsFlag(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)
	jobID := uuid.NewString()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/job/"+jobID+"/cancel", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cancelling"}`, rec.Body.String())
	assert.True(t, f.cancel.flags[jobID])
}

func TestCancelHandlerConflictsOnTerminalJob(t *testing.T) {
	f := newFixture(nil)
	jobID := uuid.NewString()
	f.results.results[jobID] = domain.ExecutionResult{JobID: jobID, OverallStatus: domain.OverallCompleted}
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/job/"+jobID+"/cancel", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ALREADY_TERMINAL")
	assert.False(t, f.cancel.flags[jobID])
}

func TestDebugHandlerReportsQueuePresence(t *testing.T) {
	jobID := uuid.NewString()
	inspector := &memInspector{find: func(language, id string) (bool, bool, bool, domain.Attempts, bool, error) {
		if language == "python" && id == jobID {
			return false, true, false, domain.Attempts{Count: 2, MaxAttempts: 3, LastFailureReason: "image pull failed"}, true, nil
		}
		return false, false, false, domain.Attempts{}, false, nil
	}}
	f := newFixture(inspector)
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/job/"+jobID+"/debug", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Found             bool   `json:"found"`
		Language          string `json:"language"`
		PresentInRetry    bool   `json:"present_in_retry"`
		Attempts          int    `json:"attempts"`
		LastFailureReason string `json:"last_failure_reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.Equal(t, "python", resp.Language)
	assert.True(t, resp.PresentInRetry)
	assert.Equal(t, 2, resp.Attempts)
	assert.Contains(t, resp.LastFailureReason, "image pull")
}

func TestHealthzAlwaysOK(t *testing.T) {
	f := newFixture(nil)
	h := newRouter(f.srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsStoreHealth(t *testing.T) {
	healthy := newFixture(nil)
	healthy.srv.Pinger = failingPinger{}
	rec := httptest.NewRecorder()
	newRouter(healthy.srv).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	unhealthy := newFixture(nil)
	unhealthy.srv.Pinger = failingPinger{err: assert.AnError}
	rec2 := httptest.NewRecorder()
	newRouter(unhealthy.srv).ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}
