package usecase

import (
	"sync"
	"time"

	"github.com/optimus-run/optimus/internal/domain"
)

// fakeQueue is an in-memory domain.Queue, keyed by language, used across
// the usecase package's tests in place of a real Redis store.
type fakeQueue struct {
	mu      sync.Mutex
	main    map[string][]domain.Job
	retry   map[string][]domain.Job
	dlq     map[string][]domain.Job
	dequeue func() (domain.Job, domain.QueueKind, bool, error)
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		main:  map[string][]domain.Job{},
		retry: map[string][]domain.Job{},
		dlq:   map[string][]domain.Job{},
	}
}

func (q *fakeQueue) Enqueue(_ domain.Context, language string, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.main[language] = append(q.main[language], job)
	return nil
}

func (q *fakeQueue) EnqueueRetry(_ domain.Context, language string, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retry[language] = append(q.retry[language], job)
	return nil
}

func (q *fakeQueue) EnqueueDLQ(_ domain.Context, language string, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq[language] = append(q.dlq[language], job)
	return nil
}

func (q *fakeQueue) Dequeue(_ domain.Context, language string, _ time.Duration) (domain.Job, domain.QueueKind, bool, error) {
	if q.dequeue != nil {
		return q.dequeue()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if jobs := q.main[language]; len(jobs) > 0 {
		job := jobs[0]
		q.main[language] = jobs[1:]
		return job, domain.QueueMain, true, nil
	}
	if jobs := q.retry[language]; len(jobs) > 0 {
		job := jobs[0]
		q.retry[language] = jobs[1:]
		return job, domain.QueueRetry, true, nil
	}
	return domain.Job{}, "", false, nil
}

func (q *fakeQueue) Depth(_ domain.Context, language string) (domain.QueueDepth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return domain.QueueDepth{
		Main:  int64(len(q.main[language])),
		Retry: int64(len(q.retry[language])),
		DLQ:   int64(len(q.dlq[language])),
	}, nil
}

// fakeResultStore is an in-memory domain.ResultStore.
type fakeResultStore struct {
	mu      sync.Mutex
	results map[string]domain.ExecutionResult
	getErr  error
	putErr  error
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{results: map[string]domain.ExecutionResult{}}
}

func (r *fakeResultStore) PutResult(_ domain.Context, result domain.ExecutionResult, _ time.Duration) error {
	if r.putErr != nil {
		return r.putErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.JobID] = result
	return nil
}

func (r *fakeResultStore) GetResult(_ domain.Context, jobID string) (domain.ExecutionResult, bool, error) {
	if r.getErr != nil {
		return domain.ExecutionResult{}, false, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[jobID]
	return res, ok, nil
}

func (r *fakeResultStore) GetStatus(_ domain.Context, jobID string) (domain.OverallStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[jobID]
	if !ok {
		return "", false, nil
	}
	return res.OverallStatus, true, nil
}

// fakeIdempotencyStore is an in-memory domain.IdempotencyStore.
type fakeIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	putErr  error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{records: map[string]domain.IdempotencyRecord{}}
}

func (i *fakeIdempotencyStore) Get(_ domain.Context, key string) (domain.IdempotencyRecord, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec, ok := i.records[key]
	return rec, ok, nil
}

func (i *fakeIdempotencyStore) Put(_ domain.Context, record domain.IdempotencyRecord, _ time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.putErr != nil {
		return i.putErr
	}
	i.records[record.Key] = record
	return nil
}

// fakeCancelStore is an in-memory domain.CancelStore.
type fakeCancelStore struct {
	mu        sync.Mutex
	cancelled map[string]bool
}

func newFakeCancelStore() *fakeCancelStore {
	return &fakeCancelStore{cancelled: map[string]bool{}}
}

func (c *fakeCancelStore) RequestCancel(_ domain.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled[jobID] = true
	return nil
}

func (c *fakeCancelStore) IsCancelled(_ domain.Context, jobID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[jobID], nil
}

// fakeEngine is a scripted domain.ExecutionEngine.
type fakeEngine struct {
	outputs []domain.TestExecutionOutput
	err     error
	execute func(domain.Context, domain.Job) ([]domain.TestExecutionOutput, error)
}

func (e *fakeEngine) Execute(ctx domain.Context, job domain.Job) ([]domain.TestExecutionOutput, error) {
	if e.execute != nil {
		return e.execute(ctx, job)
	}
	return e.outputs, e.err
}

// fakeEvaluator is a scripted domain.Evaluator.
type fakeEvaluator struct {
	evaluate func(domain.Job, []domain.TestExecutionOutput) domain.ExecutionResult
}

func (e *fakeEvaluator) Evaluate(job domain.Job, outputs []domain.TestExecutionOutput) domain.ExecutionResult {
	if e.evaluate != nil {
		return e.evaluate(job, outputs)
	}
	passed := 0
	max := 0
	for _, tc := range job.TestCases {
		max += tc.Weight
	}
	for _, o := range outputs {
		passed++
		_ = o
	}
	status := domain.OverallFailed
	if passed > 0 {
		status = domain.OverallCompleted
	}
	return domain.ExecutionResult{JobID: job.ID, OverallStatus: status, Score: passed, MaxScore: max}
}

// fakeInspector is a scripted domain.QueueInspector.
type fakeInspector struct {
	find func(language, jobID string) (bool, bool, bool, domain.Attempts, bool, error)
}

func (f *fakeInspector) Find(_ domain.Context, language, jobID string) (bool, bool, bool, domain.Attempts, bool, error) {
	if f.find != nil {
		return f.find(language, jobID)
	}
	return false, false, false, domain.Attempts{}, false, nil
}
