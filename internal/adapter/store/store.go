package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/optimus-run/optimus/internal/adapter/observability"
	"github.com/optimus-run/optimus/internal/domain"
)

// RedisStore implements domain.Queue, domain.ResultStore,
// domain.IdempotencyStore, and domain.CancelStore against a single
// Redis-compatible client. Grounded on the deterministic key scheme of
// optimus-common's redis module (RPUSH/BLPOP queues, SETEX result/status)
// extended with the retry/DLQ queues and cancellation flag the dispatch
// protocol adds.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// New parses rawURL (a redis:// connection string) and returns a
// RedisStore bound to it.
func New(rawURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("op=store.New: parse url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: redis.NewClient(opts), logger: logger}, nil
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

// Ping verifies connectivity to the store, used by the readiness check.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=store.Ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// jobRecord is the wire shape pushed onto the queues. It mirrors
// domain.Job field-for-field; kept separate so JSON tags stay out of the
// domain package.
type jobRecord struct {
	ID             string        `json:"id"`
	Language       string        `json:"language"`
	SourceCode     string        `json:"source_code"`
	TestCases      []jobTestCase `json:"test_cases"`
	TimeoutMS      int           `json:"timeout_ms"`
	Metadata       jobAttempts   `json:"metadata"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type jobTestCase struct {
	ID             int    `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Weight         int    `json:"weight"`
}

type jobAttempts struct {
	Count             int    `json:"attempts"`
	MaxAttempts       int    `json:"max_attempts"`
	LastFailureReason string `json:"last_failure_reason,omitempty"`
}

func toRecord(job domain.Job) jobRecord {
	cases := make([]jobTestCase, len(job.TestCases))
	for i, c := range job.TestCases {
		cases[i] = jobTestCase{ID: c.ID, Input: c.Input, ExpectedOutput: c.ExpectedOutput, Weight: c.Weight}
	}
	return jobRecord{
		ID:             job.ID,
		Language:       job.Language,
		SourceCode:     job.SourceCode,
		TestCases:      cases,
		TimeoutMS:      job.TimeoutMS,
		Metadata:       jobAttempts{Count: job.Metadata.Count, MaxAttempts: job.Metadata.MaxAttempts, LastFailureReason: job.Metadata.LastFailureReason},
		IdempotencyKey: job.IdempotencyKey,
		CreatedAt:      job.CreatedAt,
	}
}

func fromRecord(r jobRecord) domain.Job {
	cases := make([]domain.TestCase, len(r.TestCases))
	for i, c := range r.TestCases {
		cases[i] = domain.TestCase{ID: c.ID, Input: c.Input, ExpectedOutput: c.ExpectedOutput, Weight: c.Weight}
	}
	return domain.Job{
		ID:             r.ID,
		Language:       r.Language,
		SourceCode:     r.SourceCode,
		TestCases:      cases,
		TimeoutMS:      r.TimeoutMS,
		Metadata:       domain.Attempts{Count: r.Metadata.Count, MaxAttempts: r.Metadata.MaxAttempts, LastFailureReason: r.Metadata.LastFailureReason},
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

func (s *RedisStore) push(ctx context.Context, key string, job domain.Job) error {
	payload, err := json.Marshal(toRecord(job))
	if err != nil {
		return fmt.Errorf("op=store.push: marshal job: %w", err)
	}
	if err := s.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("op=store.push: rpush %s: %w", key, err)
	}
	return nil
}

// Enqueue implements domain.Queue.
func (s *RedisStore) Enqueue(ctx context.Context, language string, job domain.Job) error {
	if err := s.push(ctx, queueKey(language), job); err != nil {
		return err
	}
	observability.EnqueueJob(language)
	return nil
}

// EnqueueRetry implements domain.Queue.
func (s *RedisStore) EnqueueRetry(ctx context.Context, language string, job domain.Job) error {
	if err := s.push(ctx, retryQueueKey(language), job); err != nil {
		return err
	}
	observability.RetryJob(language)
	return nil
}

// EnqueueDLQ implements domain.Queue.
func (s *RedisStore) EnqueueDLQ(ctx context.Context, language string, job domain.Job) error {
	if err := s.push(ctx, dlqKey(language), job); err != nil {
		return err
	}
	observability.DeadLetterJob(language)
	return nil
}

// Dequeue implements domain.Queue. It issues a single BLPOP against both
// the main and retry queue keys, main key first, so a freshly submitted
// job is never blocked behind a poisoned retry.
func (s *RedisStore) Dequeue(ctx context.Context, language string, timeout time.Duration) (domain.Job, domain.QueueKind, bool, error) {
	main := queueKey(language)
	retry := retryQueueKey(language)

	res, err := s.client.BLPop(ctx, timeout, main, retry).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, "", false, nil
	}
	if err != nil {
		return domain.Job{}, "", false, fmt.Errorf("op=store.Dequeue: blpop: %w", err)
	}
	if len(res) != 2 {
		return domain.Job{}, "", false, fmt.Errorf("op=store.Dequeue: unexpected blpop reply %v", res)
	}

	var rec jobRecord
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return domain.Job{}, "", false, fmt.Errorf("op=store.Dequeue: unmarshal job: %w", err)
	}

	from := domain.QueueMain
	if res[0] == retry {
		from = domain.QueueRetry
	}
	return fromRecord(rec), from, true, nil
}

// Depth implements domain.Queue, used only by the DLQ sweeper's periodic
// backlog sampling; never on the hot path.
func (s *RedisStore) Depth(ctx context.Context, language string) (domain.QueueDepth, error) {
	pipe := s.client.Pipeline()
	mainCmd := pipe.LLen(ctx, queueKey(language))
	retryCmd := pipe.LLen(ctx, retryQueueKey(language))
	dlqCmd := pipe.LLen(ctx, dlqKey(language))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.QueueDepth{}, fmt.Errorf("op=store.Depth: pipeline: %w", err)
	}
	return domain.QueueDepth{Main: mainCmd.Val(), Retry: retryCmd.Val(), DLQ: dlqCmd.Val()}, nil
}

// resultRecord is the wire shape for ExecutionResult.
type resultRecord struct {
	JobID         string               `json:"job_id"`
	OverallStatus domain.OverallStatus `json:"overall_status"`
	Score         int                  `json:"score"`
	MaxScore      int                  `json:"max_score"`
	Results       []testResultRecord   `json:"results"`
}

type testResultRecord struct {
	TestID          int               `json:"test_id"`
	Status          domain.TestStatus `json:"status"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	ExecutionTimeMS int64             `json:"execution_time_ms"`
}

func toResultRecord(r domain.ExecutionResult) resultRecord {
	results := make([]testResultRecord, len(r.Results))
	for i, tr := range r.Results {
		results[i] = testResultRecord{TestID: tr.TestID, Status: tr.Status, Stdout: tr.Stdout, Stderr: tr.Stderr, ExecutionTimeMS: tr.ExecutionTimeMS}
	}
	return resultRecord{JobID: r.JobID, OverallStatus: r.OverallStatus, Score: r.Score, MaxScore: r.MaxScore, Results: results}
}

func fromResultRecord(r resultRecord) domain.ExecutionResult {
	results := make([]domain.TestResult, len(r.Results))
	for i, tr := range r.Results {
		results[i] = domain.TestResult{TestID: tr.TestID, Status: tr.Status, Stdout: tr.Stdout, Stderr: tr.Stderr, ExecutionTimeMS: tr.ExecutionTimeMS}
	}
	return domain.ExecutionResult{JobID: r.JobID, OverallStatus: r.OverallStatus, Score: r.Score, MaxScore: r.MaxScore, Results: results}
}

// PutResult implements domain.ResultStore, writing both the full result
// and its cheap status projection in one round trip.
func (s *RedisStore) PutResult(ctx context.Context, result domain.ExecutionResult, ttl time.Duration) error {
	payload, err := json.Marshal(toResultRecord(result))
	if err != nil {
		return fmt.Errorf("op=store.PutResult: marshal: %w", err)
	}
	statusPayload, err := json.Marshal(result.OverallStatus)
	if err != nil {
		return fmt.Errorf("op=store.PutResult: marshal status: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, resultKey(result.JobID), payload, ttl)
	pipe.Set(ctx, statusKey(result.JobID), statusPayload, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=store.PutResult: pipeline: %w", err)
	}
	return nil
}

// GetResult implements domain.ResultStore.
func (s *RedisStore) GetResult(ctx context.Context, jobID string) (domain.ExecutionResult, bool, error) {
	payload, err := s.client.Get(ctx, resultKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ExecutionResult{}, false, nil
	}
	if err != nil {
		return domain.ExecutionResult{}, false, fmt.Errorf("op=store.GetResult: get: %w", err)
	}

	var rec resultRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.ExecutionResult{}, false, fmt.Errorf("op=store.GetResult: unmarshal: %w", err)
	}
	return fromResultRecord(rec), true, nil
}

// GetStatus implements domain.ResultStore.
func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (domain.OverallStatus, bool, error) {
	payload, err := s.client.Get(ctx, statusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=store.GetStatus: get: %w", err)
	}

	var status domain.OverallStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return "", false, fmt.Errorf("op=store.GetStatus: unmarshal: %w", err)
	}
	return status, true, nil
}

// idempotencyRecord is the wire shape for domain.IdempotencyRecord.
type idempotencyRecord struct {
	Key                string    `json:"key"`
	RequestFingerprint string    `json:"request_fingerprint"`
	JobID              string    `json:"job_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// Get implements domain.IdempotencyStore.
func (s *RedisStore) Get(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	payload, err := s.client.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("op=store.Get: get: %w", err)
	}

	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("op=store.Get: unmarshal: %w", err)
	}
	return domain.IdempotencyRecord{Key: rec.Key, RequestFingerprint: rec.RequestFingerprint, JobID: rec.JobID, CreatedAt: rec.CreatedAt}, true, nil
}

// Put implements domain.IdempotencyStore. A SETEX failure after the job is
// already enqueued is logged and swallowed by the caller, per the
// admission protocol: the job is already durable even without the record.
func (s *RedisStore) Put(ctx context.Context, record domain.IdempotencyRecord, ttl time.Duration) error {
	payload, err := json.Marshal(idempotencyRecord{Key: record.Key, RequestFingerprint: record.RequestFingerprint, JobID: record.JobID, CreatedAt: record.CreatedAt})
	if err != nil {
		return fmt.Errorf("op=store.Put: marshal: %w", err)
	}
	if err := s.client.Set(ctx, idempotencyKey(record.Key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("op=store.Put: set: %w", err)
	}
	return nil
}

// RequestCancel implements domain.CancelStore. Idempotent: setting an
// already-set flag is a no-op from the caller's perspective.
func (s *RedisStore) RequestCancel(ctx context.Context, jobID string) error {
	if err := s.client.Set(ctx, cancelKey(jobID), "1", 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("op=store.RequestCancel: set: %w", err)
	}
	return nil
}

// IsCancelled implements domain.CancelStore.
func (s *RedisStore) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	err := s.client.Get(ctx, cancelKey(jobID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=store.IsCancelled: get: %w", err)
	}
	return true, nil
}
