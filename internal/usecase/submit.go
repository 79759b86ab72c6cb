// Package usecase orchestrates the job pipeline: admission, status
// lookup, cancellation, diagnostic inspection, and the worker's
// dispatch/execute/evaluate loop. Each service is a thin coordinator over
// domain ports; none of them hold I/O logic of their own.
package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/optimus-run/optimus/internal/config"
	"github.com/optimus-run/optimus/internal/domain"
)

// SubmitService validates, assigns an identifier, enforces idempotency,
// and enqueues an admitted submission.
type SubmitService struct {
	Queue       domain.Queue
	Idempotency domain.IdempotencyStore
	Languages   *domain.LanguageRegistry
	Cfg         config.Config
	Logger      *slog.Logger

	// now is overridden in tests; defaults to time.Now.
	now func() time.Time
}

// NewSubmitService constructs a SubmitService.
func NewSubmitService(queue domain.Queue, idem domain.IdempotencyStore, languages *domain.LanguageRegistry, cfg config.Config, logger *slog.Logger) SubmitService {
	if logger == nil {
		logger = slog.Default()
	}
	return SubmitService{Queue: queue, Idempotency: idem, Languages: languages, Cfg: cfg, Logger: logger, now: time.Now}
}

// SubmitResult is what the transport layer needs to build its response.
type SubmitResult struct {
	JobID           string
	AlreadyAccepted bool
}

// canonicalPayload is the stable, key-ordered JSON shape hashed for the
// idempotency fingerprint. Struct field order is Go's canonical
// marshaling order, which is stable across runs for a fixed type — no
// ad-hoc key sorting is needed the way a map would require.
type canonicalPayload struct {
	Language   string              `json:"language"`
	SourceCode string              `json:"source_code"`
	TestCases  []canonicalTestCase `json:"test_cases"`
	TimeoutMS  int                 `json:"timeout_ms"`
}

type canonicalTestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Weight         int    `json:"weight"`
}

func fingerprint(cases []domain.TestCase, language, sourceCode string, timeoutMS int) (string, error) {
	p := canonicalPayload{Language: language, SourceCode: sourceCode, TimeoutMS: timeoutMS}
	p.TestCases = make([]canonicalTestCase, len(cases))
	for i, c := range cases {
		p.TestCases[i] = canonicalTestCase{Input: c.Input, ExpectedOutput: c.ExpectedOutput, Weight: c.Weight}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("op=usecase.fingerprint: marshal: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Submit implements the admission + idempotency protocol.
// idempotencyKey is empty when the client sent no Idempotency-Key header.
func (s SubmitService) Submit(ctx domain.Context, req SubmitRequest, idempotencyKey string) (SubmitResult, error) {
	cases, timeoutMS, err := validate(req, s.Cfg, s.Languages)
	if err != nil {
		return SubmitResult{}, err
	}

	fp, err := fingerprint(cases, req.Language, req.SourceCode, timeoutMS)
	if err != nil {
		return SubmitResult{}, err
	}

	if idempotencyKey != "" {
		existing, ok, err := s.Idempotency.Get(ctx, idempotencyKey)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("op=usecase.Submit: idempotency lookup: %w", err)
		}
		if ok {
			if existing.RequestFingerprint != fp {
				return SubmitResult{}, domain.NewValidationError(domain.ErrCodeIdempotencyConflict, "idempotency key already used with a different payload")
			}
			return SubmitResult{JobID: existing.JobID, AlreadyAccepted: true}, nil
		}
	}

	job := domain.Job{
		ID:             uuid.NewString(),
		Language:       req.Language,
		SourceCode:     req.SourceCode,
		TestCases:      cases,
		TimeoutMS:      timeoutMS,
		Metadata:       domain.Attempts{MaxAttempts: s.Cfg.DefaultMaxAttempts},
		IdempotencyKey: idempotencyKey,
		CreatedAt:      s.now(),
	}

	if err := s.Queue.Enqueue(ctx, job.Language, job); err != nil {
		return SubmitResult{}, fmt.Errorf("op=usecase.Submit: enqueue: %w", err)
	}

	if idempotencyKey != "" {
		record := domain.IdempotencyRecord{Key: idempotencyKey, RequestFingerprint: fp, JobID: job.ID, CreatedAt: job.CreatedAt}
		// The job is already durable once enqueued; a SETEX failure here
		// is logged and swallowed rather than surfaced. Losing the
		// idempotency record only risks a duplicate job on retry, never
		// a lost one.
		if err := s.Idempotency.Put(ctx, record, s.Cfg.IdempotencyTTL); err != nil {
			s.Logger.Error("failed to persist idempotency record after enqueue", "job_id", job.ID, "idempotency_key", idempotencyKey, "error", err)
		}
	}

	return SubmitResult{JobID: job.ID}, nil
}
