package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/optimus-run/optimus/internal/adapter/observability"
	"github.com/optimus-run/optimus/internal/config"
	"github.com/optimus-run/optimus/internal/domain"
)

// DefaultCancelPollInterval bounds how often a Worker polls the
// cancellation flag while a job is executing. The check only needs to
// land before each test case starts; polling on a short timer rather
// than hooking the engine's internal loop keeps the engine itself free
// of any knowledge of the store.
const DefaultCancelPollInterval = 200 * time.Millisecond

// Worker is the per-language dispatch loop: block on the queue, run one
// job to completion inside the execution engine, score it, and apply the
// retry/DLQ/cancellation protocol. One Worker instance processes one job
// at a time; concurrency across the system comes from running many
// workers, each blocking on its own language queue.
type Worker struct {
	Language  string
	Queue     domain.Queue
	Engine    domain.ExecutionEngine
	Evaluator domain.Evaluator
	Results   domain.ResultStore
	Cancel    domain.CancelStore
	Cfg       config.Config
	Logger    *slog.Logger

	// Languages supplies the per-language stderr policy; the evaluator
	// itself stays policy-free. Optional: a nil registry means every
	// language is scored strictly.
	Languages *domain.LanguageRegistry

	// PollInterval overrides DefaultCancelPollInterval in tests.
	PollInterval time.Duration
}

// NewWorker constructs a Worker for a single language.
func NewWorker(language string, queue domain.Queue, engine domain.ExecutionEngine, evaluator domain.Evaluator, results domain.ResultStore, cancel domain.CancelStore, cfg config.Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{Language: language, Queue: queue, Engine: engine, Evaluator: evaluator, Results: results, Cancel: cancel, Cfg: cfg, Logger: logger, PollInterval: DefaultCancelPollInterval}
}

// Run blocks, repeatedly dequeuing and executing jobs for Language, until
// ctx is cancelled. A blocking-pop timeout yields no work and loops,
// which is what makes cooperative shutdown possible. A
// dequeue failure (the store is unreachable) backs off exponentially
// rather than hot-looping against a downed Redis; a single successful
// dequeue resets the backoff.
func (w *Worker) Run(ctx context.Context) {
	bo := w.reconnectBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		_, err := w.RunOnce(ctx)
		if err == nil {
			bo.Reset()
			continue
		}
		w.Logger.Error("dequeue failed", "language", w.Language, "error", err)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			bo.Reset()
			wait = bo.NextBackOff()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (w *Worker) reconnectBackoff() *backoff.ExponentialBackOff {
	maxElapsedTime, initialInterval, maxInterval, multiplier := w.Cfg.GetStoreBackoffConfig()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.Multiplier = multiplier
	bo.MaxElapsedTime = maxElapsedTime
	return bo
}

// RunOnce performs a single blocking dequeue attempt and, if a job was
// found, runs it to completion. ok is false on a pop timeout (no work);
// err is non-nil only for a store-level dequeue failure, which is not
// itself retried (there is no job to retry yet).
func (w *Worker) RunOnce(ctx context.Context) (ok bool, err error) {
	job, _, found, err := w.Queue.Dequeue(ctx, w.Language, w.Cfg.QueuePopTimeout)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

// process runs one job's test suite and resolves it to exactly one
// terminal outcome: a written ExecutionResult, or a requeue/DLQ
// transition on infrastructure failure. storeCtx is used for every store
// call so writes land even if the job's own execution context was
// cancelled; it is detached from the job's cancellation poller on
// purpose, since engine-facing and store-facing cancellation are
// separate concerns.
func (w *Worker) process(storeCtx context.Context, job domain.Job) {
	observability.StartProcessingJob(job.Language)

	jobCtx, cancelJob := context.WithCancel(context.Background())
	defer cancelJob()

	pollDone := make(chan struct{})
	go w.pollCancellation(jobCtx, cancelJob, job.ID, pollDone)

	start := time.Now()
	outputs, err := w.Engine.Execute(jobCtx, job)
	observability.ObserveEngineExecution(job.Language, time.Since(start))
	cancelJob()
	<-pollDone

	outputs = w.applyStderrPolicy(job.Language, outputs)

	switch {
	case err == nil:
		result := w.Evaluator.Evaluate(job, outputs)
		w.recordResults(job.Language, result)
		w.writeResult(storeCtx, result)
		observability.CompleteJob(job.Language, string(result.OverallStatus))
	case errors.Is(err, context.Canceled):
		result := w.Evaluator.Evaluate(job, outputs)
		result.OverallStatus = domain.OverallCancelled
		w.recordResults(job.Language, result)
		w.writeResult(storeCtx, result)
		observability.CompleteJob(job.Language, string(result.OverallStatus))
	default:
		w.handleInfrastructureFailure(storeCtx, job, err)
	}
}

// applyStderrPolicy scrubs stderr from clean-exit outputs for languages
// whose registry entry opts out of stderr-as-failure scoring (runtimes
// that print benign startup noise to stderr). Outputs already flagged as
// runtime errors, timeouts, or compilation failures keep their stderr:
// there it is diagnostic, not a scoring input.
func (w *Worker) applyStderrPolicy(language string, outputs []domain.TestExecutionOutput) []domain.TestExecutionOutput {
	if w.Languages == nil {
		return outputs
	}
	spec, ok := w.Languages.Get(language)
	if !ok || !spec.IgnoresStderr() {
		return outputs
	}
	for i := range outputs {
		if outputs[i].RuntimeError || outputs[i].TimedOut || outputs[i].CompilationFailed {
			continue
		}
		outputs[i].Stderr = ""
	}
	return outputs
}

func (w *Worker) recordResults(language string, result domain.ExecutionResult) {
	for _, tr := range result.Results {
		observability.RecordTestCaseResult(language, string(tr.Status))
	}
}

// pollCancellation checks the cancellation flag on a timer and cancels
// jobCtx the moment it's set, so the engine's per-test-case ctx.Err()
// check picks it up before the next test runs.
func (w *Worker) pollCancellation(jobCtx context.Context, cancel context.CancelFunc, jobID string, done chan<- struct{}) {
	defer close(done)
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultCancelPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-jobCtx.Done():
			return
		case <-ticker.C:
			cancelled, err := w.Cancel.IsCancelled(jobCtx, jobID)
			if err != nil {
				// Best-effort: a transient cancellation-flag read failure
				// never aborts an otherwise-healthy job.
				w.Logger.Warn("cancellation poll failed", "job_id", jobID, "error", err)
				continue
			}
			if cancelled {
				cancel()
				return
			}
		}
	}
}

func (w *Worker) writeResult(ctx context.Context, result domain.ExecutionResult) {
	if err := w.Results.PutResult(ctx, result, w.Cfg.ResultTTL); err != nil {
		w.Logger.Error("failed to write execution result", "job_id", result.JobID, "error", err)
	}
}

// handleInfrastructureFailure implements the dispatch failure taxonomy:
// infrastructure errors (container daemon, store) increment
// attempts and requeue; exhausting max_attempts pushes to the DLQ and
// writes a synthetic terminal result so polling clients never see
// indefinite pending.
func (w *Worker) handleInfrastructureFailure(ctx context.Context, job domain.Job, cause error) {
	job.Metadata.RecordFailure(cause.Error())
	w.Logger.Error("infrastructure failure", "job_id", job.ID, "language", job.Language, "attempt", job.Metadata.Count, "error", cause)

	if job.Metadata.Exhausted() {
		if err := w.Queue.EnqueueDLQ(ctx, job.Language, job); err != nil {
			w.Logger.Error("failed to push exhausted job to DLQ", "job_id", job.ID, "error", err)
		}
		w.writeResult(ctx, domain.SyntheticDLQResult(job))
		return
	}

	if err := w.Queue.EnqueueRetry(ctx, job.Language, job); err != nil {
		w.Logger.Error("failed to requeue job for retry", "job_id", job.ID, "error", err)
	}
}
