package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/optimus-run/optimus/internal/adapter/observability"
	"github.com/optimus-run/optimus/internal/domain"
)

// DLQSweeper is a periodic diagnostic pass over every configured
// language's dead-letter queue. It never mutates a job: a job pushed to
// the DLQ already has the synthetic
// Failed ExecutionResult the worker wrote when attempts were exhausted
// (domain.SyntheticDLQResult), so there is nothing left to reconcile.
// Its only job is to surface backlog for operators — a non-empty DLQ is
// logged as a warning (with DLQMaxAge attached; entry ages are not
// inspected) as a signal the language's runtime image or Docker daemon
// needs attention.
type DLQSweeper struct {
	queues    domain.Queue
	languages *domain.LanguageRegistry
	maxAge    time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewDLQSweeper constructs a DLQSweeper. Returns nil if queues or
// languages is nil.
func NewDLQSweeper(queues domain.Queue, languages *domain.LanguageRegistry, maxAge, interval time.Duration, logger *slog.Logger) *DLQSweeper {
	if queues == nil || languages == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQSweeper{queues: queues, languages: languages, maxAge: maxAge, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is
// cancelled, recording per-language queue depths and logging a warning
// for each language whose DLQ is non-empty.
func (s *DLQSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dlq sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *DLQSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.dlq_sweeper")
	ctx, span := tracer.Start(ctx, "DLQSweeper.sweepOnce")
	defer span.End()

	for _, language := range s.languages.Names() {
		depth, err := s.queues.Depth(ctx, language)
		if err != nil {
			span.RecordError(err)
			s.logger.Error("dlq sweep failed to read queue depth", "language", language, "error", err)
			continue
		}
		span.SetAttributes(
			attribute.String("language", language),
			attribute.Int64("queue.main_depth", depth.Main),
			attribute.Int64("queue.retry_depth", depth.Retry),
			attribute.Int64("queue.dlq_depth", depth.DLQ),
		)
		observability.RecordQueueDepth(language, "main", depth.Main)
		observability.RecordQueueDepth(language, "retry", depth.Retry)
		observability.RecordQueueDepth(language, "dlq", depth.DLQ)
		if depth.DLQ > 0 {
			s.logger.Warn("dead-letter backlog present",
				"language", language, "dlq_depth", depth.DLQ, "retry_depth", depth.Retry, "max_age", s.maxAge)
		}
	}
}
