// Package evaluator scores raw execution outputs against a job's test
// cases. It is a pure function: no I/O, no daemons, no knowledge of how
// the outputs were produced.
package evaluator

import (
	"log/slog"
	"strings"

	"github.com/optimus-run/optimus/internal/domain"
)

// Evaluator implements domain.Evaluator.
type Evaluator struct {
	logger *slog.Logger
}

// New returns an Evaluator. logger is used only for the defensive
// invariant check in evaluateTest; it should never fire.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate implements domain.Evaluator.
func (e *Evaluator) Evaluate(job domain.Job, outputs []domain.TestExecutionOutput) domain.ExecutionResult {
	return e.evaluate(job, outputs)
}

// normalize trims leading and trailing whitespace only. Internal
// whitespace, case, and any \r\n-vs-\n difference that survives trimming
// are preserved.
func normalize(s string) string {
	return strings.TrimSpace(s)
}

func (e *Evaluator) evaluate(job domain.Job, outputs []domain.TestExecutionOutput) domain.ExecutionResult {
	expectedByID := make(map[int]string, len(job.TestCases))
	weightByID := make(map[int]int, len(job.TestCases))
	maxScore := 0
	for _, tc := range job.TestCases {
		expectedByID[tc.ID] = tc.ExpectedOutput
		weightByID[tc.ID] = tc.Weight
		maxScore += tc.Weight
	}

	results := make([]domain.TestResult, 0, len(outputs))
	score := 0
	for _, out := range outputs {
		result := e.evaluateTest(out, expectedByID[out.TestID])
		if result.Status == domain.StatusPassed {
			score += weightByID[out.TestID]
		}
		results = append(results, result)
	}

	overall := domain.OverallFailed
	if score > 0 {
		overall = domain.OverallCompleted
	}

	return domain.ExecutionResult{
		JobID:         job.ID,
		OverallStatus: overall,
		Score:         score,
		MaxScore:      maxScore,
		Results:       results,
	}
}

// evaluateTest applies the precedence order: compilation_failed >
// runtime_error > timed_out > non-empty stderr > stdout comparison.
func (e *Evaluator) evaluateTest(out domain.TestExecutionOutput, expected string) domain.TestResult {
	var status domain.TestStatus
	switch {
	case out.CompilationFailed:
		status = domain.StatusRuntimeError
	case out.RuntimeError:
		status = domain.StatusRuntimeError
	case out.TimedOut:
		status = domain.StatusTimeLimitExceeded
	case strings.TrimSpace(out.Stderr) != "":
		status = domain.StatusFailed
	case normalize(out.Stdout) == normalize(expected):
		status = domain.StatusPassed
	default:
		status = domain.StatusFailed
	}

	// Primary correctness invariant: a runtime_error or timed_out output
	// can never become Passed. Structurally unreachable given the switch
	// above; logged rather than asserted so a future refactor that
	// breaks the precedence order is caught without crashing a worker
	// mid-job.
	if (out.RuntimeError || out.TimedOut) && status == domain.StatusPassed {
		e.logger.Error("evaluator invariant violated: runtime_error/timed_out output marked Passed", "test_id", out.TestID)
		status = domain.StatusFailed
	}

	return domain.TestResult{
		TestID:          out.TestID,
		Status:          status,
		Stdout:          out.Stdout,
		Stderr:          out.Stderr,
		ExecutionTimeMS: out.ExecutionTimeMS,
	}
}
