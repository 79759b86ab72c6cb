package usecase

import (
	"fmt"

	"github.com/optimus-run/optimus/internal/domain"
)

// StatusService answers the hot-path status query. Deliberately O(1),
// reading only ResultStore — never a queue scan — so the API cannot
// distinguish "queued" from "unknown job id".
type StatusService struct {
	Results domain.ResultStore
}

// NewStatusService constructs a StatusService.
func NewStatusService(results domain.ResultStore) StatusService {
	return StatusService{Results: results}
}

// StatusOutcome is the Fetch result: either a terminal ExecutionResult or
// a pending projection, never an error for "not found yet".
type StatusOutcome struct {
	// Result is non-nil iff the job has reached a terminal state.
	Result *domain.ExecutionResult
	// Pending is true when no result exists yet (queued, running, or an
	// unknown id — indistinguishable by design).
	Pending bool
}

// Fetch implements the GET /job/{id} contract.
func (s StatusService) Fetch(ctx domain.Context, jobID string) (StatusOutcome, error) {
	result, ok, err := s.Results.GetResult(ctx, jobID)
	if err != nil {
		return StatusOutcome{}, fmt.Errorf("op=usecase.Fetch: %w", err)
	}
	if !ok {
		return StatusOutcome{Pending: true}, nil
	}
	return StatusOutcome{Result: &result}, nil
}
