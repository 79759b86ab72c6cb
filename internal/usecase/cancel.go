package usecase

import (
	"fmt"

	"github.com/optimus-run/optimus/internal/domain"
)

// CancelService implements the cooperative, best-effort cancellation
// protocol: a job already resolved to a terminal
// ExecutionResult cannot be cancelled. Multiple cancel calls are
// idempotent.
type CancelService struct {
	Results     domain.ResultStore
	CancelStore domain.CancelStore
}

// NewCancelService constructs a CancelService.
func NewCancelService(results domain.ResultStore, cancel domain.CancelStore) CancelService {
	return CancelService{Results: results, CancelStore: cancel}
}

// Cancel implements the POST /job/{id}/cancel contract. It returns
// domain.ErrConflict when the job has already reached a terminal state —
// the status endpoint deliberately can't tell "queued" from "unknown id",
// but cancel only needs to tell "terminal" from "not yet terminal", which
// a single ResultStore lookup answers.
func (s CancelService) Cancel(ctx domain.Context, jobID string) error {
	_, terminal, err := s.Results.GetResult(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=usecase.Cancel: check result: %w", err)
	}
	if terminal {
		return fmt.Errorf("%w: job %s has already reached a terminal state", domain.ErrConflict, jobID)
	}
	if err := s.CancelStore.RequestCancel(ctx, jobID); err != nil {
		return fmt.Errorf("op=usecase.Cancel: %w", err)
	}
	return nil
}
