package usecase

import (
	"fmt"

	"github.com/optimus-run/optimus/internal/domain"
)

// DebugService answers the diagnostic-only GET /job/{id}/debug operation.
// Unlike StatusService it is allowed to scan: a job's language is not
// known once it has left the client's submission (the store has no
// general job index, only per-language queues), so Debug checks every
// configured language's three queues in turn. Intended for operators,
// never on the hot path.
type DebugService struct {
	Results   domain.ResultStore
	Inspector domain.QueueInspector
	Languages *domain.LanguageRegistry
}

// NewDebugService constructs a DebugService.
func NewDebugService(results domain.ResultStore, inspector domain.QueueInspector, languages *domain.LanguageRegistry) DebugService {
	return DebugService{Results: results, Inspector: inspector, Languages: languages}
}

// Debug implements the GET /job/{id}/debug contract.
func (s DebugService) Debug(ctx domain.Context, jobID string) (domain.DebugInfo, error) {
	info := domain.DebugInfo{JobID: jobID}

	result, ok, err := s.Results.GetResult(ctx, jobID)
	if err != nil {
		return domain.DebugInfo{}, fmt.Errorf("op=usecase.Debug: result lookup: %w", err)
	}
	if ok {
		info.Found = true
		info.Result = &result
	}

	for _, language := range s.Languages.Names() {
		main, retry, dlq, attempts, found, err := s.Inspector.Find(ctx, language, jobID)
		if err != nil {
			return domain.DebugInfo{}, fmt.Errorf("op=usecase.Debug: queue scan %s: %w", language, err)
		}
		if !found {
			continue
		}
		info.Found = true
		info.Language = language
		info.PresentInMain = main
		info.PresentInRetry = retry
		info.PresentInDLQ = dlq
		info.Attempts = attempts
		break
	}

	return info, nil
}
