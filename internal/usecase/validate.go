package usecase

import (
	"strings"

	"github.com/optimus-run/optimus/internal/config"
	"github.com/optimus-run/optimus/internal/domain"
)

// RawTestCase is the pre-validation shape of a submitted test case, before
// ids are assigned and defaults are applied.
type RawTestCase struct {
	Input          string
	ExpectedOutput string
	Weight         *int
}

// SubmitRequest is the pre-validation shape of an admitted payload, as
// decoded from the transport layer (HTTP JSON body today).
type SubmitRequest struct {
	Language   string
	SourceCode string
	TestCases  []RawTestCase
	TimeoutMS  *int
}

// validate enforces every admission rule, each yielding a distinct
// ErrorCode, and returns the defaulted/numbered test cases ready
// to become a domain.Job. Rejected submissions never touch the queue.
func validate(req SubmitRequest, cfg config.Config, languages *domain.LanguageRegistry) ([]domain.TestCase, int, error) {
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, 0, domain.NewValidationError(domain.ErrCodeEmptySourceCode, "source_code must not be empty")
	}
	if int64(len(req.SourceCode)) > cfg.MaxSourceCodeBytes {
		return nil, 0, domain.NewValidationError(domain.ErrCodeSourceCodeTooLarge, "source_code exceeds the maximum allowed size")
	}

	if len(req.TestCases) == 0 {
		return nil, 0, domain.NewValidationError(domain.ErrCodeNoTestCases, "test_cases must not be empty")
	}
	if len(req.TestCases) > cfg.MaxTestCases {
		return nil, 0, domain.NewValidationError(domain.ErrCodeTooManyTestCases, "test_cases exceeds the maximum allowed count")
	}

	timeoutMS := cfg.DefaultTimeoutMS
	if req.TimeoutMS != nil {
		timeoutMS = *req.TimeoutMS
	}
	if timeoutMS < 1 || timeoutMS > cfg.MaxTimeoutMS {
		return nil, 0, domain.NewValidationError(domain.ErrCodeInvalidTimeout, "timeout_ms must be between 1 and the configured maximum")
	}

	if _, ok := languages.Get(req.Language); !ok {
		return nil, 0, domain.NewValidationError(domain.ErrCodeLanguageNotSupported, "language is not in the configured registry: "+req.Language)
	}

	cases := make([]domain.TestCase, len(req.TestCases))
	for i, raw := range req.TestCases {
		if int64(len(raw.Input)) > cfg.MaxTestInputBytes {
			return nil, 0, domain.NewValidationError(domain.ErrCodeTestCaseInputTooLarge, "test case input exceeds the maximum allowed size")
		}
		if int64(len(raw.ExpectedOutput)) > cfg.MaxTestOutputBytes {
			return nil, 0, domain.NewValidationError(domain.ErrCodeTestCaseOutputTooLarge, "test case expected_output exceeds the maximum allowed size")
		}
		weight := cfg.DefaultTestWeight
		if raw.Weight != nil {
			weight = *raw.Weight
		}
		// Test cases are numbered 1..N in submission order; the
		// client-supplied order is authoritative.
		cases[i] = domain.TestCase{ID: i + 1, Input: raw.Input, ExpectedOutput: raw.ExpectedOutput, Weight: weight}
	}

	return cases, timeoutMS, nil
}
