// Package httpserver contains HTTP handlers and middleware for the job
// submission, status, cancellation, and debug API.
// It follows clean architecture principles: handlers translate
// transport concerns to/from usecase calls and never hold business logic
// of their own.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/optimus-run/optimus/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// validationStatus maps an admission ErrorCode to its HTTP status:
// 413 for the three size caps (source, test input, expected output), 409 for an idempotency replay conflict,
// 422 for every other semantic admission rule.
func validationStatus(code domain.ErrorCode) int {
	switch code {
	case domain.ErrCodeSourceCodeTooLarge, domain.ErrCodeTestCaseInputTooLarge, domain.ErrCodeTestCaseOutputTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.ErrCodeIdempotencyConflict:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeError maps a domain error to the structured {error:{code,message}}
// envelope and its HTTP status. A *domain.ValidationError
// carries its own admission error code (NO_TEST_CASES,
// SOURCE_CODE_TOO_LARGE, IDEMPOTENCY_CONFLICT, ...); anything else falls
// back to the coarse sentinel taxonomy in internal/domain.
func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, validationStatus(verr.Code), errorEnvelope{Error: apiError{Code: string(verr.Code), Message: verr.Message}})
		return
	}

	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "CONFLICT"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error()}})
}
