package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/optimus-run/optimus/internal/domain"
	"github.com/optimus-run/optimus/internal/usecase"
)

// Server aggregates the usecase services exercised by the job pipeline's
// HTTP surface and the shared store used for readiness.
type Server struct {
	Submit usecase.SubmitService
	Status usecase.StatusService
	Cancel usecase.CancelService
	Debug  usecase.DebugService

	// Pinger backs /readyz. The shared store is the one dependency
	// worth readiness-gating.
	Pinger interface {
		Ping(ctx domain.Context) error
	}

	Logger *slog.Logger
}

type testCaseRequest struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Weight         *int   `json:"weight,omitempty"`
}

type submitRequestBody struct {
	Language   string            `json:"language"`
	SourceCode string            `json:"source_code"`
	TestCases  []testCaseRequest `json:"test_cases"`
	TimeoutMS  *int              `json:"timeout_ms,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// SubmitHandler implements POST /execute.
func (s Server) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var body submitRequestBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "MALFORMED_JSON", Message: "request body is not valid JSON: " + err.Error()}})
		return
	}

	req := usecase.SubmitRequest{
		Language:   body.Language,
		SourceCode: body.SourceCode,
		TimeoutMS:  body.TimeoutMS,
	}
	req.TestCases = make([]usecase.RawTestCase, len(body.TestCases))
	for i, tc := range body.TestCases {
		req.TestCases[i] = usecase.RawTestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput, Weight: tc.Weight}
	}

	result, err := s.Submit.Submit(r.Context(), req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: result.JobID})
}

type testResultResponse struct {
	TestID          int    `json:"test_id"`
	Status          string `json:"status"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

type executionResultResponse struct {
	JobID         string               `json:"job_id"`
	OverallStatus string               `json:"overall_status"`
	Score         int                  `json:"score"`
	MaxScore      int                  `json:"max_score"`
	Results       []testResultResponse `json:"results"`
}

func toExecutionResultResponse(result domain.ExecutionResult) executionResultResponse {
	resp := executionResultResponse{
		JobID:         result.JobID,
		OverallStatus: string(result.OverallStatus),
		Score:         result.Score,
		MaxScore:      result.MaxScore,
		Results:       make([]testResultResponse, len(result.Results)),
	}
	for i, tr := range result.Results {
		resp.Results[i] = testResultResponse{
			TestID:          tr.TestID,
			Status:          string(tr.Status),
			Stdout:          tr.Stdout,
			Stderr:          tr.Stderr,
			ExecutionTimeMS: tr.ExecutionTimeMS,
		}
	}
	return resp
}

type pendingResponse struct {
	Status string `json:"status"`
}

// StatusHandler implements GET /job/{id}.
func (s Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if !validJobID(jobID) {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_JOB_ID", Message: "job id is not a valid identifier"}})
		return
	}

	outcome, err := s.Status.Fetch(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if outcome.Pending {
		writeJSON(w, http.StatusAccepted, pendingResponse{Status: "pending"})
		return
	}
	writeJSON(w, http.StatusOK, toExecutionResultResponse(*outcome.Result))
}

type cancelResponse struct {
	Status string `json:"status"`
}

// CancelHandler implements POST /job/{id}/cancel.
func (s Server) CancelHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if !validJobID(jobID) {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_JOB_ID", Message: "job id is not a valid identifier"}})
		return
	}

	if err := s.Cancel.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeJSON(w, http.StatusConflict, errorEnvelope{Error: apiError{Code: "ALREADY_TERMINAL", Message: err.Error()}})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Status: "cancelling"})
}

type debugResponse struct {
	JobID             string                   `json:"job_id"`
	Found             bool                     `json:"found"`
	Language          string                   `json:"language,omitempty"`
	PresentInMain     bool                     `json:"present_in_main"`
	PresentInRetry    bool                     `json:"present_in_retry"`
	PresentInDLQ      bool                     `json:"present_in_dlq"`
	Attempts          int                      `json:"attempts"`
	MaxAttempts       int                      `json:"max_attempts"`
	LastFailureReason string                   `json:"last_failure_reason,omitempty"`
	Result            *executionResultResponse `json:"result,omitempty"`
}

// DebugHandler implements GET /job/{id}/debug.
func (s Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if !validJobID(jobID) {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_JOB_ID", Message: "job id is not a valid identifier"}})
		return
	}

	info, err := s.Debug.Debug(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := debugResponse{
		JobID:             info.JobID,
		Found:             info.Found,
		Language:          info.Language,
		PresentInMain:     info.PresentInMain,
		PresentInRetry:    info.PresentInRetry,
		PresentInDLQ:      info.PresentInDLQ,
		Attempts:          info.Attempts.Count,
		MaxAttempts:       info.Attempts.MaxAttempts,
		LastFailureReason: info.Attempts.LastFailureReason,
	}
	if info.Result != nil {
		r := toExecutionResultResponse(*info.Result)
		resp.Result = &r
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthzHandler is the liveness probe: always 200 once the process is
// serving.
func (s Server) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyzHandler is the readiness probe: 200 only while the shared store
// answers, 503 otherwise.
func (s Server) ReadyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.Pinger == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := s.Pinger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
