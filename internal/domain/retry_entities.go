package domain

// FailureKind distinguishes "we could not run the user program"
// (infrastructure) from "the user program misbehaved" (user-code). Only
// infrastructure failures are retried or DLQ'd; user-code failures are
// always terminal and encoded directly in the ExecutionResult.
type FailureKind string

const (
	// FailureInfrastructure covers container daemon errors, image pull
	// failures, and store errors encountered while dispatching a job.
	FailureInfrastructure FailureKind = "infrastructure"
	// FailureUserCode covers compile errors, runtime errors, and
	// timeouts attributable to the submitted program.
	FailureUserCode FailureKind = "user_code"
)

// RecordFailure increments the attempt counter and stores the reason.
// Called only on infrastructure failure, never on user-code failure.
func (a *Attempts) RecordFailure(reason string) {
	a.Count++
	a.LastFailureReason = reason
}

// Exhausted reports whether another retry is disallowed and the job
// belongs in the dead-letter queue instead.
func (a Attempts) Exhausted() bool {
	max := a.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return a.Count >= max
}

// sumWeights totals the score contribution of every test case in a job,
// used for the max_score of the synthetic DLQ result below.
func sumWeights(cases []TestCase) int {
	total := 0
	for _, c := range cases {
		total += c.Weight
	}
	return total
}

// SyntheticDLQResult builds the terminal "Failed, score 0" ExecutionResult
// written when a job exhausts its attempts and is pushed to the
// dead-letter queue, so the status endpoint reports something other than
// indefinite pending.
func SyntheticDLQResult(job Job) ExecutionResult {
	return ExecutionResult{
		JobID:         job.ID,
		OverallStatus: OverallFailed,
		Score:         0,
		MaxScore:      sumWeights(job.TestCases),
		Results:       nil,
	}
}
