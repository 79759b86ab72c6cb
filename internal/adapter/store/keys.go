// Package store implements the shared-store ports (domain.Queue,
// domain.ResultStore, domain.IdempotencyStore, domain.CancelStore) against
// a Redis-compatible backend.
package store

import "fmt"

// Key prefixes. Deterministic from job_id/language so operators can
// inspect and reason about state directly with redis-cli.
const (
	queuePrefix       = "optimus:queue"
	resultPrefix      = "optimus:result"
	statusPrefix      = "optimus:status"
	cancelPrefix      = "optimus:cancel"
	idempotencyPrefix = "idempotency"
)

func queueKey(language string) string {
	return fmt.Sprintf("%s:%s", queuePrefix, language)
}

func retryQueueKey(language string) string {
	return fmt.Sprintf("%s:%s:retry", queuePrefix, language)
}

func dlqKey(language string) string {
	return fmt.Sprintf("%s:%s:dlq", queuePrefix, language)
}

func resultKey(jobID string) string {
	return fmt.Sprintf("%s:%s", resultPrefix, jobID)
}

func statusKey(jobID string) string {
	return fmt.Sprintf("%s:%s", statusPrefix, jobID)
}

func cancelKey(jobID string) string {
	return fmt.Sprintf("%s:%s", cancelPrefix, jobID)
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("%s:%s", idempotencyPrefix, key)
}
