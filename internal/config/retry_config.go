// Package config defines retry and DLQ configuration.
package config

import (
	"time"
)

// RetryConfig holds attempt-accounting configuration. Unlike the store
// reconnect backoff, a job's requeue to the retry queue is immediate per
// the dispatch protocol — there is no scheduled delay between attempts,
// only a bounded attempt count before the job moves to the DLQ.
type RetryConfig struct {
	// MaxAttempts bounds Attempts.Count before a job is pushed to the DLQ.
	MaxAttempts int `env:"DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	// DLQMaxAge is reported in the sweeper's dead-letter backlog warning;
	// the sweeper does not inspect the age of individual DLQ entries.
	DLQMaxAge time.Duration `env:"DLQ_MAX_AGE" envDefault:"168h"`
	// DLQCleanupInterval is how often the sweeper inspects the DLQ.
	DLQCleanupInterval time.Duration `env:"DLQ_CLEANUP_INTERVAL" envDefault:"24h"`
}

// GetRetryConfig returns the retry/DLQ configuration.
func (c Config) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:        c.DefaultMaxAttempts,
		DLQMaxAge:          c.DLQMaxAge,
		DLQCleanupInterval: c.DLQCleanupInterval,
	}
}
