package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/optimus-run/optimus/internal/domain"
)

// Find implements domain.QueueInspector. It is the only O(n) operation
// in this package: the debug endpoint's whole reason for existing is to
// trade an LRANGE-and-scan over a bounded list for the ability to tell
// "queued" apart from "unknown id" without keeping a separate job index,
// per the status-endpoint's deliberate O(1)-only contract (see
// ResultStore.GetStatus).
func (s *RedisStore) Find(ctx context.Context, language, jobID string) (presentMain, presentRetry, presentDLQ bool, attempts domain.Attempts, found bool, err error) {
	keys := []struct {
		key  string
		kind domain.QueueKind
	}{
		{queueKey(language), domain.QueueMain},
		{retryQueueKey(language), domain.QueueRetry},
		{dlqKey(language), domain.QueueDLQ},
	}

	for _, k := range keys {
		entries, lrangeErr := s.client.LRange(ctx, k.key, 0, -1).Result()
		if lrangeErr != nil {
			return false, false, false, domain.Attempts{}, false, fmt.Errorf("op=store.Find: lrange %s: %w", k.key, lrangeErr)
		}
		for _, entry := range entries {
			var rec jobRecord
			if jsonErr := json.Unmarshal([]byte(entry), &rec); jsonErr != nil {
				s.logger.Warn("op=store.Find: skipping malformed queue entry", "key", k.key, "error", jsonErr)
				continue
			}
			if rec.ID != jobID {
				continue
			}
			found = true
			attempts = domain.Attempts{
				Count:             rec.Metadata.Count,
				MaxAttempts:       rec.Metadata.MaxAttempts,
				LastFailureReason: rec.Metadata.LastFailureReason,
			}
			switch k.kind {
			case domain.QueueMain:
				presentMain = true
			case domain.QueueRetry:
				presentRetry = true
			case domain.QueueDLQ:
				presentDLQ = true
			}
		}
	}
	return presentMain, presentRetry, presentDLQ, attempts, found, nil
}
