package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimus-run/optimus/internal/domain"
)

func TestStatusFetchPending(t *testing.T) {
	svc := NewStatusService(newFakeResultStore())
	out, err := svc.Fetch(t.Context(), "unknown-or-queued")
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Nil(t, out.Result)
}

func TestStatusFetchTerminal(t *testing.T) {
	store := newFakeResultStore()
	result := domain.ExecutionResult{JobID: "job-1", OverallStatus: domain.OverallCompleted, Score: 25, MaxScore: 25}
	_ = store.PutResult(t.Context(), result, 0)

	svc := NewStatusService(store)
	out, err := svc.Fetch(t.Context(), "job-1")
	require.NoError(t, err)
	assert.False(t, out.Pending)
	require.NotNil(t, out.Result)
	assert.Equal(t, domain.OverallCompleted, out.Result.OverallStatus)
}
