package patterns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, threshold int64) *Tracker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PromotionThreshold = threshold
	tr, err := Open(context.Background(), ":memory:", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRecordSequenceBelowThreshold(t *testing.T) {
	tr := newTestTracker(t, 2)
	ctx := context.Background()

	suggestion, err := tr.RecordSequence(ctx, []string{"agent-a", "agent-b"}, 100)
	require.NoError(t, err)
	require.Nil(t, suggestion)
}

func TestRecordSequenceReachesThreshold(t *testing.T) {
	tr := newTestTracker(t, 2)
	ctx := context.Background()

	_, err := tr.RecordSequence(ctx, []string{"agent-a", "agent-b"}, 100)
	require.NoError(t, err)

	suggestion, err := tr.RecordSequence(ctx, []string{"agent-a", "agent-b"}, 150)
	require.NoError(t, err)
	require.NotNil(t, suggestion)
	require.Equal(t, int64(2), suggestion.Pattern.CallCount)
	require.Equal(t, "agent-a-to-agent-b", suggestion.SuggestedName)
}

func TestRecordSequenceTooShort(t *testing.T) {
	tr := newTestTracker(t, 1)
	suggestion, err := tr.RecordSequence(context.Background(), []string{"solo"}, 10)
	require.NoError(t, err)
	require.Nil(t, suggestion)
}

func TestPromotePattern(t *testing.T) {
	tr := newTestTracker(t, 1)
	ctx := context.Background()

	suggestion, err := tr.RecordSequence(ctx, []string{"a", "b", "c"}, 200)
	require.NoError(t, err)
	require.NotNil(t, suggestion)

	workstackID, err := tr.PromotePattern(ctx, suggestion.Pattern)
	require.NoError(t, err)
	require.Contains(t, workstackID, "WS-")

	candidates, err := tr.PromotionCandidates(ctx)
	require.NoError(t, err)
	require.Empty(t, candidates, "promoted pattern should no longer be a candidate")
}

func TestStats(t *testing.T) {
	tr := newTestTracker(t, 2)
	ctx := context.Background()

	_, err := tr.RecordSequence(ctx, []string{"x", "y"}, 50)
	require.NoError(t, err)

	counts, err := tr.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.TotalPatterns)
	require.Equal(t, int64(0), counts.PromotedCount)
}
