package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/pkg/models"
)

func TestBeginAndFinish(t *testing.T) {
	tr := New(4)
	rec := &models.ExecutionRecord{ID: "exec-1", ToolName: "ping"}
	tr.Begin(rec)

	got, ok := tr.Get("exec-1")
	require.True(t, ok)
	require.Equal(t, models.StatusRunning, got.Status)

	ok = tr.Finish("exec-1", models.StatusCompleted, "pong", "")
	require.True(t, ok)

	got, _ = tr.Get("exec-1")
	require.Equal(t, models.StatusCompleted, got.Status)
	require.False(t, got.EndedAt.IsZero())

	stats := tr.Stats()
	require.Equal(t, int64(1), stats.TotalExecutions)
	require.Equal(t, int64(1), stats.Successes)
}

func TestFinishUnknownExecution(t *testing.T) {
	tr := New(4)
	ok := tr.Finish("nonexistent", models.StatusCompleted, "", "")
	require.False(t, ok)
}

func TestRingBufferEviction(t *testing.T) {
	tr := New(2)
	tr.Begin(&models.ExecutionRecord{ID: "a", ToolName: "x"})
	tr.Begin(&models.ExecutionRecord{ID: "b", ToolName: "x"})
	tr.Begin(&models.ExecutionRecord{ID: "c", ToolName: "x"})

	_, ok := tr.Get("a")
	require.False(t, ok, "oldest record should have been evicted")

	_, ok = tr.Get("c")
	require.True(t, ok)

	require.Equal(t, 2, tr.Len())
	require.Equal(t, int64(3), tr.Stats().TotalExecutions, "aggregate stats survive eviction")
}

func TestRecentOrdering(t *testing.T) {
	tr := New(4)
	tr.Begin(&models.ExecutionRecord{ID: "1", ToolName: "x", StartedAt: time.Now()})
	tr.Begin(&models.ExecutionRecord{ID: "2", ToolName: "x", StartedAt: time.Now()})

	recent := tr.Recent(2)
	require.Len(t, recent, 2)
	require.Equal(t, "2", recent[0].ID)
	require.Equal(t, "1", recent[1].ID)
}
