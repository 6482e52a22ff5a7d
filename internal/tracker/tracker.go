// Package tracker implements the Execution Tracker: a ring-buffered log
// of ExecutionRecords plus monotonic aggregate stats, grounded on
// internal/shell/process_registry.go's bounded-map + TTL-sweep shape
// (there applied to shell sessions, here to tool executions).
package tracker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbusmcp/opctl/internal/format"
	"github.com/dbusmcp/opctl/pkg/models"
)

// DefaultCapacity bounds the ring buffer's retained record count.
const DefaultCapacity = 10000

// Tracker records the lifecycle of tool/agent executions in a
// fixed-capacity ring buffer, with O(1) lookup by execution id and
// monotonically-updated aggregate stats that survive eviction.
type Tracker struct {
	mu       sync.RWMutex
	records  []*models.ExecutionRecord // ring buffer, nil slots = empty
	index    map[string]int            // execution id -> slot
	head     int                       // next slot to write
	size     int                       // number of occupied slots
	capacity int

	totalExecutions atomic.Int64
	successes       atomic.Int64
	failures        atomic.Int64
	totalDurationMS atomic.Int64

	perToolMu       sync.Mutex
	perToolExecs    map[string]int64
	perToolFailures map[string]int64
}

// New creates a Tracker with the given ring-buffer capacity. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		records:         make([]*models.ExecutionRecord, capacity),
		index:           make(map[string]int, capacity),
		capacity:        capacity,
		perToolExecs:    make(map[string]int64),
		perToolFailures: make(map[string]int64),
	}
}

// Begin marks record Running, stamps StartedAt when it is zero, and
// stores it in the next ring slot, evicting the oldest record when the
// buffer is full. The caller keeps the pointer and must call Finish to
// close it out.
func (t *Tracker) Begin(record *models.ExecutionRecord) {
	if record == nil {
		return
	}
	record.Status = models.StatusRunning
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.head
	if evicted := t.records[slot]; evicted != nil {
		delete(t.index, evicted.ID)
	}
	t.records[slot] = record
	t.index[record.ID] = slot
	t.head = (t.head + 1) % t.capacity
	if t.size < t.capacity {
		t.size++
	}

	t.totalExecutions.Add(1)
}

// Finish closes out an execution: sets status, success flag, end time,
// output summary (capped via models.CapOutputSummary), and updates aggregate
// stats. Returns false if executionID is not currently tracked (already
// evicted, or never begun).
func (t *Tracker) Finish(executionID string, status models.ExecutionStatus, outputSummary string, execErr string) bool {
	t.mu.Lock()
	slot, ok := t.index[executionID]
	var record *models.ExecutionRecord
	if ok {
		record = t.records[slot]
	}
	t.mu.Unlock()
	if !ok || record == nil {
		return false
	}

	now := time.Now()
	record.Status = status
	record.Success = status == models.StatusCompleted
	record.EndedAt = now
	record.OutputSummary = models.CapOutputSummary(outputSummary)
	record.Error = execErr

	duration := now.Sub(record.StartedAt)
	t.totalDurationMS.Add(duration.Milliseconds())

	if status == models.StatusCompleted {
		t.successes.Add(1)
	} else {
		t.failures.Add(1)
	}

	t.perToolMu.Lock()
	t.perToolExecs[record.ToolName]++
	if status != models.StatusCompleted {
		t.perToolFailures[record.ToolName]++
	}
	t.perToolMu.Unlock()

	return true
}

// Get returns a copy-by-pointer of the record for executionID, if it is
// still retained in the ring buffer.
func (t *Tracker) Get(executionID string) (*models.ExecutionRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot, ok := t.index[executionID]
	if !ok {
		return nil, false
	}
	return t.records[slot], true
}

// Recent returns up to n most-recently-begun records, newest first.
func (t *Tracker) Recent(n int) []*models.ExecutionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 || n > t.size {
		n = t.size
	}
	out := make([]*models.ExecutionRecord, 0, n)
	idx := (t.head - 1 + t.capacity) % t.capacity
	for i := 0; i < n; i++ {
		if rec := t.records[idx]; rec != nil {
			out = append(out, rec)
		}
		idx = (idx - 1 + t.capacity) % t.capacity
	}
	return out
}

// Stats returns a snapshot of the monotonic aggregate counters. These
// never shrink on eviction — they describe all-time activity, not
// merely what the ring buffer currently retains.
func (t *Tracker) Stats() models.TrackerStats {
	t.perToolMu.Lock()
	perToolExecs := make(map[string]int64, len(t.perToolExecs))
	for k, v := range t.perToolExecs {
		perToolExecs[k] = v
	}
	perToolFailures := make(map[string]int64, len(t.perToolFailures))
	for k, v := range t.perToolFailures {
		perToolFailures[k] = v
	}
	t.perToolMu.Unlock()

	return models.TrackerStats{
		TotalExecutions: t.totalExecutions.Load(),
		Successes:       t.successes.Load(),
		Failures:        t.failures.Load(),
		TotalDurationMS: t.totalDurationMS.Load(),
		PerToolExecs:    perToolExecs,
		PerToolFailures: perToolFailures,
	}
}

// Len returns the number of records currently retained in the ring
// buffer (bounded by capacity, unlike TotalExecutions).
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Summary renders the tracker's aggregate stats as a one-line,
// human-readable string for CLI status output and audit-adjacent
// logging — e.g. "42 executions (40 ok, 2 failed), 1.3s total".
func (t *Tracker) Summary() string {
	stats := t.Stats()
	return fmt.Sprintf("%d executions (%d ok, %d failed), %s total",
		stats.TotalExecutions, stats.Successes, stats.Failures,
		format.FormatDurationMsInt(stats.TotalDurationMS))
}
