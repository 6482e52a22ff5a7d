package models

import "time"

// ExecutionStatus is the lifecycle state of an Execution Record.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusTimeout   ExecutionStatus = "timeout"
)

// InitiatorKind distinguishes who triggered an execution, supplementing the
// distilled spec's ExecutionRecord.initiated_by with the original's
// InitiatorKind (original_source/crates/op-core).
type InitiatorKind string

const (
	InitiatedByLLM       InitiatorKind = "llm"
	InitiatedByHuman     InitiatorKind = "human"
	InitiatedByScheduled InitiatorKind = "scheduled"
)

// ExecutionRecord is the tracker's durable description of one tool invocation.
//
// Invariant: Status == StatusCompleted implies Success == true;
// Status in {StatusFailed, StatusTimeout} implies Success == false and Error != "";
// EndedAt, when set, is never before StartedAt.
type ExecutionRecord struct {
	ID            string          `json:"id"`
	TraceID       string          `json:"trace_id"`
	ToolName      string          `json:"tool_name"`
	InputSummary  string          `json:"input_summary,omitempty"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       time.Time       `json:"ended_at,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
	OutputSummary string          `json:"output_summary,omitempty"` // capped at 1000 chars
	Error         string          `json:"error,omitempty"`
	Success       bool            `json:"success"`
	InitiatedBy   InitiatorKind   `json:"initiated_by,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

const maxOutputSummaryChars = 1000

// CapOutputSummary truncates s to the Execution Record's output_summary
// length limit.
func CapOutputSummary(s string) string {
	r := []rune(s)
	if len(r) <= maxOutputSummaryChars {
		return s
	}
	return string(r[:maxOutputSummaryChars])
}

// TrackerStats are monotonic aggregates maintained by the Execution Tracker.
type TrackerStats struct {
	TotalExecutions  int64            `json:"total_executions"`
	Successes        int64            `json:"successes"`
	Failures         int64            `json:"failures"`
	TotalDurationMS  int64            `json:"total_duration_ms"`
	PerToolExecs     map[string]int64 `json:"per_tool_execs"`
	PerToolFailures  map[string]int64 `json:"per_tool_failures"`
}

// AverageDurationMS derives the mean execution duration from the aggregates.
func (s TrackerStats) AverageDurationMS() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.TotalDurationMS) / float64(s.TotalExecutions)
}

// SuccessRate derives the fraction of completed executions that succeeded.
func (s TrackerStats) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.TotalExecutions)
}
