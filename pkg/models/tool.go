package models

import "encoding/json"

// ToolCategory loosely groups tools for discovery and listing.
type ToolCategory string

const (
	CategoryProtocol      ToolCategory = "protocol"
	CategoryAgent         ToolCategory = "agent"
	CategoryPlugin        ToolCategory = "plugin"
	CategoryMeta          ToolCategory = "meta"
	CategoryOpenFlow      ToolCategory = "openflow"
	CategoryDiagnostics   ToolCategory = "diagnostics"
)

// ToolDefinition is an immutable registry record. Name is globally unique;
// Namespace partitions tools (e.g. "control-agent", "openflow", "mcp.<server>").
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Category    ToolCategory    `json:"category"`
	Tags        []string        `json:"tags,omitempty"`
	Namespace   string          `json:"namespace"`
}

// Tool is a materialized, callable instance of a ToolDefinition.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Category() ToolCategory
	Namespace() string
	Tags() []string
	Execute(ctx ExecContext, args json.RawMessage) (json.RawMessage, error)
}

// ExecContext carries the per-call context a Tool's Execute needs without
// letting the tool capture the registry that dispatches it (see DESIGN.md,
// "cyclic lifetimes" open question).
type ExecContext struct {
	TraceID     string
	SessionID   string
	Zone        AccessZone
	InitiatedBy string

	// WorkstackID and StepIndex identify this call's position within a
	// multi-step workstack for the Workstack/Cache Layer's step cache.
	// Empty/zero means "not part of a cacheable workstack" — the
	// Registry skips cache lookup entirely in that case.
	WorkstackID string
	StepIndex   int
}

// ToolFactory bundles a definition with a constructor. The Registry calls
// Create lazily, on first Execute, not at registration time.
type ToolFactory interface {
	ToolName() string
	Definition() ToolDefinition
	Create() (Tool, error)
	// Critical marks an instance as pinned — never evicted by the Registry's
	// LRU/idle-timeout eviction policy.
	Critical() bool
}
