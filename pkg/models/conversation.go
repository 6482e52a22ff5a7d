package models

import "encoding/json"

// MessageRole is the author type of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is a model-issued request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionMessage is one entry in Conversation State's ordered message
// sequence.
type CompletionMessage struct {
	Role       MessageRole     `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ForbiddenDetection records one instance of a deny-listed CLI token
// appearing in model output.
type ForbiddenDetection struct {
	Token   string `json:"token"`
	Snippet string `json:"snippet"`
}

// TurnBookkeeping accumulates per-turn facts the orchestrator needs for its
// hallucination check.
type TurnBookkeeping struct {
	ExecutedTools      []string             `json:"executed_tools"`
	ResponseChunks     []string             `json:"response_chunks"`
	ForbiddenDetections []ForbiddenDetection `json:"forbidden_detections"`
}

// ConversationState is the ordered message history plus turn bookkeeping
// for one session.
type ConversationState struct {
	SessionID string              `json:"session_id"`
	Messages  []CompletionMessage `json:"messages"`
	Turn      TurnBookkeeping     `json:"turn"`
}

// HallucinationIssueKind enumerates the critical issues a per-turn
// verification can raise.
type HallucinationIssueKind string

const (
	IssueRawTextOutput           HallucinationIssueKind = "raw_text_output"
	IssueForbiddenCommandSuggestion HallucinationIssueKind = "forbidden_command_suggestion"
	IssueUnexecutedClaim         HallucinationIssueKind = "unexecuted_claim"
)

// HallucinationIssue is one flagged inconsistency between model claims and
// actually-executed tools.
type HallucinationIssue struct {
	Kind    HallucinationIssueKind `json:"kind"`
	Detail  string                 `json:"detail"`
}

// HallucinationCheck is the per-turn verification result.
type HallucinationCheck struct {
	Verified          bool                  `json:"verified"`
	Issues            []HallucinationIssue  `json:"issues"`
	ExecutedTools     []string              `json:"executed_tools"`
	UnverifiedClaims  []string              `json:"unverified_claims"`
}

// HasCriticalIssue reports whether the check contains any critical issue —
// any issue at all is currently treated as critical per spec.md §4.4.
func (h HallucinationCheck) HasCriticalIssue() bool {
	return len(h.Issues) > 0
}
