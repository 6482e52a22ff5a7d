// Package orchestrator implements the Forced-Tool Orchestrator: the
// per-turn state machine that drives a user message through one or more
// model round-trips, forcing tool use on every turn but the last and
// verifying each turn's reply against a hallucination check. Grounded on
// internal/agent/loop.go's AgenticLoop.Run state machine, generalized so
// the tool surface offered to the model is always the four compact-mode
// meta-tools rather than the full registry.
package orchestrator

import (
	"context"

	"github.com/dbusmcp/opctl/pkg/models"
)

// ToolChoice mirrors the three tool-use modes a chat completion request
// can request of the model.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// CompletionRequest is one model round-trip request. Unlike
// internal/agent's CompletionRequest, it carries ToolChoice explicitly —
// the orchestrator needs per-turn control over forced tool use that the
// chat runtime's request shape does not expose.
type CompletionRequest struct {
	Model      string
	System     string
	Messages   []models.CompletionMessage
	Tools      []models.ToolDefinition
	ToolChoice ToolChoice
	MaxTokens  int
}

// CompletionResponse is one model round-trip reply. Text and ToolCalls
// are not mutually exclusive in principle, but a well-behaved provider
// under ToolChoiceRequired should populate only ToolCalls.
type CompletionResponse struct {
	Text      string
	ToolCalls []models.ToolCall
}

// LLMClient is the orchestrator's narrow view of an LLM backend: a
// single blocking round-trip rather than internal/agent.LLMProvider's
// streaming channel, since the orchestrator needs the complete reply
// before it can run its per-turn forbidden-command scan and
// hallucination check.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
