package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/pkg/models"
)

// Terminal response tool names, per spec.md §4.4: a call to one of these
// three ends the orchestrator's turn loop and contributes its message to
// the turn's response buffer.
const (
	ToolRespondToUser       = "respond_to_user"
	ToolCannotPerform       = "cannot_perform"
	ToolRequestClarification = "request_clarification"
)

// TerminalResponseTools lists the names IsTerminalResponseTool matches.
var TerminalResponseTools = []string{ToolRespondToUser, ToolCannotPerform, ToolRequestClarification}

// IsTerminalResponseTool reports whether name is one of the three
// terminal response tools.
func IsTerminalResponseTool(name string) bool {
	for _, t := range TerminalResponseTools {
		if t == name {
			return true
		}
	}
	return false
}

// terminalTool implements a single terminal response tool: it takes a
// message and echoes it back as {"message": ...} for the orchestrator to
// collect. It performs no side effects of its own — the orchestrator
// decides what ending a turn on this tool means.
type terminalTool struct {
	name        string
	description string
}

var terminalResponseToolSchema = json.RawMessage(`{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`)

func (t *terminalTool) Name() string                  { return t.name }
func (t *terminalTool) Description() string           { return t.description }
func (t *terminalTool) InputSchema() json.RawMessage  { return terminalResponseToolSchema }
func (t *terminalTool) Category() models.ToolCategory { return models.CategoryMeta }
func (t *terminalTool) Namespace() string             { return "response" }
func (t *terminalTool) Tags() []string                { return []string{"terminal"} }

func (t *terminalTool) Execute(ctx models.ExecContext, args json.RawMessage) (json.RawMessage, error) {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	if parsed.Message == "" {
		return nil, fmt.Errorf("%s: message is required", t.name)
	}
	out, _ := json.Marshal(map[string]string{"message": parsed.Message})
	return out, nil
}

// RegisterTerminalTools registers the three terminal response tools into
// registry so the compact-mode execute_tool meta-tool can resolve them.
func RegisterTerminalTools(registry *fabric.Registry) error {
	tools := []*terminalTool{
		{name: ToolRespondToUser, description: "Deliver a final answer to the user for this turn."},
		{name: ToolCannotPerform, description: "Report that the requested operation cannot be performed, with a reason."},
		{name: ToolRequestClarification, description: "Ask the user a clarifying question before proceeding."},
	}
	for _, t := range tools {
		if err := registry.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}

// terminalMessage extracts the "message" field from a terminal tool's
// result JSON.
func terminalMessage(result json.RawMessage) (string, error) {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", err
	}
	return parsed.Message, nil
}
