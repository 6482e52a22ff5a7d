package fabric

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dbusmcp/opctl/internal/protocol/dbus"
	"github.com/dbusmcp/opctl/pkg/models"
)

// AgentDialer opens a D-Bus connection used to reach a specific agent's
// org.dbusmcp.Agent object.
type AgentDialer func() (*dbus.Conn, error)

// AgentInvocationInput describes one agent surface exposed as a tool,
// per spec.md §4.2.
type AgentInvocationInput struct {
	AgentName   string
	Description string
	Operations  []string
	Destination string
}

type agentInvocationFactory struct {
	input AgentInvocationInput
	def   models.ToolDefinition
	dial  AgentDialer
}

// NewAgentInvocationFactory builds a ToolFactory whose produced tool
// dispatches {operation, path?, args?} to the named agent's D-Bus
// surface (internal/protocol/dbus.AgentClient).
func NewAgentInvocationFactory(input AgentInvocationInput, dial AgentDialer) models.ToolFactory {
	schema := agentInvocationSchema(input.Operations)
	return &agentInvocationFactory{
		input: input,
		def: models.ToolDefinition{
			Name:        "agent_" + input.AgentName,
			Description: input.Description,
			InputSchema: schema,
			Category:    models.CategoryAgent,
			Namespace:   "agent." + input.AgentName,
		},
		dial: dial,
	}
}

func (f *agentInvocationFactory) ToolName() string                  { return f.def.Name }
func (f *agentInvocationFactory) Definition() models.ToolDefinition { return f.def }
func (f *agentInvocationFactory) Critical() bool                    { return false }

func (f *agentInvocationFactory) Create() (models.Tool, error) {
	return &agentInvocationTool{def: f.def, input: f.input, dial: f.dial}, nil
}

func agentInvocationSchema(operations []string) json.RawMessage {
	opProp := map[string]any{"type": "string"}
	if len(operations) > 0 {
		enum := make([]any, len(operations))
		for i, op := range operations {
			enum[i] = op
		}
		opProp["enum"] = enum
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": opProp,
			"path":      map[string]any{"type": "string"},
			"args":      map[string]any{"type": "object"},
		},
		"required":             []string{"operation"},
		"additionalProperties": false,
	}
	b, _ := json.Marshal(schema)
	return b
}

type agentInvocationTool struct {
	def   models.ToolDefinition
	input AgentInvocationInput
	dial  AgentDialer
}

func (t *agentInvocationTool) Name() string                 { return t.def.Name }
func (t *agentInvocationTool) Description() string          { return t.def.Description }
func (t *agentInvocationTool) InputSchema() json.RawMessage { return t.def.InputSchema }
func (t *agentInvocationTool) Category() models.ToolCategory { return t.def.Category }
func (t *agentInvocationTool) Namespace() string             { return t.def.Namespace }
func (t *agentInvocationTool) Tags() []string                { return t.def.Tags }

type agentTaskArgs struct {
	Operation string          `json:"operation"`
	Path      string          `json:"path,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

func (t *agentInvocationTool) Execute(ctx models.ExecContext, args json.RawMessage) (json.RawMessage, error) {
	var task agentTaskArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &task); err != nil {
			return nil, newToolError(CodeSchemaViolation, t.Name(), err)
		}
	}
	if len(t.input.Operations) > 0 && !containsString(t.input.Operations, task.Operation) {
		return nil, newToolError(CodeSchemaViolation, t.Name(),
			fmt.Errorf("operation %q is not one of %v", task.Operation, t.input.Operations))
	}

	conn, err := t.dial()
	if err != nil {
		return nil, newToolError(CodeExecutionFailed, t.Name(), err)
	}
	defer conn.Close()

	client := dbus.NewAgentClient(conn, t.input.AgentName, t.input.Destination)

	result, err := client.RunOperation(context.Background(), task.Operation, task.Path, string(task.Args))
	if err != nil {
		return nil, newToolError(CodeExecutionFailed, t.Name(), err)
	}
	return json.RawMessage(result), nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
