package fabric

import (
	"encoding/json"
	"fmt"

	"github.com/dbusmcp/opctl/pkg/models"
)

// PluginOperation identifies one of a State Plugin's three capability-
// bounded operations, per spec.md §4.2/§4.11's {get_state, diff, apply}
// interface.
type PluginOperation string

const (
	PluginQuery PluginOperation = "query"
	PluginDiff  PluginOperation = "diff"
	PluginApply PluginOperation = "apply"
)

// PluginRuntime is the capability-bounded surface a State Plugin Factory
// dispatches to. internal/plugins implements this per plugin.
type PluginRuntime interface {
	Query(ctx models.ExecContext, pluginName string) (json.RawMessage, error)
	Diff(ctx models.ExecContext, pluginName string, desired json.RawMessage) (json.RawMessage, error)
	Apply(ctx models.ExecContext, pluginName string, desired json.RawMessage) (json.RawMessage, error)
}

// StatePluginInput describes one plugin a State Plugin Factory generates
// tools for.
type StatePluginInput struct {
	PluginName   string
	Description  string
	Capabilities []string
	Runtime      PluginRuntime
}

// NewStatePluginFactories generates the three related factories
// (<name>_query, <name>_diff, <name>_apply) for a plugin, one per
// operation, each with a schema matching its operation contract —
// matching spec.md §4.2's "three related tools per plugin".
func NewStatePluginFactories(input StatePluginInput) []models.ToolFactory {
	return []models.ToolFactory{
		newStatePluginFactory(input, PluginQuery),
		newStatePluginFactory(input, PluginDiff),
		newStatePluginFactory(input, PluginApply),
	}
}

type statePluginFactory struct {
	input     StatePluginInput
	operation PluginOperation
	def       models.ToolDefinition
}

func newStatePluginFactory(input StatePluginInput, op PluginOperation) *statePluginFactory {
	return &statePluginFactory{
		input:     input,
		operation: op,
		def: models.ToolDefinition{
			Name:        fmt.Sprintf("%s_%s", input.PluginName, op),
			Description: fmt.Sprintf("%s (%s)", input.Description, op),
			InputSchema: statePluginSchema(op),
			Category:    models.CategoryPlugin,
			Namespace:   "plugin." + input.PluginName,
			Tags:        input.Capabilities,
		},
	}
}

func (f *statePluginFactory) ToolName() string                  { return f.def.Name }
func (f *statePluginFactory) Definition() models.ToolDefinition { return f.def }
func (f *statePluginFactory) Critical() bool                    { return false }

func (f *statePluginFactory) Create() (models.Tool, error) {
	if f.input.Runtime == nil {
		return nil, fmt.Errorf("fabric: plugin %s has no runtime bound", f.input.PluginName)
	}
	return &statePluginTool{def: f.def, input: f.input, operation: f.operation}, nil
}

// statePluginSchema matches each operation's contract: query takes no
// arguments, diff/apply take a "desired" state object.
func statePluginSchema(op PluginOperation) json.RawMessage {
	var schema map[string]any
	switch op {
	case PluginQuery:
		schema = map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		}
	default:
		schema = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"desired": map[string]any{"type": "object"},
			},
			"required":             []string{"desired"},
			"additionalProperties": false,
		}
	}
	b, _ := json.Marshal(schema)
	return b
}

type statePluginTool struct {
	def       models.ToolDefinition
	input     StatePluginInput
	operation PluginOperation
}

func (t *statePluginTool) Name() string                 { return t.def.Name }
func (t *statePluginTool) Description() string          { return t.def.Description }
func (t *statePluginTool) InputSchema() json.RawMessage { return t.def.InputSchema }
func (t *statePluginTool) Category() models.ToolCategory { return t.def.Category }
func (t *statePluginTool) Namespace() string             { return t.def.Namespace }
func (t *statePluginTool) Tags() []string                { return t.def.Tags }

type statePluginArgs struct {
	Desired json.RawMessage `json:"desired,omitempty"`
}

func (t *statePluginTool) Execute(ctx models.ExecContext, args json.RawMessage) (json.RawMessage, error) {
	var parsed statePluginArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, newToolError(CodeSchemaViolation, t.Name(), err)
		}
	}

	var (
		out json.RawMessage
		err error
	)
	switch t.operation {
	case PluginQuery:
		out, err = t.input.Runtime.Query(ctx, t.input.PluginName)
	case PluginDiff:
		out, err = t.input.Runtime.Diff(ctx, t.input.PluginName, parsed.Desired)
	case PluginApply:
		out, err = t.input.Runtime.Apply(ctx, t.input.PluginName, parsed.Desired)
	default:
		return nil, newToolError(CodeSchemaViolation, t.Name(), fmt.Errorf("unknown operation %q", t.operation))
	}
	if err != nil {
		return nil, newToolError(CodeExecutionFailed, t.Name(), err)
	}
	return out, nil
}
