package fabric

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dbusmcp/opctl/internal/protocol/dbus"
	"github.com/dbusmcp/opctl/pkg/models"
)

// Bus selects which D-Bus bus a Protocol Method Factory's tool dials.
type Bus string

const (
	BusSystem  Bus = "system"
	BusSession Bus = "session"
)

// Dialer opens a D-Bus connection for the selected bus. Factored out so
// tests can substitute a fake without a real system bus socket.
type Dialer func(bus Bus) (*dbus.Conn, error)

// ProtocolMethodInput describes one D-Bus method a Protocol Method
// Factory exposes as a tool, per spec.md §4.2.
type ProtocolMethodInput struct {
	ToolName      string
	Description   string
	Service       string
	Path          string
	Interface     string
	Method        string
	InSignature   string
	OutSignature  string
	Bus           Bus
}

// protocolMethodFactory adapts a single D-Bus method call into a Tool,
// generating its JSON Schema once from the wire signature at
// construction time rather than on every Definition() call.
type protocolMethodFactory struct {
	input  ProtocolMethodInput
	def    models.ToolDefinition
	dial   Dialer
}

// NewProtocolMethodFactory builds a ToolFactory for a single D-Bus
// method, mapping its input signature to a JSON Schema via
// SignatureToJSONSchema.
func NewProtocolMethodFactory(input ProtocolMethodInput, dial Dialer) (models.ToolFactory, error) {
	schema, err := SignatureToJSONSchema(input.InSignature)
	if err != nil {
		return nil, fmt.Errorf("fabric: building schema for %s: %w", input.ToolName, err)
	}
	if input.Bus == "" {
		input.Bus = BusSystem
	}
	return &protocolMethodFactory{
		input: input,
		def: models.ToolDefinition{
			Name:        input.ToolName,
			Description: input.Description,
			InputSchema: schema,
			Category:    models.CategoryProtocol,
			Namespace:   input.Service,
		},
		dial: dial,
	}, nil
}

func (f *protocolMethodFactory) ToolName() string                  { return f.input.ToolName }
func (f *protocolMethodFactory) Definition() models.ToolDefinition { return f.def }
func (f *protocolMethodFactory) Critical() bool                    { return false }

func (f *protocolMethodFactory) Create() (models.Tool, error) {
	return &protocolMethodTool{def: f.def, input: f.input, dial: f.dial}, nil
}

type protocolMethodTool struct {
	def   models.ToolDefinition
	input ProtocolMethodInput
	dial  Dialer
}

func (t *protocolMethodTool) Name() string                 { return t.def.Name }
func (t *protocolMethodTool) Description() string          { return t.def.Description }
func (t *protocolMethodTool) InputSchema() json.RawMessage { return t.def.InputSchema }
func (t *protocolMethodTool) Category() models.ToolCategory { return t.def.Category }
func (t *protocolMethodTool) Namespace() string             { return t.def.Namespace }
func (t *protocolMethodTool) Tags() []string                { return t.def.Tags }

// Execute packs args["arg0".."argN"] positionally per the input
// signature, issues the call, and unpacks the reply by the inverse
// signature map into JSON.
func (t *protocolMethodTool) Execute(ctx models.ExecContext, args json.RawMessage) (json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if len(args) > 0 {
		if err := json.Unmarshal(args, &raw); err != nil {
			return nil, newToolError(CodeSchemaViolation, t.Name(), err)
		}
	}

	positional, err := positionalArgs(t.input.InSignature, raw)
	if err != nil {
		return nil, newToolError(CodeSchemaViolation, t.Name(), err)
	}

	conn, err := t.dial(t.input.Bus)
	if err != nil {
		return nil, newToolError(CodeExecutionFailed, t.Name(), err)
	}
	defer conn.Close()

	reply, err := conn.CallMethod(context.Background(), dbus.CallSpec{
		Destination: t.input.Service,
		Path:        t.input.Path,
		Interface:   t.input.Interface,
		Member:      t.input.Method,
		Signature:   t.input.InSignature,
		Args:        positional,
	})
	if err != nil {
		return nil, newToolError(CodeExecutionFailed, t.Name(), err)
	}

	return json.Marshal(reply.Args)
}

// SignatureToJSONSchema maps a D-Bus-style wire signature to a JSON
// Schema object per spec.md §4.2's fixed mapping: string -> string,
// signed integers -> integer, unsigned -> integer with minimum 0,
// boolean -> boolean, floating -> number, object path -> string. This
// module's D-Bus client (internal/protocol/dbus) only marshals scalar
// type codes — container constructors (arrays, structs, variants,
// dicts) are out of scope end to end, so a signature containing one is
// rejected here rather than silently producing a schema the wire codec
// could never satisfy.
func SignatureToJSONSchema(signature string) (json.RawMessage, error) {
	properties := map[string]any{}
	required := []string{}

	for i := 0; i < len(signature); i++ {
		code := signature[i]
		propName := fmt.Sprintf("arg%d", i)
		prop, err := scalarSchema(code)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", signature, err)
		}
		properties[propName] = prop
		required = append(required, propName)
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}

	// Validate the schema compiles under the same library the rest of
	// the module uses, catching a malformed signature early rather than
	// at first tool call.
	if _, err := jsonschema.CompileString(fmt.Sprintf("protocol-method-%p", &signature), string(b)); err != nil {
		return nil, fmt.Errorf("generated schema does not compile: %w", err)
	}
	return json.RawMessage(b), nil
}

func scalarSchema(code byte) (map[string]any, error) {
	switch code {
	case 's', 'o', 'g':
		return map[string]any{"type": "string"}, nil
	case 'n', 'i', 'x':
		return map[string]any{"type": "integer"}, nil
	case 'q', 'u', 't', 'y':
		return map[string]any{"type": "integer", "minimum": 0}, nil
	case 'b':
		return map[string]any{"type": "boolean"}, nil
	case 'd':
		return map[string]any{"type": "number"}, nil
	default:
		return nil, fmt.Errorf("not a scalar code: %c", code)
	}
}

// positionalArgs extracts arg0..argN from the decoded JSON object in
// signature order, coercing JSON values to the concrete Go types the
// D-Bus marshaler expects for each scalar code.
func positionalArgs(signature string, raw map[string]json.RawMessage) ([]any, error) {
	out := make([]any, 0, len(signature))
	for i := 0; i < len(signature); i++ {
		key := fmt.Sprintf("arg%d", i)
		val, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("missing argument %s", key)
		}
		coerced, err := coerceArg(signature[i], val)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", key, err)
		}
		out = append(out, coerced)
	}
	return out, nil
}

func coerceArg(code byte, raw json.RawMessage) (any, error) {
	switch code {
	case 's', 'o', 'g':
		var v string
		return v, json.Unmarshal(raw, &v)
	case 'b':
		var v bool
		return v, json.Unmarshal(raw, &v)
	case 'n', 'i', 'x', 'q', 'u', 't', 'y':
		var v int64
		return v, json.Unmarshal(raw, &v)
	case 'd':
		var v float64
		return v, json.Unmarshal(raw, &v)
	default:
		var v any
		return v, json.Unmarshal(raw, &v)
	}
}
