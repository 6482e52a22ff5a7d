package fabric

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignatureToJSONSchemaScalarMapping(t *testing.T) {
	schema, err := SignatureToJSONSchema("sub")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(schema, &decoded))

	props := decoded["properties"].(map[string]any)
	require.Equal(t, "string", props["arg0"].(map[string]any)["type"])
	require.Equal(t, "integer", props["arg1"].(map[string]any)["type"])
	minimum, hasMin := props["arg1"].(map[string]any)["minimum"]
	require.True(t, hasMin)
	require.Equal(t, float64(0), minimum)
	require.Equal(t, "boolean", props["arg2"].(map[string]any)["type"])
}

func TestSignatureToJSONSchemaRejectsContainerTypes(t *testing.T) {
	_, err := SignatureToJSONSchema("sa{sv}")
	require.Error(t, err, "container constructors are out of scope for this scalar-only D-Bus client")
}

func TestPositionalArgsCoercion(t *testing.T) {
	raw := map[string]json.RawMessage{
		"arg0": json.RawMessage(`"hello"`),
		"arg1": json.RawMessage(`42`),
		"arg2": json.RawMessage(`true`),
	}
	args, err := positionalArgs("sub", raw)
	require.NoError(t, err)
	require.Equal(t, "hello", args[0])
	require.Equal(t, int64(42), args[1])
	require.Equal(t, true, args[2])
}
