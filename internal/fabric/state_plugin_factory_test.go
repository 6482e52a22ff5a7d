package fabric

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/pkg/models"
)

type stubPluginRuntime struct {
	queried, diffed, applied int
	lastDesired              json.RawMessage
}

func (r *stubPluginRuntime) Query(ctx models.ExecContext, name string) (json.RawMessage, error) {
	r.queried++
	return json.RawMessage(`{"state":"ok"}`), nil
}

func (r *stubPluginRuntime) Diff(ctx models.ExecContext, name string, desired json.RawMessage) (json.RawMessage, error) {
	r.diffed++
	r.lastDesired = desired
	return json.RawMessage(`{"changes":[]}`), nil
}

func (r *stubPluginRuntime) Apply(ctx models.ExecContext, name string, desired json.RawMessage) (json.RawMessage, error) {
	r.applied++
	r.lastDesired = desired
	return json.RawMessage(`{"applied":true}`), nil
}

func TestStatePluginFactoriesGenerateThreeTools(t *testing.T) {
	rt := &stubPluginRuntime{}
	factories := NewStatePluginFactories(StatePluginInput{
		PluginName:  "network-bridge",
		Description: "manage bridge state",
		Runtime:     rt,
	})
	require.Len(t, factories, 3)

	names := map[string]bool{}
	for _, f := range factories {
		names[f.ToolName()] = true
	}
	require.True(t, names["network-bridge_query"])
	require.True(t, names["network-bridge_diff"])
	require.True(t, names["network-bridge_apply"])
}

func TestStatePluginToolDispatchesToRuntime(t *testing.T) {
	rt := &stubPluginRuntime{}
	factories := NewStatePluginFactories(StatePluginInput{PluginName: "fw", Runtime: rt})

	r := NewRegistry()
	for _, f := range factories {
		require.NoError(t, r.RegisterFactory(f))
	}

	_, err := r.Execute(models.ExecContext{}, "fw_query", nil)
	require.NoError(t, err)
	require.Equal(t, 1, rt.queried)

	out, err := r.Execute(models.ExecContext{}, "fw_apply", json.RawMessage(`{"desired":{"rules":[]}}`))
	require.NoError(t, err)
	require.Equal(t, 1, rt.applied)
	require.JSONEq(t, `{"applied":true}`, string(out))
}

func TestStatePluginFactoryRequiresRuntime(t *testing.T) {
	factories := NewStatePluginFactories(StatePluginInput{PluginName: "fw"})
	_, err := factories[0].Create()
	require.Error(t, err)
}
