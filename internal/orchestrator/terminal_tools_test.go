package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/pkg/models"
)

func TestRegisterTerminalToolsRegistersAllThree(t *testing.T) {
	r := fabric.NewRegistry()
	require.NoError(t, RegisterTerminalTools(r))

	for _, name := range TerminalResponseTools {
		_, ok := r.GetDefinition(name)
		require.True(t, ok, "expected %s to be registered", name)
	}
}

func TestTerminalToolExecuteEchoesMessage(t *testing.T) {
	r := fabric.NewRegistry()
	require.NoError(t, RegisterTerminalTools(r))

	out, err := r.Execute(models.ExecContext{}, ToolRespondToUser, json.RawMessage(`{"message": "bridge created"}`))
	require.NoError(t, err)

	msg, err := terminalMessage(out)
	require.NoError(t, err)
	require.Equal(t, "bridge created", msg)
}

func TestTerminalToolExecuteRequiresMessage(t *testing.T) {
	r := fabric.NewRegistry()
	require.NoError(t, RegisterTerminalTools(r))

	_, err := r.Execute(models.ExecContext{}, ToolCannotPerform, json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestIsTerminalResponseTool(t *testing.T) {
	require.True(t, IsTerminalResponseTool(ToolRespondToUser))
	require.True(t, IsTerminalResponseTool(ToolCannotPerform))
	require.True(t, IsTerminalResponseTool(ToolRequestClarification))
	require.False(t, IsTerminalResponseTool("network-bridge_apply"))
}
