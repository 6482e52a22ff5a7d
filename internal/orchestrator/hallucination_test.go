package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectForbiddenCommandsMatchesDenyList(t *testing.T) {
	found := DetectForbiddenCommands("Run `ovs-vsctl add-br br0` to create the bridge.")
	require.Len(t, found, 1)
	require.Equal(t, "ovs-vsctl", found[0].Token)
}

func TestDetectForbiddenCommandsCaseInsensitive(t *testing.T) {
	found := DetectForbiddenCommands("Try SYSTEMCTL restart networking")
	require.Len(t, found, 1)
	require.Equal(t, "systemctl ", found[0].Token)
}

func TestDetectForbiddenCommandsNoMatch(t *testing.T) {
	found := DetectForbiddenCommands("The bridge was created via the D-Bus agent.")
	require.Empty(t, found)
}

func TestParseInlineToolCallsExtractsBlock(t *testing.T) {
	text := `Sure, let me do that.
<tool_call>{"name": "list_tools", "arguments": {}}</tool_call>
Done.`
	calls := ParseInlineToolCalls(text)
	require.Len(t, calls, 1)
	require.Equal(t, "list_tools", calls[0].Name)
}

func TestParseInlineToolCallsSkipsMalformedBlock(t *testing.T) {
	text := `<tool_call>{not valid json}</tool_call>`
	calls := ParseInlineToolCalls(text)
	require.Empty(t, calls)
}

func TestDetectUnexecutedClaimsFlagsUnexecutedTool(t *testing.T) {
	text := "I've run network-bridge_apply to create the bridge for you."
	claims := DetectUnexecutedClaims(text, []string{"network-bridge_apply"}, nil)
	require.Equal(t, []string{"network-bridge_apply"}, claims)
}

func TestDetectUnexecutedClaimsIgnoresExecutedTool(t *testing.T) {
	text := "I've run network-bridge_apply to create the bridge for you."
	claims := DetectUnexecutedClaims(text, []string{"network-bridge_apply"}, []string{"network-bridge_apply"})
	require.Empty(t, claims)
}
