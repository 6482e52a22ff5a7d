package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/orchestrator"
)

func newTestServer(t *testing.T, mode Mode) (*Server, *fabric.Registry) {
	t.Helper()
	r := fabric.NewRegistry()
	require.NoError(t, orchestrator.RegisterTerminalTools(r))
	return New(r, mode, nil), r
}

func runLine(t *testing.T, s *Server, line string) map[string]any {
	t.Helper()
	var out bytes.Buffer
	err := s.ServeStdio(context.Background(), strings.NewReader(line+"\n"), &out)
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	return resp
}

func TestInitializeReturnsServerInfo(t *testing.T) {
	s, _ := newTestServer(t, ModeCompact)
	resp := runLine(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	result := resp["result"].(map[string]any)
	require.Equal(t, "opctl", result["serverInfo"].(map[string]any)["name"])
}

func TestPingReturnsEmptyResult(t *testing.T) {
	s, _ := newTestServer(t, ModeCompact)
	resp := runLine(t, s, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Contains(t, resp, "result")
	require.NotContains(t, resp, "error")
}

func TestToolsListCompactModeReturnsExactlyFourMetaTools(t *testing.T) {
	s, _ := newTestServer(t, ModeCompact)
	resp := runLine(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	tools := resp["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 4)
}

func TestToolsListFullModeListsRegistry(t *testing.T) {
	s, _ := newTestServer(t, ModeFull)
	resp := runLine(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`)
	tools := resp["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 3) // the three registered terminal response tools
}

func TestToolsCallCompactModeDispatchesExecuteTool(t *testing.T) {
	s, _ := newTestServer(t, ModeCompact)
	line := `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"execute_tool","arguments":{"tool_name":"respond_to_user","arguments":{"message":"ok"}}}}`
	resp := runLine(t, s, line)
	require.Contains(t, resp, "result")
	require.NotContains(t, resp, "error")
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, _ := newTestServer(t, ModeCompact)
	resp := runLine(t, s, `{"jsonrpc":"2.0","id":6,"method":"does/not-exist"}`)
	errObj := resp["error"].(map[string]any)
	require.Equal(t, float64(codeMethodNotFound), errObj["code"])
}

func TestInitializedNotificationProducesNoResponse(t *testing.T) {
	s, _ := newTestServer(t, ModeCompact)
	var out bytes.Buffer
	err := s.ServeStdio(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","method":"initialized"}`+"\n"), &out)
	require.NoError(t, err)
	require.Empty(t, out.String())
	require.True(t, s.initialized.Load())
}
