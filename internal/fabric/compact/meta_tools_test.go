package compact

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/pkg/models"
)

type stubTool struct {
	name string
	cat  models.ToolCategory
}

func (s *stubTool) Name() string                 { return s.name }
func (s *stubTool) Description() string          { return "does " + s.name }
func (s *stubTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Category() models.ToolCategory { return s.cat }
func (s *stubTool) Namespace() string             { return "test" }
func (s *stubTool) Tags() []string                { return nil }
func (s *stubTool) Execute(ctx models.ExecContext, args json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func newTestRegistry(t *testing.T) *fabric.Registry {
	t.Helper()
	r := fabric.NewRegistry()
	require.NoError(t, r.RegisterTool(&stubTool{name: "network-bridge-create", cat: models.CategoryProtocol}))
	require.NoError(t, r.RegisterTool(&stubTool{name: "network-bridge-delete", cat: models.CategoryProtocol}))
	require.NoError(t, r.RegisterTool(&stubTool{name: "agent-ping", cat: models.CategoryAgent}))
	return r
}

func TestListToolsPaginates(t *testing.T) {
	m := New(newTestRegistry(t))
	result := m.ListTools(ListToolsArgs{Limit: 2})
	require.Len(t, result.Tools, 2)
	require.Equal(t, 3, result.Total)
}

func TestListToolsFiltersByCategorySubstring(t *testing.T) {
	m := New(newTestRegistry(t))
	result := m.ListTools(ListToolsArgs{Category: "protocol"})
	require.Equal(t, 2, result.Total)
}

func TestSearchToolsSubstringMatch(t *testing.T) {
	m := New(newTestRegistry(t))
	results := m.SearchTools(SearchToolsArgs{Query: "bridge"})
	require.Len(t, results, 2)
}

func TestGetToolSchemaFoundAndNotFound(t *testing.T) {
	m := New(newTestRegistry(t))
	found := m.GetToolSchema(GetToolSchemaArgs{ToolName: "agent-ping"})
	require.True(t, found.Found)

	notFound := m.GetToolSchema(GetToolSchemaArgs{ToolName: "nonexistent"})
	require.False(t, notFound.Found)
}

func TestExecuteToolDispatchesThroughRegistry(t *testing.T) {
	m := New(newTestRegistry(t))
	out, err := m.ExecuteTool(models.ExecContext{}, ExecuteToolArgs{ToolName: "agent-ping"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(out))
}

func TestExecuteToolUnknownName(t *testing.T) {
	m := New(newTestRegistry(t))
	_, err := m.ExecuteTool(models.ExecContext{}, ExecuteToolArgs{ToolName: "missing"})
	require.Error(t, err)
}

func TestDefinitionsReturnsExactlyFour(t *testing.T) {
	m := New(newTestRegistry(t))
	require.Len(t, m.Definitions(), 4)
}
