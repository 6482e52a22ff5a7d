package fabric

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/pkg/models"
)

type stubTool struct {
	name     string
	executed int
}

func (s *stubTool) Name() string                 { return s.name }
func (s *stubTool) Description() string          { return "stub tool " + s.name }
func (s *stubTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Category() models.ToolCategory { return models.CategoryDiagnostics }
func (s *stubTool) Namespace() string            { return "test" }
func (s *stubTool) Tags() []string                { return nil }
func (s *stubTool) Execute(ctx models.ExecContext, args json.RawMessage) (json.RawMessage, error) {
	s.executed++
	return json.RawMessage(`{"ok":true}`), nil
}

type stubFactory struct {
	name      string
	created   int
	critical  bool
	instance  *stubTool
}

func (f *stubFactory) ToolName() string { return f.name }
func (f *stubFactory) Definition() models.ToolDefinition {
	return models.ToolDefinition{Name: f.name, Description: "stub " + f.name, Category: models.CategoryDiagnostics}
}
func (f *stubFactory) Create() (models.Tool, error) {
	f.created++
	if f.instance == nil {
		f.instance = &stubTool{name: f.name}
	}
	return f.instance, nil
}
func (f *stubFactory) Critical() bool { return f.critical }

func TestRegisterFactoryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(&stubFactory{name: "ping"}))
	require.ErrorIs(t, r.RegisterFactory(&stubFactory{name: "ping"}), ErrDuplicateTool)
}

func TestExecuteMaterializesLazily(t *testing.T) {
	r := NewRegistry()
	factory := &stubFactory{name: "ping"}
	require.NoError(t, r.RegisterFactory(factory))
	require.Equal(t, 0, factory.created, "must not materialize at registration time")

	_, err := r.Execute(models.ExecContext{}, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, 1, factory.created)

	_, err = r.Execute(models.ExecContext{}, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, 1, factory.created, "second execute reuses the cached instance")
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(models.ExecContext{}, "missing", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestSearchSubstringMatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(&stubFactory{name: "network-bridge"}))
	require.NoError(t, r.RegisterFactory(&stubFactory{name: "agent-ping"}))

	results := r.Search("bridge", 10)
	require.Len(t, results, 1)
	require.Equal(t, "network-bridge", results[0].Name)
}

func TestEvictionRespectsLRUUnderCapacity(t *testing.T) {
	r := NewRegistry(WithMaxLoaded(2))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.RegisterFactory(&stubFactory{name: name}))
	}

	_, err := r.Execute(models.ExecContext{}, "a", nil)
	require.NoError(t, err)
	_, err = r.Execute(models.ExecContext{}, "b", nil)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	_, err = r.Execute(models.ExecContext{}, "c", nil)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len(), "materializing a third instance evicts one to stay at capacity")
}

func TestPinExemptsFromEviction(t *testing.T) {
	r := NewRegistry(WithMaxLoaded(1))
	require.NoError(t, r.RegisterFactory(&stubFactory{name: "critical-tool"}))
	require.NoError(t, r.RegisterFactory(&stubFactory{name: "other"}))

	require.NoError(t, r.Pin("critical-tool"))
	_, err := r.Execute(models.ExecContext{}, "other", nil)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len(), "the pinned instance is not evicted even at capacity 1")

	def, ok := r.GetDefinition("critical-tool")
	require.True(t, ok)
	require.Equal(t, "critical-tool", def.Name)
}

func TestIdleTimeoutPreferredOverLRU(t *testing.T) {
	r := NewRegistry(WithMaxLoaded(2), WithIdleTimeout(time.Millisecond))
	require.NoError(t, r.RegisterFactory(&stubFactory{name: "stale"}))
	require.NoError(t, r.RegisterFactory(&stubFactory{name: "fresh"}))

	_, err := r.Execute(models.ExecContext{}, "stale", nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = r.Execute(models.ExecContext{}, "fresh", nil)
	require.NoError(t, err)

	require.NoError(t, r.RegisterFactory(&stubFactory{name: "third"}))
	_, err = r.Execute(models.ExecContext{}, "third", nil)
	require.NoError(t, err)

	_, ok := r.GetDefinition("stale")
	require.True(t, ok, "definition survives eviction, only the live instance is dropped")
}
