package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/pkg/models"
)

type stubSource struct {
	sourceType SourceType
	name       string
	defs       []models.ToolDefinition
	available  bool
	calls      int
}

func (s *stubSource) SourceType() SourceType { return s.sourceType }
func (s *stubSource) Name() string            { return s.name }
func (s *stubSource) Description() string     { return "stub source " + s.name }
func (s *stubSource) IsAvailable(ctx context.Context) bool { return s.available }
func (s *stubSource) Discover(ctx context.Context) ([]models.ToolDefinition, error) {
	s.calls++
	return s.defs, nil
}

func TestRefreshMergesLaterSourceWinsOnDuplicateName(t *testing.T) {
	first := &stubSource{sourceType: SourceBuiltin, name: "builtin", available: true, defs: []models.ToolDefinition{
		{Name: "ping", Description: "builtin ping"},
	}}
	second := &stubSource{sourceType: SourcePlugin, name: "plugin", available: true, defs: []models.ToolDefinition{
		{Name: "ping", Description: "plugin ping"},
	}}

	d := New(AlwaysRefresh(), nil, first, second)
	require.NoError(t, d.Refresh(context.Background()))

	def, ok := d.Get("ping")
	require.True(t, ok)
	require.Equal(t, "plugin ping", def.Description)
}

func TestRefreshSkipsUnavailableSources(t *testing.T) {
	unavailable := &stubSource{sourceType: SourceMcp, name: "mcp", available: false, defs: []models.ToolDefinition{
		{Name: "remote_tool"},
	}}
	d := New(AlwaysRefresh(), nil, unavailable)
	require.NoError(t, d.Refresh(context.Background()))

	_, ok := d.Get("remote_tool")
	require.False(t, ok)
}

func TestPreferCacheOnlyRefreshesWhenEmpty(t *testing.T) {
	src := &stubSource{sourceType: SourceBuiltin, name: "builtin", available: true, defs: []models.ToolDefinition{{Name: "a"}}}
	d := New(PreferCache(), nil, src)

	require.NoError(t, d.EnsureFresh(context.Background()))
	require.NoError(t, d.EnsureFresh(context.Background()))
	require.Equal(t, 1, src.calls)
}

func TestRefreshAfterHonorsDuration(t *testing.T) {
	src := &stubSource{sourceType: SourceBuiltin, name: "builtin", available: true, defs: []models.ToolDefinition{{Name: "a"}}}
	d := New(RefreshAfter(time.Hour), nil, src)

	require.NoError(t, d.EnsureFresh(context.Background()))
	require.NoError(t, d.EnsureFresh(context.Background()))
	require.Equal(t, 1, src.calls, "refresh-after policy should not refresh again within the window")
}

func TestSearchFiltersByQueryCategoryAndTags(t *testing.T) {
	src := &stubSource{sourceType: SourceBuiltin, name: "builtin", available: true, defs: []models.ToolDefinition{
		{Name: "network-bridge-create", Description: "create a bridge", Category: models.CategoryProtocol, Tags: []string{"network"}},
		{Name: "agent-ping", Description: "ping an agent", Category: models.CategoryAgent, Tags: []string{"health"}},
	}}
	d := New(AlwaysRefresh(), nil, src)
	require.NoError(t, d.Refresh(context.Background()))

	byQuery := d.Search("bridge", "", nil)
	require.Len(t, byQuery, 1)

	byCategory := d.Search("", string(models.CategoryAgent), nil)
	require.Len(t, byCategory, 1)

	byTag := d.Search("", "", []string{"network"})
	require.Len(t, byTag, 1)
}
