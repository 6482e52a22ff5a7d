package plugins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/pkg/models"
)

type stubStatePlugin struct {
	id       string
	state    json.RawMessage
	diffOut  []Change
	applyOut []Change
}

func (p *stubStatePlugin) ID() string { return p.id }
func (p *stubStatePlugin) Capabilities() Capabilities {
	return Capabilities{CanRead: true, CanWrite: true, SupportsDryRun: true}
}
func (p *stubStatePlugin) GetState(ctx context.Context, storage *PluginStorage) (json.RawMessage, error) {
	return p.state, nil
}
func (p *stubStatePlugin) Diff(ctx context.Context, storage *PluginStorage, desired json.RawMessage) ([]Change, error) {
	return p.diffOut, nil
}
func (p *stubStatePlugin) Apply(ctx context.Context, storage *PluginStorage, desired json.RawMessage) ([]Change, error) {
	return p.applyOut, nil
}

func TestProvisionStorageFallsBackToPlainDirectory(t *testing.T) {
	base := t.TempDir()
	storage, err := provisionStorage(base, "widget")
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(base, "plugins", "widget"))
	require.Equal(t, storage.Path, filepath.Join(base, "plugins", "widget"))
}

func TestStateRuntimeQueryDiffApply(t *testing.T) {
	base := t.TempDir()
	rt := NewStateRuntime(base, nil)

	p := &stubStatePlugin{
		id:    "widget",
		state: json.RawMessage(`{"count":1}`),
		diffOut: []Change{{Op: ChangeUpdate, Path: "count", Description: "bump count"}},
		applyOut: []Change{{Op: ChangeUpdate, Path: "count", Description: "bumped count"}},
	}
	require.NoError(t, rt.Register(p))

	state, err := rt.Query(models.ExecContext{}, "widget")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":1}`, string(state))

	diff, err := rt.Diff(models.ExecContext{}, "widget", json.RawMessage(`{"count":2}`))
	require.NoError(t, err)
	require.Contains(t, string(diff), "bump count")

	applied, err := rt.Apply(models.ExecContext{}, "widget", json.RawMessage(`{"count":2}`))
	require.NoError(t, err)
	require.Contains(t, string(applied), "bumped count")
}

func TestStateRuntimeUnknownPlugin(t *testing.T) {
	rt := NewStateRuntime(t.TempDir(), nil)
	_, err := rt.Query(models.ExecContext{}, "missing")
	require.Error(t, err)
}

func TestStateRuntimeStoragePersistsAcrossRegister(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "plugins"), 0o755))
	rt := NewStateRuntime(base, nil)
	require.NoError(t, rt.Register(&stubStatePlugin{id: "widget", state: json.RawMessage(`{}`)}))

	_, storage, err := rt.lookup("widget")
	require.NoError(t, err)
	require.DirExists(t, storage.Path)
}
