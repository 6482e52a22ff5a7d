package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/dbusmcp/opctl/internal/audit"
	"github.com/dbusmcp/opctl/pkg/models"
)

// ChangeOp is the kind of change a Diff/Apply produces, per spec.md
// §4.11.
type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// Change is one typed state change, as returned by both Diff (proposed)
// and Apply (actually performed).
type Change struct {
	Op          ChangeOp        `json:"op"`
	Path        string          `json:"path"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Description string          `json:"description"`
}

// Capabilities declares what a State Plugin supports, per spec.md
// §4.11.
type Capabilities struct {
	CanRead               bool `json:"can_read"`
	CanWrite              bool `json:"can_write"`
	CanDelete             bool `json:"can_delete"`
	SupportsDryRun        bool `json:"supports_dry_run"`
	SupportsRollback      bool `json:"supports_rollback"`
	SupportsTransactions  bool `json:"supports_transactions"`
	RequiresRoot          bool `json:"requires_root"`
}

// StatePlugin models one external system with the three operations
// spec.md §4.11 names.
type StatePlugin interface {
	ID() string
	Capabilities() Capabilities
	GetState(ctx context.Context, storage *PluginStorage) (json.RawMessage, error)
	Diff(ctx context.Context, storage *PluginStorage, desired json.RawMessage) ([]Change, error)
	Apply(ctx context.Context, storage *PluginStorage, desired json.RawMessage) ([]Change, error)
}

// PluginStorage is one plugin's per-plugin storage directory. It
// prefers a BTRFS subvolume (for snapshot/rollback support) and falls
// back to a plain directory when that isn't available — grounded on
// original_source/crates/op-plugins/src/registry.rs's
// create_plugin_subvolume: attempt `btrfs subvolume create`, and on any
// failure (not btrfs, already exists, binary missing) fall back to a
// plain mkdir instead of treating it as fatal.
type PluginStorage struct {
	Path      string
	Subvolume bool
}

// provisionStorage creates (or reuses) the storage directory for a
// named plugin under base, preferring a BTRFS subvolume.
func provisionStorage(base, name string) (*PluginStorage, error) {
	path := filepath.Join(base, "plugins", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("plugins: create parent for %s: %w", name, err)
	}

	if _, err := os.Stat(path); err == nil {
		return &PluginStorage{Path: path}, nil
	}

	cmd := exec.Command("btrfs", "subvolume", "create", path)
	if err := cmd.Run(); err == nil {
		return &PluginStorage{Path: path, Subvolume: true}, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("plugins: create storage dir for %s: %w", name, err)
	}
	return &PluginStorage{Path: path}, nil
}

// StateRuntime implements fabric.PluginRuntime over a set of registered
// StatePlugins, dispatching Query/Diff/Apply to the named plugin's
// storage-scoped implementation and appending an audit Footprint for
// every applied change, per spec.md §4.11's "emits a footprint for
// every applied change".
type StateRuntime struct {
	mu       sync.RWMutex
	basePath string
	plugins  map[string]StatePlugin
	storage  map[string]*PluginStorage
	chain    *audit.Chain
}

// NewStateRuntime builds a StateRuntime rooted at basePath. chain may be
// nil, in which case Apply does not emit footprints (useful in tests).
func NewStateRuntime(basePath string, chain *audit.Chain) *StateRuntime {
	return &StateRuntime{
		basePath: basePath,
		plugins:  make(map[string]StatePlugin),
		storage:  make(map[string]*PluginStorage),
		chain:    chain,
	}
}

// Register provisions storage for and registers plugin. Per-plugin
// storage is serialized: provisioning happens once, at registration.
func (r *StateRuntime) Register(plugin StatePlugin) error {
	storage, err := provisionStorage(r.basePath, plugin.ID())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[plugin.ID()] = plugin
	r.storage[plugin.ID()] = storage
	return nil
}

func (r *StateRuntime) lookup(name string) (StatePlugin, *PluginStorage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, nil, fmt.Errorf("plugins: unknown state plugin %q", name)
	}
	return p, r.storage[name], nil
}

// Query implements fabric.PluginRuntime's get_state operation.
func (r *StateRuntime) Query(ctx models.ExecContext, pluginName string) (json.RawMessage, error) {
	p, storage, err := r.lookup(pluginName)
	if err != nil {
		return nil, err
	}
	return p.GetState(context.Background(), storage)
}

// Diff implements fabric.PluginRuntime's diff operation.
func (r *StateRuntime) Diff(ctx models.ExecContext, pluginName string, desired json.RawMessage) (json.RawMessage, error) {
	p, storage, err := r.lookup(pluginName)
	if err != nil {
		return nil, err
	}
	changes, err := p.Diff(context.Background(), storage, desired)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"changes": changes})
}

// Apply implements fabric.PluginRuntime's apply operation, emitting one
// audit Footprint per applied change.
func (r *StateRuntime) Apply(ctx models.ExecContext, pluginName string, desired json.RawMessage) (json.RawMessage, error) {
	p, storage, err := r.lookup(pluginName)
	if err != nil {
		return nil, err
	}
	changes, err := p.Apply(context.Background(), storage, desired)
	if err != nil {
		return nil, err
	}

	if r.chain != nil {
		for _, c := range changes {
			r.chain.Append("plugins", "apply", map[string]any{
				"plugin":      pluginName,
				"op":          c.Op,
				"path":        c.Path,
				"description": c.Description,
			})
		}
	}

	return json.Marshal(map[string]any{"changes": changes})
}
