// Package discovery implements the Discovery Subsystem: it aggregates
// tool definitions from independent sources (Builtin, Dbus, Plugin,
// Agent, Mcp) behind a single cache with a configurable refresh policy,
// per spec.md §4.10. Grounded on internal/mcp/manager.go's RWMutex-map
// manager shape, generalized from "one MCP client per server" to "one
// cache entry per discovered tool, merged across sources".
package discovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dbusmcp/opctl/pkg/models"
)

// SourceType identifies which of the five independent tool sources
// produced a definition.
type SourceType string

const (
	SourceBuiltin SourceType = "builtin"
	SourceDbus    SourceType = "dbus"
	SourcePlugin  SourceType = "plugin"
	SourceAgent   SourceType = "agent"
	SourceMcp     SourceType = "mcp"
)

// Source is one of the five independent producers of tool definitions.
type Source interface {
	SourceType() SourceType
	Name() string
	Description() string
	Discover(ctx context.Context) ([]models.ToolDefinition, error)
	IsAvailable(ctx context.Context) bool
}

// RefreshMode names the three refresh policies spec.md §4.10 allows.
type RefreshMode string

const (
	// ModePreferCache refreshes only when the cache is empty.
	ModePreferCache RefreshMode = "prefer_cache"
	// ModeRefreshAfter refreshes once After has elapsed since the last
	// successful refresh.
	ModeRefreshAfter RefreshMode = "refresh_after"
	// ModeAlwaysRefresh refreshes on every EnsureFresh call.
	ModeAlwaysRefresh RefreshMode = "always_refresh"
)

// RefreshPolicy configures when EnsureFresh triggers a Refresh.
type RefreshPolicy struct {
	Mode  RefreshMode
	After time.Duration
}

// PreferCache is the default policy: refresh only when the cache has
// never been populated.
func PreferCache() RefreshPolicy { return RefreshPolicy{Mode: ModePreferCache} }

// RefreshAfter builds a time-based refresh policy.
func RefreshAfter(d time.Duration) RefreshPolicy {
	return RefreshPolicy{Mode: ModeRefreshAfter, After: d}
}

// AlwaysRefresh builds the always-refresh policy.
func AlwaysRefresh() RefreshPolicy { return RefreshPolicy{Mode: ModeAlwaysRefresh} }

// Discovery aggregates tool definitions from its configured sources
// into a single name-keyed cache, refreshed according to policy.
type Discovery struct {
	mu          sync.RWMutex
	sources     []Source
	cache       map[string]models.ToolDefinition
	lastRefresh time.Time
	policy      RefreshPolicy
	logger      *slog.Logger
}

// New builds a Discovery over sources with the given refresh policy.
func New(policy RefreshPolicy, logger *slog.Logger, sources ...Source) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		sources: sources,
		cache:   make(map[string]models.ToolDefinition),
		policy:  policy,
		logger:  logger.With("component", "discovery"),
	}
}

// Refresh iterates available sources in order and merges their
// definitions into a freshly built map, later sources winning on
// duplicate names, then swaps the cache in as a unit — refresh is not
// atomic from the sources' point of view (each Discover call may block
// independently) but is atomic from any caller's point of view: readers
// never observe a partially-merged cache.
func (d *Discovery) Refresh(ctx context.Context) error {
	next := make(map[string]models.ToolDefinition)

	d.mu.RLock()
	sources := append([]Source(nil), d.sources...)
	d.mu.RUnlock()

	for _, src := range sources {
		if !src.IsAvailable(ctx) {
			d.logger.Debug("discovery source unavailable", "source", src.Name())
			continue
		}
		defs, err := src.Discover(ctx)
		if err != nil {
			d.logger.Warn("discovery source failed", "source", src.Name(), "error", err)
			continue
		}
		for _, def := range defs {
			next[def.Name] = def
		}
	}

	d.mu.Lock()
	d.cache = next
	d.lastRefresh = time.Now()
	d.mu.Unlock()

	return nil
}

func (d *Discovery) shouldRefresh() bool {
	switch d.policy.Mode {
	case ModeAlwaysRefresh:
		return true
	case ModeRefreshAfter:
		return time.Since(d.lastRefresh) > d.policy.After
	default: // ModePreferCache
		return len(d.cache) == 0
	}
}

// EnsureFresh refreshes the cache if the configured policy requires it.
func (d *Discovery) EnsureFresh(ctx context.Context) error {
	d.mu.RLock()
	needs := d.shouldRefresh()
	d.mu.RUnlock()
	if !needs {
		return nil
	}
	return d.Refresh(ctx)
}

// All returns every cached definition, in no particular order.
func (d *Discovery) All() []models.ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(d.cache))
	for _, def := range d.cache {
		defs = append(defs, def)
	}
	return defs
}

// Get looks up one cached definition by name.
func (d *Discovery) Get(name string) (models.ToolDefinition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.cache[name]
	return def, ok
}

// Search filters the cache by substring query (against name+description),
// optional exact category, and optional tag intersection.
func (d *Discovery) Search(query, category string, tags []string) []models.ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q := strings.ToLower(query)
	var out []models.ToolDefinition
	for _, def := range d.cache {
		if category != "" && string(def.Category) != category {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(def.Tags, tags) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(def.Name), q) &&
			!strings.Contains(strings.ToLower(def.Description), q) {
			continue
		}
		out = append(out, def)
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}
