// Package fabric implements the Tool Registry and Factories: a uniform
// directory of named tools with lazy, factory-backed materialization and
// LRU/idle-timeout eviction of live instances. Grounded on
// internal/agent/tool_registry.go's RWMutex-guarded map, generalized from
// eagerly-registered live Tool instances to lazily-materialized ones
// (internal/agent's Register takes a live Tool; fabric's RegisterFactory
// stores a factory and defers Create() to first Execute).
package fabric

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dbusmcp/opctl/internal/cache"
	"github.com/dbusmcp/opctl/pkg/models"
)

// DefaultMaxLoaded bounds the number of live (materialized) tool
// instances the Registry retains before evicting.
const DefaultMaxLoaded = 256

// DefaultIdleTimeout is how long a live instance may sit unused before it
// becomes eligible for eviction ahead of strict LRU order.
const DefaultIdleTimeout = 10 * time.Minute

type liveInstance struct {
	tool     models.Tool
	lastUsed time.Time
	pinned   bool
}

// Registry is the Tool Fabric's directory: name -> definition, name ->
// factory, and a bounded cache of materialized instances.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]models.ToolFactory
	defs      map[string]models.ToolDefinition
	live      map[string]*liveInstance
	maxLoaded int
	idleTTL   time.Duration

	// cache is the Workstack/Cache Layer's step cache, consulted by
	// Execute when a call carries a non-empty WorkstackID. Nil (the
	// default) disables caching entirely.
	cache *cache.StepCache
}

// Option configures a Registry at construction, matching the sandbox
// package's functional-options convention used throughout this module.
type Option func(*Registry)

// WithMaxLoaded overrides DefaultMaxLoaded.
func WithMaxLoaded(n int) Option {
	return func(r *Registry) { r.maxLoaded = n }
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTTL = d }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]models.ToolFactory),
		defs:      make(map[string]models.ToolDefinition),
		live:      make(map[string]*liveInstance),
		maxLoaded: DefaultMaxLoaded,
		idleTTL:   DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetCache attaches the Workstack/Cache Layer's step cache, enabling
// Execute to short-circuit repeated calls within the same workstack
// step. Passing nil disables caching.
func (r *Registry) SetCache(c *cache.StepCache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = c
}

// RegisterFactory stores factory.Definition() and the factory itself.
// Fails with ErrDuplicateTool if a definition with the same name already
// exists.
func (r *Registry) RegisterFactory(factory models.ToolFactory) error {
	name := factory.ToolName()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return ErrDuplicateTool
	}
	r.defs[name] = factory.Definition()
	r.factories[name] = factory
	return nil
}

// RegisterTool is a convenience wrapper that wraps an already-live
// instance in a trivial factory whose Create just returns it — useful
// for tools with no meaningful lazy-construction cost (e.g. builtins).
func (r *Registry) RegisterTool(tool models.Tool) error {
	return r.RegisterFactory(&trivialFactory{tool: tool})
}

type trivialFactory struct {
	tool models.Tool
}

func (f *trivialFactory) ToolName() string { return f.tool.Name() }
func (f *trivialFactory) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        f.tool.Name(),
		Description: f.tool.Description(),
		InputSchema: f.tool.InputSchema(),
		Category:    f.tool.Category(),
		Tags:        f.tool.Tags(),
		Namespace:   f.tool.Namespace(),
	}
}
func (f *trivialFactory) Create() (models.Tool, error) { return f.tool, nil }
func (f *trivialFactory) Critical() bool               { return false }

// GetDefinition is a pure lookup of a registered tool's definition.
func (r *Registry) GetDefinition(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all registered definitions, stable-ordered by name.
func (r *Registry) List() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search does a substring match against name and description, returning
// at most limit results, stable-ordered by name for ties.
func (r *Registry) Search(query string, limit int) []models.ToolDefinition {
	query = strings.ToLower(strings.TrimSpace(query))
	all := r.List()
	if query == "" {
		if limit > 0 && limit < len(all) {
			return all[:limit]
		}
		return all
	}

	matched := make([]models.ToolDefinition, 0, len(all))
	for _, def := range all {
		if strings.Contains(strings.ToLower(def.Name), query) ||
			strings.Contains(strings.ToLower(def.Description), query) {
			matched = append(matched, def)
		}
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

// Pin marks name's live instance (materializing it if necessary) as
// critical — exempt from LRU/idle-timeout eviction.
func (r *Registry) Pin(name string) error {
	tool, err := r.materialize(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.live[tool.Name()]; ok {
		inst.pinned = true
	}
	return nil
}

// Execute resolves name's factory, materializes an instance if not
// already cached, and dispatches Execute on it, recording usage for LRU
// purposes. When ctx carries a WorkstackID and a step cache is attached
// (SetCache), a prior result for the same (workstack, step, args) is
// returned without re-invoking the tool, and a fresh result is cached
// for future steps.
func (r *Registry) Execute(ctx models.ExecContext, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	stepCache := r.cache
	r.mu.RUnlock()

	var cacheKey string
	if stepCache != nil && ctx.WorkstackID != "" {
		cacheKey = cache.StepKey(ctx.WorkstackID, ctx.StepIndex, args)
		if cached, ok := stepCache.Get(ctx.WorkstackID, cacheKey); ok {
			return cached, nil
		}
	}

	tool, err := r.materialize(name)
	if err != nil {
		return nil, err
	}

	r.touch(name)

	out, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, newToolError(CodeExecutionFailed, name, err)
	}

	if stepCache != nil && cacheKey != "" {
		stepCache.Put(cacheKey, out)
	}
	return out, nil
}

// materialize returns the live instance for name, creating it via its
// factory (and evicting to make room, if at capacity) on first use.
func (r *Registry) materialize(name string) (models.Tool, error) {
	r.mu.RLock()
	if inst, ok := r.live[name]; ok {
		r.mu.RUnlock()
		return inst.tool, nil
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, newToolError(CodeUnknownTool, name, ErrUnknownTool)
	}

	tool, err := factory.Create()
	if err != nil {
		return nil, newToolError(CodeExecutionFailed, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have materialized it while Create() ran
	// unlocked; prefer whichever instance won the race to avoid leaking
	// duplicate live instances.
	if inst, ok := r.live[name]; ok {
		return inst.tool, nil
	}
	if len(r.live) >= r.maxLoaded {
		r.evictLocked()
	}
	r.live[name] = &liveInstance{
		tool:     tool,
		lastUsed: time.Now(),
		pinned:   factory.Critical(),
	}
	return tool, nil
}

func (r *Registry) touch(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.live[name]; ok {
		inst.lastUsed = time.Now()
	}
}

// evictLocked removes one unpinned live instance: the oldest instance
// past idleTTL if any exist, otherwise the strict-LRU oldest. Must be
// called with mu held. Eviction is silent and safe — an in-flight
// execution already holds its own reference to the Tool value.
func (r *Registry) evictLocked() {
	now := time.Now()

	var idleKey string
	var idleOldest time.Time
	var lruKey string
	var lruOldest time.Time
	haveIdle := false
	haveLRU := false

	for key, inst := range r.live {
		if inst.pinned {
			continue
		}
		if now.Sub(inst.lastUsed) > r.idleTTL {
			if !haveIdle || inst.lastUsed.Before(idleOldest) {
				idleKey, idleOldest, haveIdle = key, inst.lastUsed, true
			}
		}
		if !haveLRU || inst.lastUsed.Before(lruOldest) {
			lruKey, lruOldest, haveLRU = key, inst.lastUsed, true
		}
	}

	switch {
	case haveIdle:
		delete(r.live, idleKey)
	case haveLRU:
		delete(r.live, lruKey)
	}
}

// Len returns the number of currently materialized (live) instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
