// Package daemon wires the Tool Fabric, Protocol Bridge, Forced-Tool
// Orchestrator, Access-Zone classifier, Execution Tracker, Audit Chain,
// and External Interface Layer into one running process. Grounded on
// internal/gateway/managed_server.go's ManagedServer: a thin struct
// holding the constructed components plus Start/Stop, built once by a
// constructor that owns all the wiring decisions.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dbusmcp/opctl/internal/audit"
	"github.com/dbusmcp/opctl/internal/cache"
	"github.com/dbusmcp/opctl/internal/config"
	"github.com/dbusmcp/opctl/internal/discovery"
	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/fabric/compact"
	"github.com/dbusmcp/opctl/internal/orchestrator"
	"github.com/dbusmcp/opctl/internal/plugins"
	httpserver "github.com/dbusmcp/opctl/internal/server/http"
	mcpserver "github.com/dbusmcp/opctl/internal/server/mcp"
	wsserver "github.com/dbusmcp/opctl/internal/server/ws"
	"github.com/dbusmcp/opctl/internal/tracker"
	"github.com/dbusmcp/opctl/internal/zones"

	"github.com/dbusmcp/opctl/internal/protocol/ovsdb"
)

// Addrs configures the two external listeners. An empty field leaves
// that surface unstarted, so a daemon can run HTTP-only, MCP-stdio-only,
// and so on, matching spec.md §6's "each interface independently
// enableable" framing.
type Addrs struct {
	HTTP string
	WS   string
}

// Daemon owns every component's lifecycle for one running opctld
// process.
type Daemon struct {
	cfg     *config.OpctlConfig
	watcher *config.OpctlConfigWatcher
	logger  *slog.Logger

	chain   *audit.Chain
	tracker *tracker.Tracker
	zones   *zones.Classifier

	registry *fabric.Registry
	discover *discovery.Discovery
	meta     *compact.MetaTools
	orch     *orchestrator.Orchestrator

	httpServer *httpserver.Server
	wsHandler  *wsserver.Handler
	wsServer   *http.Server
	mcpServer  *mcpserver.Server

	addrs Addrs
}

// New builds a Daemon from a loaded config, wiring the registry, audit
// chain, tracker, zone classifier, discovery source, and — when a
// Gemini API key is configured — a live LLM-backed orchestrator. With no
// API key, the orchestrator is left nil and chat-driving surfaces
// (/api/chat, /ws, MCP tools/call against execute_tool in the chat path)
// return errors instead of panicking, so a daemon can still serve the
// registry's direct tool surface without an LLM configured.
func New(cfg *config.OpctlConfig, configPath string, addrs Addrs, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	chain, err := audit.OpenChain(cfg.Audit.BlockchainPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening audit chain: %w", err)
	}

	exec := tracker.New(tracker.DefaultCapacity)
	zoneClassifier := zones.NewClassifier(strings.Join(cfg.Network.TrustedPrefixes, ","))

	registry := fabric.NewRegistry()
	registry.SetCache(cache.NewStepCache(0))
	if err := orchestrator.RegisterTerminalTools(registry); err != nil {
		return nil, fmt.Errorf("daemon: registering terminal tools: %w", err)
	}
	if err := registerNetworkBridge(registry, chain); err != nil {
		return nil, fmt.Errorf("daemon: registering network bridge plugin: %w", err)
	}

	discover := discovery.New(discovery.PreferCache(), logger, discovery.NewRegistrySource(discovery.SourceType("registry"), "fabric-registry", registry))
	meta := compact.New(registry)

	var orch *orchestrator.Orchestrator
	if cfg.OAuth.GeminiAPIKey != "" {
		llm, err := orchestrator.NewGeminiClient(orchestrator.GeminiConfig{
			APIKey:       cfg.OAuth.GeminiAPIKey,
			DefaultModel: cfg.LLM.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("daemon: building gemini client: %w", err)
		}
		orch = orchestrator.New(llm, meta, registry, orchestrator.Config{Model: cfg.LLM.Model}, logger)
	} else {
		logger.Warn("GEMINI_API_KEY not set, chat surfaces (HTTP /api/chat, WebSocket /ws) will error on use")
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		chain:    chain,
		tracker:  exec,
		zones:    zoneClassifier,
		registry: registry,
		discover: discover,
		meta:     meta,
		orch:     orch,
		addrs:    addrs,
	}

	d.httpServer = &httpserver.Server{
		Registry:     registry,
		Discovery:    discover,
		Orchestrator: orch,
		Tracker:      exec,
		Zones:        zoneClassifier,
		Logger:       logger,
	}
	d.wsHandler = wsserver.NewHandler(orch, zoneClassifier, logger)

	mode := mcpserver.ModeCompact
	if !cfg.MCP.DbusDiscovery && !cfg.MCP.PluginDiscovery && !cfg.MCP.AgentDiscovery {
		mode = mcpserver.ModeFull
	}
	d.mcpServer = mcpserver.New(registry, mode, logger)

	d.watcher = config.NewOpctlConfigWatcher(configPath, 0, logger, func(reloaded *config.OpctlConfig) {
		logger.Info("config reloaded", "path", configPath, "mcp_max_tools", reloaded.MCP.MaxTools)
	})
	if err := d.watcher.Start(); err != nil {
		logger.Warn("config watcher not started", "error", err)
	}

	return d, nil
}

// registerNetworkBridge wires the OVSDB-backed Network Bridge plugin
// into a StateRuntime and registers its three query/diff/apply tools —
// the one State Plugin spec.md names concretely; additional plugins
// register the same way at a call site a deployment adds.
func registerNetworkBridge(registry *fabric.Registry, chain *audit.Chain) error {
	runtime := plugins.NewStateRuntime("/var/lib/opctl", chain)
	bridge := plugins.NewNetworkBridgePlugin(ovsdb.NewClient())
	if err := runtime.Register(bridge); err != nil {
		return err
	}
	for _, factory := range fabric.NewStatePluginFactories(fabric.StatePluginInput{
		PluginName:   bridge.ID(),
		Description:  "OVSDB-backed network bridge state plugin",
		Capabilities: capabilityNames(bridge.Capabilities()),
		Runtime:      runtime,
	}) {
		if err := registry.RegisterFactory(factory); err != nil {
			return err
		}
	}
	return nil
}

// capabilityNames flattens a plugin's Capabilities into the free-form
// tag list fabric.StatePluginInput attaches to each generated tool's
// definition.
func capabilityNames(c plugins.Capabilities) []string {
	var names []string
	if c.CanRead {
		names = append(names, "read")
	}
	if c.CanWrite {
		names = append(names, "write")
	}
	if c.CanDelete {
		names = append(names, "delete")
	}
	if c.SupportsDryRun {
		names = append(names, "dry-run")
	}
	if c.SupportsRollback {
		names = append(names, "rollback")
	}
	if c.SupportsTransactions {
		names = append(names, "transactions")
	}
	if c.RequiresRoot {
		names = append(names, "requires-root")
	}
	return names
}

// Start launches the HTTP and WebSocket listeners and begins serving.
// MCP's stdio surface is driven separately by the caller via
// ServeMCPStdio, since it shares stdin/stdout with the invoking process
// rather than a socket this Daemon owns.
func (d *Daemon) Start(ctx context.Context) error {
	if d.addrs.HTTP != "" {
		if err := d.httpServer.Start(d.addrs.HTTP); err != nil {
			return fmt.Errorf("daemon: starting http server: %w", err)
		}
		d.logger.Info("opctld http surface listening", "addr", d.addrs.HTTP)
	}

	if d.addrs.WS != "" {
		wsMux := http.NewServeMux()
		wsMux.Handle("/ws", d.wsHandler)
		d.wsServer = &http.Server{Addr: d.addrs.WS, Handler: wsMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := d.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("ws server stopped", "error", err)
			}
		}()
		d.logger.Info("opctld ws surface listening", "addr", d.addrs.WS)
	}

	return nil
}

// ServeMCPStdio runs the MCP surface over the given reader/writer until
// ctx is canceled or input is exhausted, per spec.md §6.2's stdio
// transport.
func (d *Daemon) ServeMCPStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return d.mcpServer.ServeStdio(ctx, in, out)
}

// Stop gracefully shuts down every owned component, mirroring
// ManagedServer.Stop's ordered teardown (listeners first, then
// background workers).
func (d *Daemon) Stop(ctx context.Context) error {
	var firstErr error
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.wsServer != nil {
		if err := d.wsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.chain != nil {
		if err := d.chain.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Registry exposes the daemon's Tool Fabric registry, e.g. for a CLI
// client that wants to introspect tools without going through HTTP.
func (d *Daemon) Registry() *fabric.Registry { return d.registry }

// Tracker exposes the Execution Tracker for status reporting.
func (d *Daemon) Tracker() *tracker.Tracker { return d.tracker }
