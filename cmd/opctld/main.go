// Package main provides the opctld daemon entry point: the long-running
// process that hosts the Tool Fabric, Forced-Tool Orchestrator, and
// External Interface Layer described in this repository's design.
//
// # Basic Usage
//
// Start the daemon:
//
//	opctld serve --config opctl.yaml
//
// # Environment Variables
//
// Every setting can also be supplied via environment variable; see
// internal/config.OpctlConfig for the full list (OP_AGENT_BUS,
// OP_TRUSTED_NETWORKS, OP_BLOCKCHAIN_PATH, GEMINI_API_KEY, LLM_MODEL,
// MCP_MAX_TOOLS, MCP_IDLE_SECS, and related MCP_* discovery toggles).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbusmcp/opctl/internal/config"
	"github.com/dbusmcp/opctl/internal/daemon"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "opctld",
		Short:        "opctld - LLM-driven operations control plane daemon",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildMCPCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath, httpAddr, wsAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon's HTTP and WebSocket surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context(), configPath, daemon.Addrs{HTTP: httpAddr, WS: wsAddr})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "opctl.yaml", "path to the config file")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", ":8081", "WebSocket listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func buildMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPStdio(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "opctl.yaml", "path to the config file")
	return cmd
}

// runServe loads config, builds the daemon, and blocks until a shutdown
// signal arrives or the daemon reports a fatal error — grounded on
// cmd/nexus/handlers_serve.go's runServe: config load, managed-server
// construction, signal.NotifyContext, goroutine+error-channel select,
// and a 30s-bounded graceful shutdown.
func runServe(ctx context.Context, configPath string, addrs daemon.Addrs) error {
	cfg, err := config.LoadOpctlConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting opctld", "version", version, "commit", commit, "config", configPath)

	d, err := daemon.New(cfg, configPath, addrs, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutdown signal received, initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := d.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("opctld stopped gracefully")
	return nil
}

// runMCPStdio loads config, builds the daemon, and serves the MCP
// surface over stdin/stdout until input is exhausted or ctx is
// canceled — the stdio transport shares the process's own stdin/stdout
// rather than binding a listener, so it runs independent of serve's
// HTTP/WS addresses.
func runMCPStdio(ctx context.Context, configPath string) error {
	cfg, err := config.LoadOpctlConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := daemon.New(cfg, configPath, daemon.Addrs{}, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = d.Stop(shutdownCtx)
	}()

	return d.ServeMCPStdio(ctx, os.Stdin, os.Stdout)
}
