package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OpctlConfig is the daemon's configuration: an optional YAML file
// (expanded with ${VAR} substitution via os.ExpandEnv) layered under
// documented defaults, then overridden by the handful of environment
// variables spec.md §6 names as the primary configuration channel.
type OpctlConfig struct {
	Bus     BusConfig      `yaml:"bus"`
	Network NetworkConfig  `yaml:"network"`
	Audit   AuditConfig    `yaml:"audit"`
	OAuth   OAuthConfig    `yaml:"oauth"`
	LLM     OpctlLLMConfig `yaml:"llm"`
	MCP     OpctlMCPConfig `yaml:"mcp"`
}

// BusConfig controls which D-Bus bus the agent surface dials.
type BusConfig struct {
	// Name is "system" or "session", from OP_AGENT_BUS.
	Name string `yaml:"name"`
}

// NetworkConfig controls access-zone classification.
type NetworkConfig struct {
	// TrustedPrefixes is the comma-separated list from OP_TRUSTED_NETWORKS.
	TrustedPrefixes []string `yaml:"trusted_networks"`
}

// AuditConfig controls the append-only audit chain.
type AuditConfig struct {
	// BlockchainPath is the ledger file path, from OP_BLOCKCHAIN_PATH.
	BlockchainPath string `yaml:"blockchain_path"`
}

// OAuthConfig controls headless OAuth token refresh for LLM providers
// that need it (Google/Gemini).
type OAuthConfig struct {
	TokenFile    string `yaml:"token_file"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
}

// OpctlLLMConfig names the model the orchestrator requests.
type OpctlLLMConfig struct {
	Model string `yaml:"model"`
}

// OpctlMCPConfig controls the MCP server's tool surface and discovery
// sources, from the MCP_* environment variables.
type OpctlMCPConfig struct {
	MaxTools        int           `yaml:"max_tools"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	DbusDiscovery   bool          `yaml:"dbus_discovery"`
	PluginDiscovery bool          `yaml:"plugin_discovery"`
	AgentDiscovery  bool          `yaml:"agent_discovery"`
	Preload         bool          `yaml:"preload"`
}

// DefaultOpctlConfig returns the documented defaults for every field
// spec.md leaves a default for.
func DefaultOpctlConfig() OpctlConfig {
	return OpctlConfig{
		Bus: BusConfig{Name: "system"},
		LLM: OpctlLLMConfig{Model: "gemini-2.0-flash"},
		MCP: OpctlMCPConfig{
			MaxTools:    256,
			IdleTimeout: 10 * time.Minute,
		},
	}
}

// LoadOpctlConfig loads OpctlConfig from an optional YAML file at path
// (ignored if empty or missing) layered under DefaultOpctlConfig, then
// applies environment variable overrides — the environment is always
// authoritative, matching spec.md §6's framing of these as "environment
// variables consumed" rather than file-based settings.
func LoadOpctlConfig(path string) (*OpctlConfig, error) {
	cfg := DefaultOpctlConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyOpctlEnvOverrides(&cfg)
	return &cfg, nil
}

func applyOpctlEnvOverrides(cfg *OpctlConfig) {
	if v := os.Getenv("OP_AGENT_BUS"); v != "" {
		cfg.Bus.Name = v
	}
	if v := os.Getenv("OP_TRUSTED_NETWORKS"); v != "" {
		cfg.Network.TrustedPrefixes = splitAndTrim(v)
	}
	if v := os.Getenv("OP_BLOCKCHAIN_PATH"); v != "" {
		cfg.Audit.BlockchainPath = v
	}
	if v := os.Getenv("GOOGLE_AUTH_TOKEN_FILE"); v != "" {
		cfg.OAuth.TokenFile = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.OAuth.GeminiAPIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MCP_MAX_TOOLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MCP.MaxTools = n
		}
	}
	if v := os.Getenv("MCP_IDLE_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MCP.IdleTimeout = time.Duration(n) * time.Second
		}
	}
	if v, ok := parseBoolEnv("MCP_DBUS_DISCOVERY"); ok {
		cfg.MCP.DbusDiscovery = v
	}
	if v, ok := parseBoolEnv("MCP_PLUGIN_DISCOVERY"); ok {
		cfg.MCP.PluginDiscovery = v
	}
	if v, ok := parseBoolEnv("MCP_AGENT_DISCOVERY"); ok {
		cfg.MCP.AgentDiscovery = v
	}
	if v, ok := parseBoolEnv("MCP_PRELOAD"); ok {
		cfg.MCP.Preload = v
	}
}

func parseBoolEnv(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
