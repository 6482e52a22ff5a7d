// Package compact implements the compact-mode meta-tools: exactly four
// tools (list_tools, search_tools, get_tool_schema, execute_tool) that
// collapse the full Tool Registry behind a constant-size surface for the
// model, per spec.md §4.5. Grounded on internal/tools/policy/groups.go's
// group-resolution style for the category/substring filtering and on
// internal/fabric.Registry for the underlying directory.
package compact

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/pkg/models"
)

// DefaultListLimit and DefaultSearchLimit match spec.md §4.5's defaults.
const (
	DefaultListLimit   = 20
	DefaultSearchLimit = 10
)

// MetaTools wraps a Registry with the four meta-tool handlers. It holds
// no state of its own beyond the Registry reference — all four tools are
// pure projections over the Registry's directory.
type MetaTools struct {
	registry *fabric.Registry
}

// New wraps registry with the compact-mode meta-tool surface.
func New(registry *fabric.Registry) *MetaTools {
	return &MetaTools{registry: registry}
}

// ListToolsArgs is list_tools' input.
type ListToolsArgs struct {
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// ListToolsResult is list_tools' output: a page of definitions plus the
// total count so the model can decide whether to page further.
type ListToolsResult struct {
	Tools []models.ToolDefinition `json:"tools"`
	Total int                     `json:"total"`
}

// ListTools paginates registry definitions, filtered by substring
// category match when Category is set.
func (m *MetaTools) ListTools(args ListToolsArgs) ListToolsResult {
	limit := args.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	all := m.registry.List()
	if args.Category != "" {
		filtered := make([]models.ToolDefinition, 0, len(all))
		needle := strings.ToLower(args.Category)
		for _, def := range all {
			if strings.Contains(strings.ToLower(string(def.Category)), needle) {
				filtered = append(filtered, def)
			}
		}
		all = filtered
	}

	total := len(all)
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return ListToolsResult{Tools: all[offset:end], Total: total}
}

// SearchToolsArgs is search_tools' input.
type SearchToolsArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchTools does a substring search over name+description via the
// Registry's Search, defaulting the limit to DefaultSearchLimit.
func (m *MetaTools) SearchTools(args SearchToolsArgs) []models.ToolDefinition {
	limit := args.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return m.registry.Search(args.Query, limit)
}

// GetToolSchemaArgs is get_tool_schema's input.
type GetToolSchemaArgs struct {
	ToolName string `json:"tool_name"`
}

// GetToolSchemaResult is get_tool_schema's output.
type GetToolSchemaResult struct {
	Tool   string          `json:"tool"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Found  bool            `json:"found"`
}

// GetToolSchema returns {tool, schema} or a not-found result.
func (m *MetaTools) GetToolSchema(args GetToolSchemaArgs) GetToolSchemaResult {
	def, ok := m.registry.GetDefinition(args.ToolName)
	if !ok {
		return GetToolSchemaResult{Tool: args.ToolName, Found: false}
	}
	return GetToolSchemaResult{Tool: def.Name, Schema: def.InputSchema, Found: true}
}

// ExecuteToolArgs is execute_tool's input.
type ExecuteToolArgs struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ExecuteTool resolves tool_name and executes it via the Registry,
// propagating the Registry's *fabric.ToolError unchanged: CodeUnknownTool
// for an unregistered name, CodeExecutionFailed wrapping any error the
// tool or its factory returns. Neither ExecuteTool nor the Registry
// validates arguments against the tool's schema or checks access.
func (m *MetaTools) ExecuteTool(ctx models.ExecContext, args ExecuteToolArgs) (json.RawMessage, error) {
	if strings.TrimSpace(args.ToolName) == "" {
		return nil, fmt.Errorf("execute_tool: tool_name is required")
	}
	return m.registry.Execute(ctx, args.ToolName, args.Arguments)
}

// Definitions returns the four meta-tools' own ToolDefinitions — the
// constant-size surface actually shown to the model, per spec.md §4.5's
// "the model cannot see more than four tool schemas at once".
func (m *MetaTools) Definitions() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        "list_tools",
			Description: "Paginate the tool registry, optionally filtered by category.",
			InputSchema: listToolsSchema,
			Category:    models.CategoryMeta,
			Namespace:   "meta",
		},
		{
			Name:        "search_tools",
			Description: "Substring search over tool name and description.",
			InputSchema: searchToolsSchema,
			Category:    models.CategoryMeta,
			Namespace:   "meta",
		},
		{
			Name:        "get_tool_schema",
			Description: "Fetch a single tool's input schema by name.",
			InputSchema: getToolSchemaSchema,
			Category:    models.CategoryMeta,
			Namespace:   "meta",
		},
		{
			Name:        "execute_tool",
			Description: "Resolve and execute a tool by name with JSON arguments.",
			InputSchema: executeToolSchema,
			Category:    models.CategoryMeta,
			Namespace:   "meta",
		},
	}
}

var (
	listToolsSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"category": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1},
			"offset": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`)

	searchToolsSchema = json.RawMessage(`{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`)

	getToolSchemaSchema = json.RawMessage(`{
		"type": "object",
		"required": ["tool_name"],
		"properties": {
			"tool_name": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	executeToolSchema = json.RawMessage(`{
		"type": "object",
		"required": ["tool_name"],
		"properties": {
			"tool_name": {"type": "string", "minLength": 1},
			"arguments": {"type": "object"}
		},
		"additionalProperties": false
	}`)
)
