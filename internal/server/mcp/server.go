// Package mcp implements the MCP ingress surface: JSON-RPC 2.0 over
// stdio or HTTP with initialize/initialized/tools/list/tools/call/
// resources/list/resources/read/ping, per spec.md §6.2. The request/
// response envelope mirrors internal/protocol/ovsdb/client.go's
// rpcRequest/rpcResponse shape — same id-correlated JSON-RPC 2.0 fields,
// server side instead of client side. In compact mode tools/list returns
// exactly the four meta-tools and tools/call dispatches by name to one of
// those four (execute_tool through MetaTools.ExecuteTool); in full mode
// tools/list returns every Registry definition in a single response and
// tools/call executes the named Registry tool directly. A cursor param
// is accepted and ignored, and no nextCursor is returned.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/fabric/compact"
	"github.com/dbusmcp/opctl/pkg/models"
)

const jsonrpcVersion = "2.0"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// Mode selects the tool surface tools/list and tools/call expose.
type Mode int

const (
	// ModeCompact exposes exactly the four meta-tools (spec.md §4.5).
	ModeCompact Mode = iota
	// ModeFull lists every Registry definition in one unpaginated response.
	ModeFull
)

// Server is the MCP JSON-RPC handler. It holds no per-connection state —
// initialize/initialized are acknowledged but not required to gate other
// methods, since this server has no session-scoped capability negotiation
// beyond the protocol handshake.
type Server struct {
	Registry *fabric.Registry
	Meta     *compact.MetaTools
	Mode     Mode
	Logger   *slog.Logger

	initialized atomic.Bool
}

// New builds a Server over registry, materializing its own MetaTools
// wrapper for compact-mode dispatch.
func New(registry *fabric.Registry, mode Mode, logger *slog.Logger) *Server {
	return &Server{
		Registry: registry,
		Meta:     compact.New(registry),
		Mode:     mode,
		Logger:   logger,
	}
}

// ServeStdio runs the read-dispatch-write loop over newline-delimited
// JSON-RPC messages on r/w, returning when r is exhausted or ctx is
// cancelled.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(ctx, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("mcp: encode response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return &rpcResponse{JSONRPC: jsonrpcVersion, Error: &rpcError{Code: codeParseError, Message: "parse error"}}
	}
	return s.dispatch(ctx, &req)
}

// ServeHTTP implements http.Handler: one JSON-RPC request per POST body,
// one JSON-RPC response per HTTP response.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	resp := s.handleLine(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req *rpcRequest) *rpcResponse {
	if req.Method == "" {
		return errResponse(req.ID, codeInvalidRequest, "missing method")
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized":
		s.initialized.Store(true)
		return nil // notification: no response expected
	case "ping":
		return okResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return okResponse(req.ID, map[string]any{"resources": []any{}})
	case "resources/read":
		return errResponse(req.ID, codeInvalidRequest, "no resources are exposed by this server")
	default:
		return errResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) handleInitialize(req *rpcRequest) *rpcResponse {
	return okResponse(req.ID, map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]any{"name": "opctl", "version": "0.1.0"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	})
}

type mcpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func toMCPTools(defs []models.ToolDefinition) []mcpTool {
	out := make([]mcpTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, mcpTool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

func (s *Server) handleToolsList(req *rpcRequest) *rpcResponse {
	if s.Mode == ModeCompact {
		return okResponse(req.ID, map[string]any{"tools": toMCPTools(s.Meta.Definitions())})
	}

	var params struct {
		Cursor string `json:"cursor,omitempty"`
	}
	_ = json.Unmarshal(req.Params, &params)

	all := s.Registry.List()
	return okResponse(req.ID, map[string]any{"tools": toMCPTools(all)})
}

func (s *Server) handleToolsCall(ctx context.Context, req *rpcRequest) *rpcResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, codeInvalidRequest, "invalid params")
	}
	if params.Name == "" {
		return errResponse(req.ID, codeInvalidRequest, "name is required")
	}

	execCtx := models.ExecContext{InitiatedBy: "mcp"}

	if s.Mode == ModeCompact {
		switch params.Name {
		case "list_tools":
			var args compact.ListToolsArgs
			_ = json.Unmarshal(params.Arguments, &args)
			return okResponse(req.ID, toolResultContent(s.Meta.ListTools(args)))
		case "search_tools":
			var args compact.SearchToolsArgs
			_ = json.Unmarshal(params.Arguments, &args)
			return okResponse(req.ID, toolResultContent(s.Meta.SearchTools(args)))
		case "get_tool_schema":
			var args compact.GetToolSchemaArgs
			_ = json.Unmarshal(params.Arguments, &args)
			return okResponse(req.ID, toolResultContent(s.Meta.GetToolSchema(args)))
		case "execute_tool":
			var args compact.ExecuteToolArgs
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return errResponse(req.ID, codeInvalidRequest, "invalid arguments")
			}
			out, err := s.Meta.ExecuteTool(execCtx, args)
			if err != nil {
				return errResponse(req.ID, codeInternalError, err.Error())
			}
			return okResponse(req.ID, toolResultContent(json.RawMessage(out)))
		default:
			return errResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown meta-tool %q", params.Name))
		}
	}

	out, err := s.Registry.Execute(execCtx, params.Name, params.Arguments)
	if err != nil {
		return errResponse(req.ID, codeInternalError, err.Error())
	}
	return okResponse(req.ID, toolResultContent(json.RawMessage(out)))
}

// toolResultContent wraps a value as MCP's {content:[{type:"text",text}]}
// tool-result shape, serializing non-string values as JSON text.
func toolResultContent(v any) map[string]any {
	var text string
	switch t := v.(type) {
	case json.RawMessage:
		text = string(t)
	case string:
		text = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(b)
		}
	}
	return map[string]any{"content": []map[string]string{{"type": "text", "text": text}}}
}

func okResponse(id json.RawMessage, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func errResponse(id json.RawMessage, code int, message string) *rpcResponse {
	return &rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Error: &rpcError{Code: code, Message: message}}
}
