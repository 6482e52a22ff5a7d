// Package http implements the HTTP ingress surface: /health, /api/tools,
// /api/agents, /api/chat, and /api/status, mounted on a plain
// net/http.ServeMux. Grounded on internal/gateway/http_server.go's
// startHTTPServer — the same mux-plus-http.Server-with-ReadHeaderTimeout
// shape, narrowed from the teacher's UI/webhook/HomeAssistant/metrics
// surface to the four endpoint families spec.md §6 names plus the
// Execution Tracker's /api/status.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dbusmcp/opctl/internal/discovery"
	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/orchestrator"
	"github.com/dbusmcp/opctl/internal/tracker"
	"github.com/dbusmcp/opctl/internal/zones"
	"github.com/dbusmcp/opctl/pkg/models"
)

// ServiceName and Version are reported by /health.
const (
	ServiceName = "opctl"
	Version     = "0.1.0"
)

// Server is the HTTP ingress surface. It is deliberately thin: every
// endpoint delegates to an already-constructed subsystem (Registry,
// Discovery, Orchestrator) rather than owning business logic itself.
type Server struct {
	Registry     *fabric.Registry
	Discovery    *discovery.Discovery
	Orchestrator *orchestrator.Orchestrator
	Tracker      *tracker.Tracker
	Zones        *zones.Classifier
	Logger       *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// Mux builds the routed http.Handler. Exposed separately from Start so
// tests can exercise routes with httptest without binding a socket.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

// Start binds addr and serves in the background, mirroring
// startHTTPServer's listen-then-goroutine-Serve shape.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.Logger != nil {
				s.Logger.Error("http server error", "error", err)
			}
		}
	}()

	if s.Logger != nil {
		s.Logger.Info("starting http server", "addr", addr)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
		"version": Version,
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.Registry == nil {
		writeError(w, http.StatusServiceUnavailable, "Internal", "tool registry not initialized")
		return
	}

	query := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	var defs []models.ToolDefinition
	if query != "" {
		defs = s.Registry.Search(query, limit)
	} else {
		defs = s.Registry.List()
		if limit > 0 && limit < len(defs) {
			defs = defs[:limit]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.Discovery == nil {
		writeJSON(w, http.StatusOK, map[string]any{"agents": []models.ToolDefinition{}})
		return
	}

	all := s.Discovery.All()
	agents := make([]models.ToolDefinition, 0, len(all))
	for _, def := range all {
		if def.Category == models.CategoryAgent {
			agents = append(agents, def)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// handleChat runs the Forced-Tool Orchestrator to completion for a single
// user message and returns the final text — the synchronous counterpart
// to /ws's streamed TurnEvents.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "InvalidRequest", "POST required")
		return
	}
	if s.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "Internal", "orchestrator not initialized")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "http-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	zone := models.ZonePublic
	if s.Zones != nil {
		zone = s.Zones.Classify(clientIP(r))
	}

	state := &models.ConversationState{SessionID: req.SessionID}
	execCtx := models.ExecContext{SessionID: req.SessionID, Zone: zone, InitiatedBy: "http"}

	var text string
	var runErr error
	for event := range s.Orchestrator.Run(r.Context(), state, req.Message, execCtx) {
		if event.Text != "" {
			text = event.Text
		}
		if event.Error != nil {
			runErr = event.Error
		}
	}

	resp := chatResponse{Text: text}
	status := http.StatusOK
	if runErr != nil {
		resp.Error = runErr.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// handleStatus reports the Execution Tracker's aggregate stats, both as
// structured JSON and a human-readable summary line, for operator
// dashboards and CLI status checks.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Tracker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"summary": "tracker not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": s.Tracker.Summary(),
		"stats":   s.Tracker.Stats(),
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
