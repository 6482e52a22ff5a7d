package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/fabric/compact"
	"github.com/dbusmcp/opctl/internal/orchestrator"
	"github.com/dbusmcp/opctl/internal/zones"
	"github.com/dbusmcp/opctl/pkg/models"
)

type scriptedLLM struct {
	responses []*orchestrator.CompletionResponse
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, req orchestrator.CompletionRequest) (*orchestrator.CompletionResponse, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func TestHandleHealthReportsServiceAndVersion(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, ServiceName, body["service"])
	require.Equal(t, Version, body["version"])
}

func TestHandleToolsListsAndSearches(t *testing.T) {
	r := fabric.NewRegistry()
	require.NoError(t, orchestrator.RegisterTerminalTools(r))

	s := &Server{Registry: r}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tools?q=respond", nil)
	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), orchestrator.ToolRespondToUser)
	require.NotContains(t, rec.Body.String(), orchestrator.ToolCannotPerform)

	rec = httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), orchestrator.ToolRespondToUser)
	require.Contains(t, rec.Body.String(), orchestrator.ToolCannotPerform)
}

func TestHandleAgentsWithoutDiscoveryReturnsEmptyList(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"agents":[]}`, rec.Body.String())
}

func TestHandleChatRejectsGet(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleChatRunsOrchestratorToCompletion(t *testing.T) {
	r := fabric.NewRegistry()
	require.NoError(t, orchestrator.RegisterTerminalTools(r))
	meta := compact.New(r)

	// First turn: a structured execute_tool call resolving to respond_to_user.
	callArgs, err := json.Marshal(map[string]any{
		"tool_name": orchestrator.ToolRespondToUser,
		"arguments": map[string]any{"message": "bridge br0 created"},
	})
	require.NoError(t, err)
	llm := &scriptedLLM{responses: []*orchestrator.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "execute_tool", Arguments: callArgs}}},
	}}

	o := orchestrator.New(llm, meta, r, orchestrator.Config{MaxTurns: 2, TurnWallClock: time.Second, HeartbeatInterval: time.Hour}, nil)
	s := &Server{Orchestrator: o, Zones: zones.NewClassifier("")}

	body := strings.NewReader(`{"session_id":"s1","message":"bring up br0"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "bridge br0 created", resp.Text)
	require.Empty(t, resp.Error)
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	o := &orchestrator.Orchestrator{}
	s := &Server{Orchestrator: o}
	body := strings.NewReader(`{"session_id":"s1","message":""}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
