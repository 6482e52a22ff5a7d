package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/fabric/compact"
	"github.com/dbusmcp/opctl/internal/orchestrator"
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

func TestWSChatSendStreamsTurnEventsToDone(t *testing.T) {
	r := fabric.NewRegistry()
	require.NoError(t, orchestrator.RegisterTerminalTools(r))
	meta := compact.New(r)

	callArgs, err := json.Marshal(map[string]any{
		"tool_name": orchestrator.ToolRespondToUser,
		"arguments": map[string]any{"message": "done"},
	})
	require.NoError(t, err)
	llm := &scriptedLLM{responses: []*orchestrator.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "execute_tool", Arguments: callArgs}}},
	}}
	o := orchestrator.New(llm, meta, r, orchestrator.Config{MaxTurns: 2, TurnWallClock: time.Second, HeartbeatInterval: time.Hour}, nil)

	h := NewHandler(o, nil, nil)
	server := httptest.NewServer(h)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := frame{Type: "request", ID: "1", Method: "chat.send", Params: mustMarshal(t, chatSendParams{Content: "hello"})}
	require.NoError(t, conn.WriteJSON(req))

	var last frame
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		last = f
		var payload map[string]any
		b, _ := json.Marshal(f.Payload)
		_ = json.Unmarshal(b, &payload)
		if done, ok := payload["done"].(bool); ok && done {
			break
		}
	}

	require.Equal(t, "event", last.Type)
	payload, ok := last.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, payload["done"])
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
