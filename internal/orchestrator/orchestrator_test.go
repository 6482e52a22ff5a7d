package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/fabric/compact"
	"github.com/dbusmcp/opctl/pkg/models"
)

type scriptedLLM struct {
	responses []*CompletionResponse
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func newTestOrchestrator(t *testing.T, llm LLMClient) (*Orchestrator, *fabric.Registry) {
	t.Helper()
	r := fabric.NewRegistry()
	require.NoError(t, RegisterTerminalTools(r))
	meta := compact.New(r)
	o := New(llm, meta, r, Config{MaxTurns: 3, TurnWallClock: time.Second, HeartbeatInterval: time.Hour}, nil)
	return o, r
}

func drain(t *testing.T, events <-chan *TurnEvent) []*TurnEvent {
	t.Helper()
	var all []*TurnEvent
	for e := range events {
		all = append(all, e)
	}
	return all
}

func toolCallArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestOrchestratorTerminalToolEndsTurn(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{{
			ID:   "1",
			Name: "execute_tool",
			Arguments: toolCallArgs(t, map[string]any{
				"tool_name": ToolRespondToUser,
				"arguments": map[string]any{"message": "bridge br0 created"},
			}),
		}}},
	}}
	o, _ := newTestOrchestrator(t, llm)

	state := &models.ConversationState{SessionID: "s1"}
	events := o.Run(context.Background(), state, "create bridge br0", models.ExecContext{SessionID: "s1"})
	all := drain(t, events)

	last := all[len(all)-1]
	require.True(t, last.Done)
	require.Nil(t, last.Error)
	require.Equal(t, "bridge br0 created", last.Text)
}

func TestOrchestratorForbiddenCommandSurfacesSurrogate(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{
		{Text: "Just run ovs-vsctl add-br br0 yourself."},
	}}
	o, _ := newTestOrchestrator(t, llm)

	state := &models.ConversationState{SessionID: "s1"}
	events := o.Run(context.Background(), state, "create bridge br0", models.ExecContext{SessionID: "s1"})
	all := drain(t, events)

	last := all[len(all)-1]
	require.True(t, last.Done)
	require.Contains(t, last.Text, "can't complete")
}

func TestOrchestratorTurnLimitExceeded(t *testing.T) {
	listCall := models.ToolCall{ID: "1", Name: "list_tools", Arguments: toolCallArgs(t, map[string]any{})}
	llm := &scriptedLLM{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{listCall}},
		{ToolCalls: []models.ToolCall{listCall}},
		{},
	}}
	o, _ := newTestOrchestrator(t, llm)

	state := &models.ConversationState{SessionID: "s1"}
	events := o.Run(context.Background(), state, "do something", models.ExecContext{SessionID: "s1"})
	all := drain(t, events)

	last := all[len(all)-1]
	require.True(t, last.Done)
	require.ErrorIs(t, last.Error, ErrTurnLimitExceeded)
}

func TestOrchestratorStructuredListToolsCallContinuesLoop(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "list_tools", Arguments: toolCallArgs(t, map[string]any{})}}},
		{ToolCalls: []models.ToolCall{{
			ID:   "2",
			Name: "execute_tool",
			Arguments: toolCallArgs(t, map[string]any{
				"tool_name": ToolRespondToUser,
				"arguments": map[string]any{"message": "done"},
			}),
		}}},
	}}
	o, _ := newTestOrchestrator(t, llm)

	state := &models.ConversationState{SessionID: "s1"}
	events := o.Run(context.Background(), state, "list tools then respond", models.ExecContext{SessionID: "s1"})
	all := drain(t, events)

	last := all[len(all)-1]
	require.True(t, last.Done)
	require.Equal(t, "done", last.Text)
	require.Equal(t, 2, llm.calls)
}
