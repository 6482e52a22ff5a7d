package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/internal/fabric/compact"
	"github.com/dbusmcp/opctl/pkg/models"
)

// Phase names mirror internal/agent/loop.go's AgenticLoop phase machine
// (PhaseInit -> PhaseStream -> PhaseExecuteTools -> PhaseContinue ->
// PhaseComplete), generalized here to a non-streaming, forced-tool turn
// loop: PhaseStream covers one blocking model round-trip rather than an
// incremental token stream.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseStream       Phase = "stream"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseContinue     Phase = "continue"
	PhaseComplete     Phase = "complete"
)

const (
	// DefaultMaxTurns is the fixed small constant from spec.md §4.4 step 6:
	// the orchestration cap after which tool_choice is forced to none so
	// the model is made to produce text.
	DefaultMaxTurns = 6

	// DefaultTurnWallClock is the per-turn wall-clock cap from spec.md
	// §4.4 step 2.
	DefaultTurnWallClock = 60 * time.Second

	// DefaultHeartbeatInterval is the heartbeat cadence while waiting on
	// the model, from spec.md §4.4 step 2.
	DefaultHeartbeatInterval = 10 * time.Second
)

// Config holds the orchestrator's turn-loop limits.
type Config struct {
	MaxTurns          int
	TurnWallClock     time.Duration
	HeartbeatInterval time.Duration
	Model             string
	System            string
}

// DefaultConfig returns spec.md §4.4's defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:          DefaultMaxTurns,
		TurnWallClock:     DefaultTurnWallClock,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

func (c Config) sanitized() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.TurnWallClock <= 0 {
		c.TurnWallClock = DefaultTurnWallClock
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// TurnEvent is one item in the orchestrator's event stream, mirroring
// internal/agent's ResponseChunk shape: a struct with mostly-nil fields
// where the caller switches on which one is populated.
type TurnEvent struct {
	Phase              Phase                     `json:"phase"`
	Heartbeat          bool                      `json:"heartbeat,omitempty"`
	Turn               int                       `json:"turn,omitempty"`
	ToolCall           *models.ToolCall          `json:"tool_call,omitempty"`
	ToolResult         json.RawMessage           `json:"tool_result,omitempty"`
	HallucinationCheck *models.HallucinationCheck `json:"hallucination_check,omitempty"`
	Text               string                    `json:"text,omitempty"`
	Done               bool                      `json:"done,omitempty"`
	Error              error                     `json:"-"`
}

// Orchestrator drives a single user turn through one or more forced-tool
// model round-trips against the compact-mode meta-tool surface.
type Orchestrator struct {
	llm      LLMClient
	meta     *compact.MetaTools
	registry *fabric.Registry
	config   Config
	logger   *slog.Logger
}

// New builds an Orchestrator. meta and registry must share the same
// underlying Registry — meta.ExecuteTool dispatches into it.
func New(llm LLMClient, meta *compact.MetaTools, registry *fabric.Registry, config Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:      llm,
		meta:     meta,
		registry: registry,
		config:   config.sanitized(),
		logger:   logger,
	}
}

// ErrTurnLimitExceeded is returned when the orchestration cap is reached
// without the model ever producing a final response.
var ErrTurnLimitExceeded = fmt.Errorf("orchestrator: turn limit exceeded without a final response")

// Run drives state through the forced-tool turn loop for one user
// message, streaming TurnEvents as it goes. The channel is closed when
// the turn loop ends, successfully or not — mirroring
// internal/agent/loop.go's Run contract.
func (o *Orchestrator) Run(ctx context.Context, state *models.ConversationState, userMessage string, execCtx models.ExecContext) <-chan *TurnEvent {
	events := make(chan *TurnEvent, 16)

	go func() {
		defer close(events)

		state.Turn = models.TurnBookkeeping{}
		state.Messages = append(state.Messages, models.CompletionMessage{
			Role:    models.RoleUser,
			Content: userMessage,
		})

		events <- &TurnEvent{Phase: PhaseInit}

		for turn := 0; turn < o.config.MaxTurns; turn++ {
			final := turn == o.config.MaxTurns-1
			choice := ToolChoiceRequired
			if final {
				choice = ToolChoiceNone
			}

			resp, err := o.runOneTurn(ctx, state, choice, events, turn)
			if err != nil {
				events <- &TurnEvent{Phase: PhaseStream, Turn: turn, Error: err}
				return
			}

			check, toolCalls := o.verify(resp, choice, state)
			events <- &TurnEvent{Phase: PhaseStream, Turn: turn, HallucinationCheck: &check}
			if check.HasCriticalIssue() {
				events <- &TurnEvent{
					Phase: PhaseComplete,
					Turn:  turn,
					Text:  surrogateResponse(check),
					Done:  true,
				}
				return
			}

			events <- &TurnEvent{Phase: PhaseExecuteTools, Turn: turn}
			responseText, terminal, err := o.executeCalls(execCtx, state, toolCalls, events, turn)
			if err != nil {
				events <- &TurnEvent{Phase: PhaseExecuteTools, Turn: turn, Error: err}
				return
			}

			if terminal {
				events <- &TurnEvent{Phase: PhaseComplete, Turn: turn, Text: responseText, Done: true}
				return
			}

			if final && resp.Text != "" && len(toolCalls) == 0 {
				events <- &TurnEvent{Phase: PhaseComplete, Turn: turn, Text: resp.Text, Done: true}
				return
			}

			events <- &TurnEvent{Phase: PhaseContinue, Turn: turn}
		}

		events <- &TurnEvent{Phase: PhaseComplete, Error: ErrTurnLimitExceeded, Done: true}
	}()

	return events
}

// runOneTurn sends one chat completion request and emits heartbeat
// events at HeartbeatInterval while waiting, per spec.md §4.4 step 2.
func (o *Orchestrator) runOneTurn(ctx context.Context, state *models.ConversationState, choice ToolChoice, events chan<- *TurnEvent, turn int) (*CompletionResponse, error) {
	turnCtx, cancel := context.WithTimeout(ctx, o.config.TurnWallClock)
	defer cancel()

	type result struct {
		resp *CompletionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := o.llm.Complete(turnCtx, CompletionRequest{
			Model:      o.config.Model,
			System:     o.config.System,
			Messages:   state.Messages,
			Tools:      o.meta.Definitions(),
			ToolChoice: choice,
		})
		done <- result{resp, err}
	}()

	ticker := time.NewTicker(o.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			return r.resp, r.err
		case <-ticker.C:
			events <- &TurnEvent{Phase: PhaseStream, Turn: turn, Heartbeat: true}
		case <-turnCtx.Done():
			return nil, fmt.Errorf("orchestrator: turn %d wall-clock exceeded: %w", turn, turnCtx.Err())
		}
	}
}

// parsedCall is one call resolved from either the structured tool_calls
// field or an inline <tool_call> block.
type parsedCall struct {
	call    models.ToolCall
	inline  bool
}

// verify builds the turn's HallucinationCheck and returns the calls to
// execute, per spec.md §4.4 steps 3-4 and the verification paragraph.
func (o *Orchestrator) verify(resp *CompletionResponse, choice ToolChoice, state *models.ConversationState) (models.HallucinationCheck, []parsedCall) {
	var calls []parsedCall
	for _, c := range resp.ToolCalls {
		calls = append(calls, parsedCall{call: c})
	}

	var forbidden []models.ForbiddenDetection
	if len(resp.ToolCalls) == 0 && resp.Text != "" {
		for _, c := range ParseInlineToolCalls(resp.Text) {
			calls = append(calls, parsedCall{call: c, inline: true})
		}
		forbidden = DetectForbiddenCommands(resp.Text)
	}
	if resp.Text != "" {
		state.Turn.ResponseChunks = append(state.Turn.ResponseChunks, resp.Text)
	}
	state.Turn.ForbiddenDetections = append(state.Turn.ForbiddenDetections, forbidden...)

	var issues []models.HallucinationIssue
	for _, d := range forbidden {
		issues = append(issues, models.HallucinationIssue{
			Kind:   models.IssueForbiddenCommandSuggestion,
			Detail: fmt.Sprintf("forbidden CLI token %q in response", d.Token),
		})
	}

	rawText := choice == ToolChoiceRequired && len(calls) == 0 && resp.Text != ""
	if rawText {
		issues = append(issues, models.HallucinationIssue{
			Kind:   models.IssueRawTextOutput,
			Detail: "model emitted prose while tool_choice=required",
		})
	}

	knownTools := toolNames(o.meta.Definitions())
	unexecuted := DetectUnexecutedClaims(resp.Text, knownTools, state.Turn.ExecutedTools)
	for _, name := range unexecuted {
		issues = append(issues, models.HallucinationIssue{
			Kind:   models.IssueUnexecutedClaim,
			Detail: fmt.Sprintf("response claims action %q was taken but it was not executed", name),
		})
	}

	return models.HallucinationCheck{
		Verified:         len(issues) == 0,
		Issues:           issues,
		ExecutedTools:    append([]string{}, state.Turn.ExecutedTools...),
		UnverifiedClaims: unexecuted,
	}, calls
}

func toolNames(defs []models.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// executeCalls dispatches each parsed call through the compact-mode
// meta-tools (per spec.md §4.4 step 4), appends a tool-role message per
// call to history, and returns the accumulated response-tool text and
// whether a terminal response tool fired.
func (o *Orchestrator) executeCalls(execCtx models.ExecContext, state *models.ConversationState, calls []parsedCall, events chan<- *TurnEvent, turn int) (string, bool, error) {
	var responseText string
	terminal := false

	stepCtx := execCtx
	stepCtx.WorkstackID = state.SessionID
	stepCtx.StepIndex = turn

	for _, pc := range calls {
		call := pc.call
		result, terminalName, err := o.dispatch(stepCtx, call)

		var content string
		if err != nil {
			content = fmt.Sprintf(`{"error": %q}`, err.Error())
		} else {
			content = string(result)
			state.Turn.ExecutedTools = append(state.Turn.ExecutedTools, call.Name)
		}

		state.Messages = append(state.Messages, models.CompletionMessage{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
		events <- &TurnEvent{Phase: PhaseExecuteTools, Turn: turn, ToolCall: &call, ToolResult: result}

		if err != nil {
			continue
		}

		if terminalName != "" {
			msg, parseErr := terminalMessage(result)
			if parseErr == nil {
				responseText = msg
			}
			terminal = true
		}
	}

	return responseText, terminal, nil
}

// dispatch resolves one call name against the compact-mode meta-tools.
// When the call is execute_tool and the resolved real tool is one of
// the terminal response tools, terminalName reports that name.
func (o *Orchestrator) dispatch(execCtx models.ExecContext, call models.ToolCall) (json.RawMessage, string, error) {
	switch call.Name {
	case "list_tools":
		var args compact.ListToolsArgs
		if err := unmarshalArgs(call.Arguments, &args); err != nil {
			return nil, "", err
		}
		out, _ := json.Marshal(o.meta.ListTools(args))
		return out, "", nil

	case "search_tools":
		var args compact.SearchToolsArgs
		if err := unmarshalArgs(call.Arguments, &args); err != nil {
			return nil, "", err
		}
		out, _ := json.Marshal(o.meta.SearchTools(args))
		return out, "", nil

	case "get_tool_schema":
		var args compact.GetToolSchemaArgs
		if err := unmarshalArgs(call.Arguments, &args); err != nil {
			return nil, "", err
		}
		out, _ := json.Marshal(o.meta.GetToolSchema(args))
		return out, "", nil

	case "execute_tool":
		var args compact.ExecuteToolArgs
		if err := unmarshalArgs(call.Arguments, &args); err != nil {
			return nil, "", err
		}
		result, err := o.meta.ExecuteTool(execCtx, args)
		if err != nil {
			return nil, "", err
		}
		if IsTerminalResponseTool(args.ToolName) {
			return result, args.ToolName, nil
		}
		return result, "", nil

	default:
		return nil, "", fmt.Errorf("orchestrator: %q is not part of the compact-mode tool surface", call.Name)
	}
}

func unmarshalArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("orchestrator: invalid tool arguments: %w", err)
	}
	return nil
}

// surrogateResponse is the safe, non-committal message returned to the
// user when a turn's HallucinationCheck flags a critical issue, per
// spec.md §4.4's verification paragraph.
func surrogateResponse(check models.HallucinationCheck) string {
	if len(check.Issues) == 0 {
		return "The last step could not be verified."
	}
	return fmt.Sprintf("I can't complete that step safely: %s. Please rephrase or try a narrower request.", check.Issues[0].Detail)
}
