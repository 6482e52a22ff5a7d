// This file implements the orchestrator's production LLMClient backed by
// the real Google Gen AI Go SDK, adapted from
// internal/agent/providers/google.go's GoogleProvider. Unlike that
// provider, GeminiClient.Complete is a single blocking round-trip rather
// than a streaming channel: the orchestrator needs the full reply before
// it can run its forbidden-command scan and hallucination check, so
// Complete calls the non-streaming GenerateContent endpoint.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dbusmcp/opctl/internal/backoff"
	"github.com/dbusmcp/opctl/pkg/models"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API (required).
	APIKey string

	// DefaultModel is used when a CompletionRequest leaves Model empty.
	// Default: "gemini-2.0-flash"
	DefaultModel string

	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff. Default: 1s.
	RetryDelay time.Duration
}

// GeminiClient implements LLMClient over the Gemini API.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewGeminiClient builds a GeminiClient, validating the API key and
// constructing the underlying SDK client the same way
// GoogleProvider.NewGoogleProvider does.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("orchestrator: gemini API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Complete issues one blocking round-trip to Gemini, retrying transient
// failures with exponential backoff, and collects the reply into a single
// CompletionResponse.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	contents := convertMessages(req.Messages)
	config := c.buildConfig(req)

	var resp *genai.GenerateContentResponse
	attempt := 0
	err := retryWithBackoff(ctx, c.maxRetries, c.retryDelay, isRetryableGeminiError, func() error {
		attempt++
		var callErr error
		resp, callErr = c.client.Models.GenerateContent(ctx, model, contents, config)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: gemini completion failed: %w", err)
	}

	return convertResponse(resp), nil
}

// buildConfig mirrors GoogleProvider.buildConfig, adding the ToolConfig
// translation the orchestrator needs to force or suppress tool use per
// turn — a distinction the chat runtime's single-shot provider never had
// to make since it always leaves tool use up to the model.
func (c *GeminiClient) buildConfig(req CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		config.Tools = convertToolDefinitions(req.Tools)
	}

	if mode, ok := toolChoiceMode(req.ToolChoice); ok {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	return config
}

// toolChoiceMode maps the orchestrator's provider-agnostic ToolChoice
// onto Gemini's FunctionCallingConfigMode. ToolChoiceAuto leaves the
// field unset (Gemini's own default behavior), so it reports ok=false.
func toolChoiceMode(choice ToolChoice) (genai.FunctionCallingConfigMode, bool) {
	switch choice {
	case ToolChoiceRequired:
		return genai.FunctionCallingConfigModeAny, true
	case ToolChoiceNone:
		return genai.FunctionCallingConfigModeNone, true
	default:
		return "", false
	}
}

// convertMessages maps models.CompletionMessage onto genai.Content the
// way GoogleProvider.convertMessages does, narrowed to the fields the
// orchestrator's message shape actually carries (no attachments — the
// orchestrator's turns are text and tool calls only).
func convertMessages(messages []models.CompletionMessage) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameForCallID(msg.ToolCallID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func toolNameForCallID(callID string, messages []models.CompletionMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	return ""
}

// convertToolDefinitions mirrors toolconv.ToGeminiTools, adapted to the
// registry's models.ToolDefinition (a flat name/description/JSON-schema
// triple) instead of the chat runtime's agent.Tool interface.
func convertToolDefinitions(defs []models.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.InputSchema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  convertSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema mirrors toolconv.ToGeminiSchema.
func convertSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = convertSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = convertSchema(items)
	}
	return schema
}

// convertResponse collects one genai.GenerateContentResponse into a
// single CompletionResponse, concatenating text parts and gathering
// every function call across every candidate part — the non-streaming
// counterpart to GoogleProvider.processStreamResponse's per-part
// dispatch onto a channel.
func convertResponse(resp *genai.GenerateContentResponse) *CompletionResponse {
	out := &CompletionResponse{}
	if resp == nil {
		return out
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				argsJSON, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					argsJSON = []byte("{}")
				}
				out.ToolCalls = append(out.ToolCalls, models.ToolCall{
					ID:        geminiToolCallID(part.FunctionCall.Name),
					Name:      part.FunctionCall.Name,
					Arguments: argsJSON,
				})
			}
		}
	}
	out.Text = text.String()
	return out
}

func geminiToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// retryWithBackoff calls op at most maxRetries times in total (the first
// attempt included), sleeping between attempts per an internal/backoff.BackoffPolicy derived from baseDelay.
// isRetryable decides whether a given failure is worth another attempt;
// a non-retryable error (or context cancellation) returns immediately.
func retryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, isRetryable func(error) bool, op func() error) error {
	policy := backoff.BackoffPolicy{
		InitialMs: float64(baseDelay.Milliseconds()),
		MaxMs:     float64(baseDelay.Milliseconds()) * float64(uint(1)<<uint(maxRetries)),
		Factor:    2,
		Jitter:    0.1,
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) || attempt >= maxRetries {
			return lastErr
		}
		if err := backoff.SleepWithBackoff(ctx, policy, attempt); err != nil {
			return err
		}
	}
	return lastErr
}

// isRetryableGeminiError mirrors GoogleProvider.isRetryableError's
// substring classification of transient failures.
func isRetryableGeminiError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "quota"):
		return true
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "gateway timeout"):
		return true
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return true
	default:
		return false
	}
}
