// Package llm provides the language-model client used by the agent loop.
package llm

import (
	"fmt"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Stop reasons reported by the model.
const (
	// StopEndTurn means the model finished its answer naturally.
	StopEndTurn = "end_turn"
	// StopToolUse means the model is requesting tool execution.
	StopToolUse = "tool_use"
	// StopMaxTokens means the response was cut off at the token limit.
	StopMaxTokens = "max_tokens"
)

// Message represents one turn in the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool result turns
}

// ToolCall is a single tool-invocation request from the model. The ID is
// provider-assigned and must be echoed back on the matching tool result.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ChatResponse is the provider-neutral response from a model call.
// Wire format conversion happens at the provider boundary (anthropic.go).
type ChatResponse struct {
	Model      string
	Message    Message
	StopReason string

	InputTokens  int
	OutputTokens int
}

// APIError is a non-2xx response from the model API. The status code is
// preserved so callers can classify rate-limit failures for retry.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic API error %d: %s", e.StatusCode, e.Body)
}
