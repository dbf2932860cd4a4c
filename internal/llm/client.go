package llm

import "context"

// Client is the interface the agent loop depends on. The production
// implementation is AnthropicClient; tests substitute fakes.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolSpec) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
