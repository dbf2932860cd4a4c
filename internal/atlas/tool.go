package atlas

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature. It wraps the Client's Query method for use as an agent tool.
func ToolHandler(c *Client) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("query_atlas: query is required")
		}

		result, err := c.Query(ctx, query)
		if err != nil {
			return "", err
		}

		// Return JSON for structured consumption by the agent.
		out, err := json.Marshal(result)
		if err != nil {
			return fmt.Sprintf("Found %d results for %q", result.Count, query), nil
		}
		return string(out), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the query_atlas tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Free-text query against the sales knowledge base (deal history, playbooks, account notes).",
			},
		},
		"required": []string{"query"},
	}
}
