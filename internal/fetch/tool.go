package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ToolHandler adapts the Fetcher to the agent tool signature. The
// payload keeps only the fields the model acts on during account
// research: the page title, the extracted text, and whether the text
// was cut short.
func ToolHandler(f *Fetcher) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		url, _ := args["url"].(string)
		if strings.TrimSpace(url) == "" {
			return "", fmt.Errorf("web_fetch: url is required")
		}

		maxChars := 0
		if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
			maxChars = int(mc)
		}

		res, err := f.Fetch(ctx, url, maxChars)
		if err != nil {
			return "", err
		}

		payload := map[string]any{
			"url":     res.URL,
			"title":   res.Title,
			"content": res.Content,
			"status":  res.StatusCode,
		}
		if res.Truncated {
			payload["truncated"] = true
			payload["note"] = fmt.Sprintf("content cut at %d characters; refetch with a higher max_chars for the full page", res.Length)
		}

		out, err := json.Marshal(payload)
		if err != nil {
			// Plain text is still usable by the model.
			return fmt.Sprintf("Title: %s\n\n%s", res.Title, res.Content), nil
		}
		return string(out), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_fetch
// tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Page to read for account research: the prospect's website, a press release, a pricing page, or a news article about the company.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum characters of extracted text to return (default %d).", DefaultMaxChars),
			},
		},
		"required": []string{"url"},
	}
}
