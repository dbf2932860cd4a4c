package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic_SystemExtracted(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "You analyze deals."},
		{Role: "user", Content: "Analyze this deal"},
	}
	converted, system := convertToAnthropic(msgs)
	if system != "You analyze deals." {
		t.Errorf("system = %q", system)
	}
	if len(converted) != 1 || converted[0].Role != "user" {
		t.Errorf("converted = %+v", converted)
	}
}

func TestConvertToAnthropic_FoldsConsecutiveToolResults(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "go"},
		{Role: "assistant", Content: "checking", ToolCalls: []ToolCall{
			{ID: "tu_1", Name: "query_atlas", Arguments: map[string]any{"query": "a"}},
			{ID: "tu_2", Name: "crm_search_objects", Arguments: map[string]any{"query": "b"}},
		}},
		{Role: "tool", ToolCallID: "tu_1", Content: `{"count":2}`},
		{Role: "tool", ToolCallID: "tu_2", Content: `{"count":0}`},
		{Role: "user", Content: "continue"},
	}

	converted, _ := convertToAnthropic(msgs)
	if len(converted) != 4 {
		t.Fatalf("len = %d, want 4 (user, assistant, folded results, user)", len(converted))
	}

	assistant := converted[1]
	blocks, ok := assistant.Content.([]anthropicContent)
	if !ok {
		t.Fatalf("assistant content is %T", assistant.Content)
	}
	// text block plus two tool_use blocks, ids preserved.
	if len(blocks) != 3 || blocks[1].ID != "tu_1" || blocks[2].ID != "tu_2" {
		t.Errorf("assistant blocks = %+v", blocks)
	}

	folded := converted[2]
	if folded.Role != "user" {
		t.Errorf("folded role = %q", folded.Role)
	}
	results, ok := folded.Content.([]anthropicContent)
	if !ok {
		t.Fatalf("folded content is %T", folded.Content)
	}
	if len(results) != 2 {
		t.Fatalf("folded results = %d, want 2", len(results))
	}
	for i, wantID := range []string{"tu_1", "tu_2"} {
		if results[i].Type != "tool_result" || results[i].ToolUseID != wantID {
			t.Errorf("results[%d] = %+v, want tool_result for %s", i, results[i], wantID)
		}
	}
}

func TestConvertToAnthropic_GeneratesMissingToolUseID(t *testing.T) {
	msgs := []Message{
		{Role: "assistant", ToolCalls: []ToolCall{{Name: "query_atlas"}}},
	}
	converted, _ := convertToAnthropic(msgs)
	blocks := converted[0].Content.([]anthropicContent)
	if blocks[0].ID == "" {
		t.Error("tool_use block missing generated id")
	}
	if blocks[0].Input == nil {
		t.Error("nil arguments not defaulted to empty object")
	}
}

func TestConvertFromAnthropic_TextAndToolUse(t *testing.T) {
	resp := &anthropicResponse{
		Role:       "assistant",
		Model:      "claude-sonnet-4-20250514",
		StopReason: StopToolUse,
		Content: []anthropicContent{
			{Type: "text", Text: "Let me look. "},
			{Type: "text", Text: "One moment."},
			{Type: "tool_use", ID: "tu_9", Name: "query_atlas", Input: map[string]any{"query": "renewals"}},
		},
		Usage: anthropicUsage{InputTokens: 100, OutputTokens: 25},
	}

	out := convertFromAnthropic(resp)
	if out.Message.Content != "Let me look. One moment." {
		t.Errorf("Content = %q", out.Message.Content)
	}
	if len(out.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v", out.Message.ToolCalls)
	}
	tc := out.Message.ToolCalls[0]
	if tc.ID != "tu_9" || tc.Name != "query_atlas" || tc.Arguments["query"] != "renewals" {
		t.Errorf("ToolCall = %+v", tc)
	}
	if out.InputTokens != 100 || out.OutputTokens != 25 {
		t.Errorf("usage = %d/%d", out.InputTokens, out.OutputTokens)
	}
}

func TestChat_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.MaxTokens == 0 {
			t.Error("max_tokens not set")
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Role:       "assistant",
			Model:      req.Model,
			StopReason: StopEndTurn,
			Content:    []anthropicContent{{Type: "text", Text: "done"}},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", nil)
	client.SetAPIURL(srv.URL)

	resp, err := client.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "done" || resp.StopReason != StopEndTurn {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChat_APIErrorPreservesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"rate_limit_error"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", nil)
	client.SetAPIURL(srv.URL)

	_, err := client.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", apiErr.StatusCode)
	}
}
