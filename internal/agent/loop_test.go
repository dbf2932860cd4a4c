package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/dealsense/dealsense/internal/atlas"
	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/hub"
	"github.com/dealsense/dealsense/internal/llm"
	"github.com/dealsense/dealsense/internal/tools"
)

// scriptedModel is a test double for llm.Client that replays canned
// responses and captures the messages of every call.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error
	calls     [][]llm.Message
}

func (m *scriptedModel) Chat(_ context.Context, _ string, messages []llm.Message, _ []llm.ToolSpec) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	m.calls = append(m.calls, snapshot)

	i := len(m.calls) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, fmt.Errorf("unexpected model call %d", i+1)
	}
	return m.responses[i], nil
}

func (m *scriptedModel) Ping(context.Context) error { return nil }

func assistantText(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:    llm.Message{Role: "assistant", Content: text},
		StopReason: llm.StopEndTurn,
	}
}

func assistantToolCall(text string, calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:    llm.Message{Role: "assistant", Content: text, ToolCalls: calls},
		StopReason: llm.StopToolUse,
	}
}

// newTestRegistry builds a registry backed by stub Atlas and hub
// servers: query_atlas, finish_analysis, and no discovered CRM tools.
func newTestRegistry(t *testing.T) (*tools.Registry, *tools.Executor) {
	t.Helper()

	atlasSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(atlas.QueryResult{
			Results: []atlas.Record{
				{Title: "Acme renewal 2025", Content: "closed at 48k"},
				{Title: "Globex renewal 2025", Content: "closed at 52k"},
			},
			Count: 2,
		})
	}))
	t.Cleanup(atlasSrv.Close)

	hubSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req hub.Request
		json.NewDecoder(r.Body).Decode(&req)
		result, _ := json.Marshal(map[string]any{"tools": []any{}})
		json.NewEncoder(w).Encode(hub.Response{JSONRPC: "2.0", ID: req.ID, Result: result})
	}))
	t.Cleanup(hubSrv.Close)

	hubClient := hub.NewClient(hubSrv.URL, nil, nil)
	builder := &tools.Builder{
		Atlas: atlas.NewClient(atlasSrv.URL, "", nil),
		Hub:   hubClient,
	}
	registry, err := builder.Build(context.Background(), "job-test", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	executor := tools.NewExecutor(registry, hubClient, nil, nil, "job-test", nil)
	return registry, executor
}

func newTestRequest(registry *tools.Registry, executor *tools.Executor) Request {
	return Request{
		JobID:         "job-test",
		EntityType:    "deal",
		EntityName:    "Acme renewal",
		Snapshot:      `{"id":"deal-1","amount":45000}`,
		SystemPrompt:  "You analyze deals.",
		MaxIterations: 10,
		Registry:      registry,
		Executor:      executor,
	}
}

func TestLoop_ResearchThenFinish(t *testing.T) {
	registry, executor := newTestRegistry(t)

	finalJSON := `{"healthScore": 7, "insights": ["two comparable renewals closed"], "riskFactors": [], "opportunitySignals": [], "recommendedActions": []}`
	model := &scriptedModel{
		responses: []*llm.ChatResponse{
			assistantToolCall("Checking comparable renewals.",
				llm.ToolCall{ID: "tu_1", Name: "query_atlas", Arguments: map[string]any{"query": "renewal deals over 40k"}}),
			assistantToolCall("",
				llm.ToolCall{ID: "tu_2", Name: tools.FinishToolName, Arguments: map[string]any{"reason": "enough context"}}),
			assistantText(finalJSON),
		},
	}

	loop := New(model, "test-model", nil, nil)
	res, err := loop.Run(context.Background(), newTestRequest(registry, executor))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
	if res.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", res.ToolCalls)
	}
	if res.Intelligence == nil || res.Intelligence.HealthScore != 7 {
		t.Fatalf("Intelligence = %+v, want healthScore 7", res.Intelligence)
	}
	if res.Intelligence.ParseError {
		t.Error("ParseError = true, want false")
	}

	// The final call must be the dedicated JSON-only request, and the
	// query_atlas result must have been fed back as a tool turn.
	if len(model.calls) != 3 {
		t.Fatalf("model calls = %d, want 3", len(model.calls))
	}
	last := model.calls[2][len(model.calls[2])-1]
	if last.Role != "user" || !strings.Contains(last.Content, "ONLY a JSON object") {
		t.Errorf("final turn = %+v, want JSON-only user request", last)
	}
	var sawResult bool
	for _, msg := range model.calls[1] {
		if msg.Role == "tool" && msg.ToolCallID == "tu_1" && strings.Contains(msg.Content, "Acme renewal 2025") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Error("query_atlas result never fed back to the model")
	}
}

func TestLoop_DirectAnswerWithoutTools(t *testing.T) {
	registry, executor := newTestRegistry(t)
	model := &scriptedModel{
		responses: []*llm.ChatResponse{
			assistantText(`{"healthScore": 3, "insights": [], "riskFactors": ["no contact in 60 days"], "opportunitySignals": [], "recommendedActions": []}`),
		},
	}

	loop := New(model, "test-model", nil, nil)
	res, err := loop.Run(context.Background(), newTestRequest(registry, executor))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
	if res.Intelligence.HealthScore != 3 {
		t.Errorf("HealthScore = %v, want 3", res.Intelligence.HealthScore)
	}
}

func TestLoop_IterationCap(t *testing.T) {
	registry, executor := newTestRegistry(t)

	// The model never finishes; every turn requests another query.
	var responses []*llm.ChatResponse
	for i := 0; i < 5; i++ {
		responses = append(responses, assistantToolCall("",
			llm.ToolCall{ID: fmt.Sprintf("tu_%d", i), Name: "query_atlas", Arguments: map[string]any{"query": "more"}}))
	}
	model := &scriptedModel{responses: responses}

	req := newTestRequest(registry, executor)
	req.MaxIterations = 3

	loop := New(model, "test-model", nil, nil)
	res, err := loop.Run(context.Background(), req)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", res.Iterations)
	}
	if res.ToolCalls != 3 {
		t.Errorf("ToolCalls = %d, want 3", res.ToolCalls)
	}
	if res.Intelligence != nil {
		t.Error("Intelligence should be nil on exhaustion")
	}
}

func TestLoop_ModelFailureKeepsPartialStats(t *testing.T) {
	registry, executor := newTestRegistry(t)
	model := &scriptedModel{
		responses: []*llm.ChatResponse{
			assistantToolCall("",
				llm.ToolCall{ID: "tu_1", Name: "query_atlas", Arguments: map[string]any{"query": "history"}}),
			nil,
		},
		errs: []error{nil, &llm.APIError{StatusCode: 429, Body: "rate limited"}},
	}

	loop := New(model, "test-model", nil, nil)
	res, err := loop.Run(context.Background(), newTestRequest(registry, executor))
	if err == nil {
		t.Fatal("Run succeeded, want model error")
	}
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 429 {
		t.Errorf("err = %v, want wrapped APIError 429", err)
	}
	if res.Iterations != 2 || res.ToolCalls != 1 {
		t.Errorf("stats = %d/%d, want 2/1", res.Iterations, res.ToolCalls)
	}
}

func TestLoop_UnparseableFinalAnswerDegrades(t *testing.T) {
	registry, executor := newTestRegistry(t)
	model := &scriptedModel{
		responses: []*llm.ChatResponse{
			assistantToolCall("",
				llm.ToolCall{ID: "tu_1", Name: tools.FinishToolName, Arguments: map[string]any{}}),
			assistantText("I believe the deal is in good shape overall."),
		},
	}

	loop := New(model, "test-model", nil, nil)
	res, err := loop.Run(context.Background(), newTestRequest(registry, executor))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Intelligence.ParseError {
		t.Fatal("ParseError = false, want true")
	}
	if res.Intelligence.RawText == "" {
		t.Error("RawText is empty, want preserved model text")
	}
}

func TestLoop_TruncatedAnswerSurfacedAsWarning(t *testing.T) {
	registry, executor := newTestRegistry(t)
	model := &scriptedModel{
		responses: []*llm.ChatResponse{
			{
				Message:    llm.Message{Role: "assistant", Content: `The deal looks healthy because usage has grown and the champi`},
				StopReason: llm.StopMaxTokens,
			},
		},
	}

	type progressEntry struct {
		step, message, status string
	}
	var entries []progressEntry
	req := newTestRequest(registry, executor)
	req.Progress = func(step, message, status string, data map[string]any) error {
		entries = append(entries, progressEntry{step, message, status})
		return nil
	}

	loop := New(model, "test-model", nil, nil)
	res, err := loop.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Intelligence == nil || !res.Intelligence.ParseError {
		t.Fatalf("Intelligence = %+v, want wrapped raw text", res.Intelligence)
	}

	var warned bool
	for _, e := range entries {
		if e.step == "model" && e.status == events.StatusWarning && strings.Contains(e.message, "token limit") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("no truncation warning in progress entries: %+v", entries)
	}
}

func TestClip_CutsAtRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 200) // 2 bytes per rune

	got := clip(s, 301) // lands mid-rune, must back up
	if !utf8.ValidString(got) {
		t.Errorf("clip produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("clip result missing ellipsis: %q", got)
	}

	if got := clip("short", 300); got != "short" {
		t.Errorf("clip(short) = %q, want unchanged", got)
	}
}

func TestLoop_ProgressCancellationUnwinds(t *testing.T) {
	registry, executor := newTestRegistry(t)
	model := &scriptedModel{
		responses: []*llm.ChatResponse{assistantText(`{"healthScore": 5}`)},
	}

	cancelErr := errors.New("cancelled by operator")
	req := newTestRequest(registry, executor)
	req.Progress = func(step, message, status string, data map[string]any) error {
		return cancelErr
	}

	loop := New(model, "test-model", nil, nil)
	_, err := loop.Run(context.Background(), req)
	if !errors.Is(err, cancelErr) {
		t.Fatalf("err = %v, want cancellation error", err)
	}
	if len(model.calls) != 0 {
		t.Errorf("model called %d times, want 0 (cancelled before first call)", len(model.calls))
	}
}
