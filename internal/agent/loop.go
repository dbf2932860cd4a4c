// Package agent implements the bounded tool-calling loop at the core of
// every analysis run: call the model, execute whatever tools it
// requested, feed the results back, repeat until the model signals
// completion or the iteration cap is hit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/intel"
	"github.com/dealsense/dealsense/internal/llm"
	"github.com/dealsense/dealsense/internal/prompts"
	"github.com/dealsense/dealsense/internal/tools"
)

// ErrExhausted is returned when the loop hits its iteration cap before
// the model produced a final answer.
var ErrExhausted = errors.New("iteration limit reached without final result")

// Request carries everything one loop run needs. The caller (job
// runner) resolves the entity snapshot and profile before starting.
type Request struct {
	JobID      string
	EntityType string
	EntityName string
	Snapshot   string

	SystemPrompt  string
	MaxIterations int

	Registry *tools.Registry
	Executor *tools.Executor
	Progress events.ProgressFunc
}

// Result is the outcome of a loop run. On error the stats still
// reflect the work done up to the failure point.
type Result struct {
	Intelligence *intel.Intelligence
	Iterations   int
	ToolCalls    int
}

// Loop drives conversations against one model.
type Loop struct {
	client llm.Client
	model  string
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a loop bound to a model client.
func New(client llm.Client, model string, bus *events.Bus, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client: client,
		model:  model,
		bus:    bus,
		logger: logger.With("component", "agent"),
	}
}

// Run executes the loop to completion. The returned Result is non-nil
// even on error so callers can persist partial stats. A non-nil error
// is one of: ErrExhausted, a cancellation raised by the progress
// callback, or a model call failure.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	logger := l.logger.With("job_id", req.JobID)

	messages := []llm.Message{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: prompts.AnalysisRequest(req.EntityType, req.EntityName, req.Snapshot)},
	}
	specs := req.Registry.Specs()

	for res.Iterations < req.MaxIterations {
		res.Iterations++

		resp, err := l.call(ctx, req, messages, specs, res.Iterations)
		if err != nil {
			return res, err
		}

		if resp.Message.Content != "" {
			if err := l.reasoning(req, resp.Message.Content); err != nil {
				return res, err
			}
		}

		// No tool requests means the model considers itself done — or
		// got cut off mid-answer. The truncated case still produces a
		// result, but the degradation is surfaced before parsing.
		if len(resp.Message.ToolCalls) == 0 {
			if resp.StopReason == llm.StopMaxTokens {
				logger.Warn("answer truncated at token limit", "iteration", res.Iterations, "text_len", len(resp.Message.Content))
				if req.Progress != nil {
					if err := req.Progress("model", "Answer cut off at the token limit, treating as final", events.StatusWarning, nil); err != nil {
						return res, err
					}
				}
			} else {
				logger.Debug("model finished without finish tool", "stop_reason", resp.StopReason)
			}
			res.Intelligence = l.parse(req, resp.Message.Content)
			return res, nil
		}

		messages = append(messages, resp.Message)

		finish := false
		for _, call := range resp.Message.ToolCalls {
			if call.Name == tools.FinishToolName {
				finish = true
			} else {
				res.ToolCalls++
			}
			out, err := req.Executor.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				return res, err
			}
			// Every invocation gets a result turn, the finish sentinel
			// included, so tool_use ids always pair up on the wire.
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    out,
				ToolCallID: call.ID,
			})
		}

		if finish {
			return l.finalize(ctx, req, messages, specs, res)
		}
	}

	logger.Warn("iteration cap reached", "iterations", res.Iterations, "tool_calls", res.ToolCalls)
	return res, fmt.Errorf("%w after %d iterations", ErrExhausted, res.Iterations)
}

// finalize issues the dedicated JSON-only call after the finish tool
// fired and parses the answer. This call is outside the iteration
// budget: the model already committed to finishing.
func (l *Loop) finalize(ctx context.Context, req Request, messages []llm.Message, specs []llm.ToolSpec, res *Result) (*Result, error) {
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: prompts.FinalJSONRequest(req.EntityType),
	})

	if req.Progress != nil {
		if err := req.Progress("finalize", "Requesting final structured result", events.StatusInfo, nil); err != nil {
			return res, err
		}
	}

	resp, err := l.call(ctx, req, messages, specs, res.Iterations)
	if err != nil {
		return res, err
	}
	res.Intelligence = l.parse(req, resp.Message.Content)
	return res, nil
}

// call wraps one model invocation with its events and progress entry.
func (l *Loop) call(ctx context.Context, req Request, messages []llm.Message, specs []llm.ToolSpec, iteration int) (*llm.ChatResponse, error) {
	if req.Progress != nil {
		msg := fmt.Sprintf("Thinking (iteration %d/%d)", iteration, req.MaxIterations)
		if err := req.Progress("model", msg, events.StatusInfo, map[string]any{"iteration": iteration}); err != nil {
			return nil, err
		}
	}
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceLoop,
		Kind:      events.KindModelCall,
		Data:      map[string]any{"job_id": req.JobID, "iteration": iteration, "model": l.model},
	})

	start := time.Now()
	resp, err := l.client.Chat(ctx, l.model, messages, specs)
	if err != nil {
		l.logger.Error("model call failed", "job_id", req.JobID, "iteration", iteration, "error", err)
		return nil, fmt.Errorf("model call (iteration %d): %w", iteration, err)
	}

	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceLoop,
		Kind:      events.KindModelResponse,
		Data: map[string]any{
			"job_id":      req.JobID,
			"iteration":   iteration,
			"stop_reason": resp.StopReason,
			"tool_calls":  len(resp.Message.ToolCalls),
			"tokens_in":   resp.InputTokens,
			"tokens_out":  resp.OutputTokens,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
	return resp, nil
}

// reasoning surfaces the model's intermediate text as a progress entry.
func (l *Loop) reasoning(req Request, text string) error {
	if req.Progress == nil {
		return nil
	}
	return req.Progress("reasoning", clip(text, 300), events.StatusInfo, map[string]any{"text": text})
}

// parse coerces the final text and records a warning when it degraded.
func (l *Loop) parse(req Request, text string) *intel.Intelligence {
	result := intel.Parse(text)
	if result.ParseError {
		l.logger.Warn("final result not parseable, wrapping raw text",
			"job_id", req.JobID, "text_len", len(text))
		if req.Progress != nil {
			// Best effort; the run is already past its last tool call.
			_ = req.Progress("finalize", "Final answer was not valid JSON, keeping raw text", events.StatusWarning, nil)
		}
	}
	return result
}

// clip shortens s to at most n bytes, backing up to a rune boundary so
// the log message stays valid UTF-8.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
