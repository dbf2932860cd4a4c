package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/hub"
)

// CRMCaller invokes a CRM tool by wire name. Satisfied by *hub.Client.
type CRMCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Executor dispatches model-chosen tool invocations for one run.
//
// Execute never surfaces a backend failure as an error: failures become
// {"success":false,"error":...} payloads the model sees as data and can
// adapt to. The only non-nil error Execute returns comes from the
// progress callback (cooperative cancellation), which must unwind the
// loop.
type Executor struct {
	registry *Registry
	crm      CRMCaller
	bus      *events.Bus
	logger   *slog.Logger
	jobID    string
	progress events.ProgressFunc
}

// NewExecutor creates an executor bound to one run.
func NewExecutor(registry *Registry, crm CRMCaller, bus *events.Bus, logger *slog.Logger, jobID string, progress events.ProgressFunc) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		crm:      crm,
		bus:      bus,
		logger:   logger.With("job_id", jobID),
		jobID:    jobID,
		progress: progress,
	}
}

// Execute runs the named tool with the given arguments and returns a
// JSON string. Every dispatch is timed; both outcomes produce a
// progress event carrying the tool name, input, duration, and result
// or error.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := e.registry.Get(name)
	if tool == nil {
		e.logger.Warn("unknown tool requested", "tool", name)
		payload := errorPayload(fmt.Sprintf("unknown tool: %s", name))
		if err := e.emit(name, args, payload, false, 0); err != nil {
			return "", err
		}
		return payload, nil
	}

	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTools,
		Kind:      events.KindToolCall,
		Data:      map[string]any{"job_id": e.jobID, "tool": name, "input": args},
	})

	start := time.Now()
	result, err := e.dispatch(ctx, tool, args)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Debug("tool failed", "tool", name, "duration", elapsed, "error", err)
		payload := errorPayload(err.Error())
		if emitErr := e.emit(name, args, payload, false, elapsed); emitErr != nil {
			return "", emitErr
		}
		return payload, nil
	}

	e.logger.Debug("tool succeeded", "tool", name, "duration", elapsed, "result_len", len(result))
	if emitErr := e.emit(name, args, result, true, elapsed); emitErr != nil {
		return "", emitErr
	}
	return result, nil
}

// dispatch routes by the tool's kind.
func (e *Executor) dispatch(ctx context.Context, tool *Tool, args map[string]any) (string, error) {
	switch tool.Kind {
	case KindFinish:
		// No external call; the invocation itself is the signal.
		return `{"acknowledged":true}`, nil
	case KindCore:
		return tool.Handler(ctx, args)
	case KindCRM:
		return e.crm.CallTool(ctx, tool.WireName, args)
	default:
		return "", fmt.Errorf("unhandled tool kind %d", tool.Kind)
	}
}

// emit publishes the tool_done event and writes the progress log entry.
func (e *Executor) emit(name string, args map[string]any, result string, ok bool, elapsed time.Duration) error {
	data := map[string]any{
		"job_id":      e.jobID,
		"tool":        name,
		"input":       args,
		"ok":          ok,
		"duration_ms": elapsed.Milliseconds(),
	}
	if ok {
		data["result"] = truncate(result, 2000)
	} else {
		data["error"] = result
	}

	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTools,
		Kind:      events.KindToolDone,
		Data:      data,
	})

	if e.progress == nil {
		return nil
	}
	status := events.StatusSuccess
	msg := fmt.Sprintf("Tool %s completed in %dms", name, elapsed.Milliseconds())
	if !ok {
		status = events.StatusError
		msg = fmt.Sprintf("Tool %s failed after %dms", name, elapsed.Milliseconds())
	}
	return e.progress("tool:"+name, msg, status, data)
}

// errorPayload builds the structured failure result fed back to the model.
func errorPayload(msg string) string {
	out, err := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
	})
	if err != nil {
		return `{"success":false,"error":"internal error"}`
	}
	return string(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Interface check: the hub client is the production CRM caller.
var _ CRMCaller = (*hub.Client)(nil)
