// Package tools defines the tools available to the model during an
// analysis run: the descriptor union, the per-run registry, and the
// executor that dispatches model-chosen invocations.
package tools

import (
	"context"

	"github.com/dealsense/dealsense/internal/llm"
)

// FinishToolName is the sentinel tool the model calls when it has
// gathered enough context to produce its final answer.
const FinishToolName = "finish_analysis"

// Kind is the closed set of tool variants. Dispatch switches on Kind
// rather than inspecting name prefixes.
type Kind int

const (
	// KindCore is an in-process tool with a direct handler.
	KindCore Kind = iota
	// KindCRM is a tool served by the CRM hub; the descriptor carries
	// the hyphenated wire name the hub expects.
	KindCRM
	// KindFinish is the completion sentinel. It performs no external
	// call; its invocation signals the loop to conclude.
	KindFinish
)

// Handler executes a core tool and returns a JSON-serializable result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool describes one callable capability. Exactly one of Handler
// (KindCore) or WireName (KindCRM) is meaningful; KindFinish uses
// neither.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	Kind     Kind
	Handler  Handler
	WireName string
}

// Spec converts the tool to its model-facing description.
func (t *Tool) Spec() llm.ToolSpec {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: params,
	}
}
