package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dealsense/dealsense/internal/atlas"
	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/fetch"
	"github.com/dealsense/dealsense/internal/hub"
	"github.com/dealsense/dealsense/internal/llm"
	"github.com/dealsense/dealsense/internal/search"
)

// Registry is the ordered, name-unique tool set for a single run.
type Registry struct {
	ordered []*Tool
	byName  map[string]*Tool

	// crmFallback records whether discovery failed and the static
	// fallback set was substituted.
	crmFallback bool
}

func newRegistry() *Registry {
	return &Registry{byName: make(map[string]*Tool)}
}

// add registers a tool, ignoring duplicates by name. First
// registration wins so core tools cannot be shadowed by discovery.
func (r *Registry) add(t *Tool) {
	if _, exists := r.byName[t.Name]; exists {
		return
	}
	r.byName[t.Name] = t
	r.ordered = append(r.ordered, t)
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.byName[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, t := range r.ordered {
		names = append(names, t.Name)
	}
	return names
}

// Specs returns the model-facing tool descriptions in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.ordered))
	for _, t := range r.ordered {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.ordered) }

// CRMFallback reports whether the static fallback CRM set is in use.
func (r *Registry) CRMFallback() bool { return r.crmFallback }

// Builder assembles a Registry for each run from the configured
// integrations. Optional integrations (web fetch, web search) are
// probed and dropped when unavailable rather than left to fail at
// call time.
type Builder struct {
	Atlas   *atlas.Client
	Fetcher *fetch.Fetcher  // optional
	Search  *search.Manager // optional
	Hub     *hub.Client

	// ExcludeCRMTools lists discovered wire names that are never
	// exposed to the model (destructive or irrelevant operations).
	ExcludeCRMTools []string

	Logger *slog.Logger
	Bus    *events.Bus
}

// discoveryTimeout bounds CRM tool discovery so a hung hub degrades to
// the fallback set instead of stalling the run.
const discoveryTimeout = 10 * time.Second

// Build assembles the tool set for one run and emits a tools_loaded
// progress event describing it.
func (b *Builder) Build(ctx context.Context, jobID string, progress events.ProgressFunc) (*Registry, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := newRegistry()

	// Core set. query_atlas is always present; the finish sentinel is
	// mandatory — without it the model has no way to signal completion.
	r.add(&Tool{
		Name:        "query_atlas",
		Description: "Search the internal sales knowledge base for deal history, playbooks, battle cards, and account notes. Input is a free-text query.",
		Parameters:  atlas.ToolDefinition(),
		Kind:        KindCore,
		Handler:     atlas.ToolHandler(b.Atlas),
	})

	if b.Fetcher != nil {
		if b.Fetcher.Available(ctx) {
			r.add(&Tool{
				Name:        "web_fetch",
				Description: "Fetch a web page and extract its readable text content. Useful for prospect websites, press releases, and documentation.",
				Parameters:  fetch.ToolDefinition(),
				Kind:        KindCore,
				Handler:     fetch.ToolHandler(b.Fetcher),
			})
		} else {
			logger.Warn("web_fetch unavailable, removing from tool set", "job_id", jobID)
		}
	}

	if b.Search != nil && b.Search.Configured() {
		r.add(&Tool{
			Name:        "web_search",
			Description: "Search the public web for recent news, funding announcements, and competitive signals about a company or contact.",
			Parameters:  search.ToolDefinition(),
			Kind:        KindCore,
			Handler:     search.ToolHandler(b.Search),
		})
	}

	r.add(&Tool{
		Name:        FinishToolName,
		Description: "Call this when you have gathered enough context and are ready to produce the final structured intelligence result. Do not call any other tool afterwards.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "One sentence on why the analysis is ready.",
				},
			},
		},
		Kind: KindFinish,
	})

	b.addCRMTools(ctx, r, jobID, logger)

	b.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTools,
		Kind:      events.KindToolsLoaded,
		Data: map[string]any{
			"job_id":       jobID,
			"count":        r.Len(),
			"names":        r.Names(),
			"crm_fallback": r.crmFallback,
		},
	})

	if progress != nil {
		msg := fmt.Sprintf("Loaded %d tools: %s", r.Len(), strings.Join(r.Names(), ", "))
		if err := progress("tools", msg, events.StatusInfo, map[string]any{
			"count":        r.Len(),
			"crm_fallback": r.crmFallback,
		}); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// addCRMTools discovers hub tools and registers them under the crm_
// namespace. Discovery failure substitutes the static fallback set so
// the run always has CRM capability.
func (b *Builder) addCRMTools(ctx context.Context, r *Registry, jobID string, logger *slog.Logger) {
	exclude := make(map[string]bool, len(b.ExcludeCRMTools))
	for _, name := range b.ExcludeCRMTools {
		exclude[name] = true
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	defs, err := b.Hub.ListTools(discoveryCtx)
	if err != nil {
		logger.Warn("CRM tool discovery failed, using fallback set",
			"job_id", jobID, "error", err)
		defs = hub.FallbackTools()
		r.crmFallback = true
	}

	for _, td := range defs {
		if exclude[td.Name] {
			continue
		}
		r.add(&Tool{
			Name:        hub.ToolName(td.Name),
			Description: td.Description,
			Parameters:  td.InputSchema,
			Kind:        KindCRM,
			WireName:    td.Name,
		})
	}
}
