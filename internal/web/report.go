package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/dealsense/dealsense/internal/job"
)

// handleReport renders a completed job's result as an HTML page. The
// markdown is built from the structured result and converted with
// goldmark.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.Get(chi.URLParam(r, "jobID"))
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if j.Status != job.StatusComplete || j.Result == nil || j.Result.Intelligence == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, no report available", j.Status))
		return
	}

	md := reportMarkdown(j)
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		s.logger.Error("report render failed", "job_id", j.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, reportShell, j.EntityName, body.String())
}

const reportShell = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Analysis: %s</title>
<style>body{font-family:sans-serif;max-width:56rem;margin:2rem auto;padding:0 1rem;line-height:1.5}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3rem .6rem;text-align:left}</style>
</head>
<body>%s</body>
</html>
`

// reportMarkdown lays the structured result out as markdown.
func reportMarkdown(j *job.Job) string {
	res := j.Result.Intelligence
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s analysis: %s\n\n", titleCase(j.EntityType), j.EntityName)
	fmt.Fprintf(&sb, "**Health score: %.1f / 10**\n\n", res.HealthScore)
	if res.ParseError {
		sb.WriteString("> The model's final answer could not be parsed; the raw text is shown below.\n\n")
	}
	if j.Change != nil {
		fmt.Fprintf(&sb, "*%s*\n\n", j.Change.Summary)
	}

	section(&sb, "Insights", res.Insights)
	section(&sb, "Risk factors", res.RiskFactors)
	section(&sb, "Opportunity signals", res.OpportunitySignals)
	section(&sb, "Recommended actions", res.RecommendedActions)

	if len(res.Stakeholders) > 0 {
		sb.WriteString("## Stakeholders\n\n")
		sb.WriteString("| Name | Title | Role | Influence | Engagement | Sentiment |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")
		for _, st := range res.Stakeholders {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
				st.Name, st.Title, st.DecisionRole, st.Influence, st.EngagementLevel, st.Sentiment)
		}
		sb.WriteString("\n")
		for _, st := range res.Stakeholders {
			if st.Notes != "" {
				fmt.Fprintf(&sb, "- **%s**: %s\n", st.Name, st.Notes)
			}
		}
		sb.WriteString("\n")
	}

	if len(res.Timeline) > 0 {
		sb.WriteString("## Timeline\n\n")
		for _, ev := range res.Timeline {
			fmt.Fprintf(&sb, "- **%s** — %s", ev.Date, ev.Event)
			if ev.Significance != "" {
				fmt.Fprintf(&sb, " _(%s)_", ev.Significance)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if res.ParseError && res.RawText != "" {
		sb.WriteString("## Raw model output\n\n```\n" + res.RawText + "\n```\n\n")
	}

	fmt.Fprintf(&sb, "---\n\n%d iterations, %d tool calls, %s.\n",
		j.Stats.Iterations, j.Stats.ToolCalls, j.Duration().Round(time.Second))
	return sb.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func section(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
	sb.WriteString("\n")
}
