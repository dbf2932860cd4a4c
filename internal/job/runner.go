package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dealsense/dealsense/internal/agent"
	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/hub"
	"github.com/dealsense/dealsense/internal/profile"
	"github.com/dealsense/dealsense/internal/tools"
)

// ErrCancelled is raised by the progress callback when the job's
// cancellation flag has been set. It unwinds the loop cooperatively.
var ErrCancelled = errors.New("job cancelled")

// Runner drives one job from pending to a terminal state. No path out
// of Run leaves the job in running: the record ends terminal, or — for
// a rate-limited attempt — back in pending so the retry wrapper can
// schedule another run. Error is written once, and only by whoever
// gives up: this runner for non-retryable failures, the retry wrapper
// on exhaustion.
type Runner struct {
	store    *Store
	loop     *agent.Loop
	hub      *hub.Client
	builder  *tools.Builder
	profiles profile.Provider
	bus      *events.Bus
	logger   *slog.Logger
}

// NewRunner assembles a runner from its collaborators.
func NewRunner(store *Store, loop *agent.Loop, hubClient *hub.Client, builder *tools.Builder, profiles profile.Provider, bus *events.Bus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if profiles == nil {
		profiles = profile.Static{}
	}
	return &Runner{
		store:    store,
		loop:     loop,
		hub:      hubClient,
		builder:  builder,
		profiles: profiles,
		bus:      bus,
		logger:   logger.With("component", "runner"),
	}
}

// Run executes the job. A non-nil return carries the underlying error
// so the retry wrapper can classify it; by then the record is either
// terminal (non-retryable failure, exhaustion) or reset to pending
// (retryable failure awaiting another attempt). It is never left
// running.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	logger := r.logger.With("job_id", jobID)

	j, err := r.store.Get(jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if j.Status.Terminal() {
		logger.Warn("job already terminal, skipping", "status", j.Status)
		return nil
	}
	if j.CancelRequested {
		r.finalize(j, StatusCancelled, "")
		return nil
	}

	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	if err := r.store.Save(j); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceRunner,
		Kind:      events.KindJobStart,
		Data:      map[string]any{"job_id": j.ID, "entity_type": j.EntityType, "entity_id": j.EntityID},
	})

	progress := r.progressFunc(j.ID)

	if err := progress("start", fmt.Sprintf("Analyzing %s %q", j.EntityType, j.EntityName), events.StatusInfo, nil); err != nil {
		r.finalize(j, StatusCancelled, "")
		return nil
	}

	snapshot := r.fetchSnapshot(ctx, j, progress, logger)

	prof := r.profiles.Profile(j.EntityType)

	registry, err := r.builder.Build(ctx, j.ID, progress)
	if err != nil {
		r.finalize(j, StatusCancelled, "")
		return nil
	}
	executor := tools.NewExecutor(registry, r.hub, r.bus, logger, j.ID, progress)

	res, runErr := r.loop.Run(ctx, agent.Request{
		JobID:         j.ID,
		EntityType:    j.EntityType,
		EntityName:    j.EntityName,
		Snapshot:      snapshot,
		SystemPrompt:  prof.SystemPrompt,
		MaxIterations: prof.MaxIterations,
		Registry:      registry,
		Executor:      executor,
		Progress:      progress,
	})
	j.Stats = Stats{Iterations: res.Iterations, ToolCalls: res.ToolCalls}

	switch {
	case runErr == nil:
		j.Result = &Result{Intelligence: res.Intelligence}
		r.finalize(j, StatusComplete, "")
		r.detectChanges(j, logger)
		return nil
	case errors.Is(runErr, ErrCancelled):
		logger.Info("job cancelled", "iterations", res.Iterations)
		r.finalize(j, StatusCancelled, "")
		return nil
	case errors.Is(runErr, agent.ErrExhausted):
		r.finalize(j, StatusError, runErr.Error())
		return runErr
	case IsRetryable(runErr):
		r.suspend(j, runErr, logger)
		return runErr
	default:
		r.finalize(j, StatusError, runErr.Error())
		return runErr
	}
}

// suspend returns a rate-limited job to pending for the retry wrapper.
// The attempt's error is not recorded on the job: error is reserved
// for the point where retrying stops.
func (r *Runner) suspend(j *Job, runErr error, logger *slog.Logger) {
	logger.Warn("attempt rate limited, returning job to pending", "error", runErr)
	j.Status = StatusPending
	j.Error = ""
	j.CompletedAt = nil
	if err := r.store.Save(j); err != nil {
		logger.Error("failed to return job to pending", "error", err)
	}
}

// progressFunc builds the callback handed to the loop and executor:
// reload the cancellation flag, raise if set, append the log entry.
func (r *Runner) progressFunc(jobID string) events.ProgressFunc {
	return func(step, message, status string, data map[string]any) error {
		cancelled, err := r.store.CancelRequested(jobID)
		if err != nil {
			r.logger.Warn("cancel check failed", "job_id", jobID, "error", err)
		} else if cancelled {
			return ErrCancelled
		}
		if err := r.store.AppendLog(jobID, LogEntry{
			Step:      step,
			Message:   message,
			Status:    status,
			Data:      data,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			r.logger.Warn("log append failed", "job_id", jobID, "step", step, "error", err)
		}
		return nil
	}
}

// fetchSnapshot resolves the entity's current CRM state. A failed
// fetch degrades to a minimal identity snapshot rather than failing
// the run; the model is told about the gap.
func (r *Runner) fetchSnapshot(ctx context.Context, j *Job, progress events.ProgressFunc, logger *slog.Logger) string {
	snapshot, err := r.hub.FetchEntity(ctx, j.EntityType, j.EntityID)
	if err != nil {
		logger.Warn("entity snapshot fetch failed", "error", err)
		_ = progress("snapshot", "CRM snapshot unavailable, proceeding with identity only", events.StatusWarning, map[string]any{"error": err.Error()})
		fallback, _ := json.Marshal(map[string]string{
			"id":   j.EntityID,
			"name": j.EntityName,
			"note": "live CRM snapshot unavailable at analysis start",
		})
		return string(fallback)
	}
	_ = progress("snapshot", "Fetched current CRM state", events.StatusSuccess, nil)
	return snapshot
}

// finalize stamps a terminal status. Persistence failures are logged;
// there is nothing better to do with them at this point.
func (r *Runner) finalize(j *Job, status Status, errMsg string) {
	now := time.Now().UTC()
	j.Status = status
	j.Error = errMsg
	j.CompletedAt = &now

	if err := r.store.Save(j); err != nil {
		r.logger.Error("failed to persist terminal status", "job_id", j.ID, "status", status, "error", err)
	}

	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceRunner,
		Kind:      events.KindJobDone,
		Data: map[string]any{
			"job_id":      j.ID,
			"status":      string(status),
			"iterations":  j.Stats.Iterations,
			"tool_calls":  j.Stats.ToolCalls,
			"duration_ms": j.Duration().Milliseconds(),
		},
	})
}

// detectChanges compares against the previous completed run. Strictly
// best effort: a completed job stays completed whatever happens here.
func (r *Runner) detectChanges(j *Job, logger *slog.Logger) {
	if j.PreviousJobID == "" || j.Result == nil {
		return
	}
	prev, err := r.store.Get(j.PreviousJobID)
	if err != nil {
		logger.Warn("change detection: previous job unavailable", "previous_job_id", j.PreviousJobID, "error", err)
		return
	}
	if prev.Result == nil {
		return
	}
	change := Detect(j.Result.Intelligence, prev.Result.Intelligence)
	if change == nil {
		return
	}
	j.Change = change
	if err := r.store.Save(j); err != nil {
		logger.Warn("change detection: save failed", "error", err)
	}
}
