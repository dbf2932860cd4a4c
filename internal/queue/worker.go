package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dealsense/dealsense/internal/events"
)

// Source yields job IDs to process. Satisfied by *Queue; tests supply
// an in-memory implementation.
type Source interface {
	Pop(ctx context.Context) (string, error)
}

// Runner executes one job to a terminal state. Satisfied by
// *job.RetryRunner.
type Runner interface {
	Run(ctx context.Context, jobID string)
}

// errorPause is how long the worker sits out after a pop failure
// before trying again.
const errorPause = time.Second

// Worker consumes job IDs from a Source and runs them one at a time.
// Jobs for the same entity are thereby serialized per worker; there is
// no entity-level locking beyond that.
type Worker struct {
	source Source
	runner Runner
	bus    *events.Bus
	logger *slog.Logger
}

// NewWorker creates a worker over the given source and runner.
func NewWorker(source Source, runner Runner, bus *events.Bus, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		source: source,
		runner: runner,
		bus:    bus,
		logger: logger.With("component", "worker"),
	}
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		jobID, err := w.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Error("queue pop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorPause):
			}
			continue
		}
		if jobID == "" {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		w.logger.Info("dequeued job", "job_id", jobID)
		w.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceQueue,
			Kind:      events.KindDequeued,
			Data:      map[string]any{"job_id": jobID},
		})
		w.runner.Run(ctx, jobID)
	}
}
