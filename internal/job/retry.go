package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/llm"
)

// Retry policy for rate-limited runs. Waits double each attempt:
// 30s, 60s, 120s.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 30 * time.Second
)

// RetryRunner wraps a Runner with retry on rate-limit failures. Other
// failures pass through untouched. A retry replays the whole job; any
// tool side effects from the failed attempt happen again.
type RetryRunner struct {
	runner     *Runner
	store      *Store
	maxRetries int
	base       time.Duration
	bus        *events.Bus
	logger     *slog.Logger

	// sleep waits for the backoff period. Tests substitute it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryRunner wraps runner with the default retry policy.
func NewRetryRunner(runner *Runner, store *Store, bus *events.Bus, logger *slog.Logger) *RetryRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryRunner{
		runner:     runner,
		store:      store,
		maxRetries: DefaultMaxRetries,
		base:       DefaultBackoffBase,
		bus:        bus,
		logger:     logger.With("component", "retry"),
		sleep:      sleepCtx,
	}
}

// Run executes the job, retrying rate-limited attempts. By the time it
// returns the job is terminal in the store, except when shutdown
// interrupts a backoff wait: the job is then still pending and a
// restart can pick it up.
func (r *RetryRunner) Run(ctx context.Context, jobID string) {
	for attempt := 0; ; attempt++ {
		err := r.runner.Run(ctx, jobID)
		if err == nil || !IsRetryable(err) {
			return
		}

		if attempt >= r.maxRetries {
			r.exhausted(jobID, attempt+1, err)
			return
		}

		wait := r.base << attempt
		r.logger.Warn("rate limited, backing off",
			"job_id", jobID, "attempt", attempt+1, "wait", wait, "error", err)

		if logErr := r.noteRetry(jobID, attempt+1, wait); logErr != nil {
			r.logger.Warn("retry log entry failed", "job_id", jobID, "error", logErr)
		}

		r.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceRetry,
			Kind:      events.KindRetryWait,
			Data:      map[string]any{"job_id": jobID, "attempt": attempt + 1, "wait_seconds": int(wait.Seconds())},
		})

		if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
			r.logger.Warn("backoff interrupted", "job_id", jobID, "error", sleepErr)
			return
		}
	}
}

// noteRetry records the scheduled wait in the job log. The runner has
// already returned the job to pending; between attempts its visible
// state is pending with this entry explaining the delay.
func (r *RetryRunner) noteRetry(jobID string, attempt int, wait time.Duration) error {
	return r.store.AppendLog(jobID, LogEntry{
		Step:      "retry",
		Message:   fmt.Sprintf("Rate limited, retrying in %s (attempt %d/%d)", wait, attempt, r.maxRetries),
		Status:    events.StatusWarning,
		Timestamp: time.Now().UTC(),
	})
}

// exhausted force-finalizes the job after the last permitted attempt.
// This is the only place a rate-limit failure becomes a terminal error.
func (r *RetryRunner) exhausted(jobID string, attempts int, lastErr error) {
	j, err := r.store.Get(jobID)
	if err != nil {
		r.logger.Error("cannot load job to finalize retries", "job_id", jobID, "error", err)
		return
	}
	now := time.Now().UTC()
	j.Status = StatusError
	j.Error = fmt.Sprintf("analysis failed after %d attempts due to rate limiting: %v", attempts, lastErr)
	j.CompletedAt = &now
	if err := r.store.Save(j); err != nil {
		r.logger.Error("failed to finalize retried job", "job_id", jobID, "error", err)
	}
}

// IsRetryable classifies an error as a rate-limit or capacity failure
// worth retrying. HTTP 429 is authoritative; otherwise known provider
// message signatures are matched.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range []string{"rate limit", "429", "overloaded", "too many requests", "capacity"} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
