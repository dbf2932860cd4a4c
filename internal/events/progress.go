package events

// Log entry status tags used in ProgressFunc calls and job logs.
const (
	StatusInfo    = "info"
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

// ProgressFunc records one step of a job run. The job runner supplies an
// implementation that appends to the persisted job log. A non-nil return
// aborts the run — the runner returns ErrCancelled here when the job has
// been cancelled externally, which unwinds the agent loop.
type ProgressFunc func(step, message, status string, data map[string]any) error
