// Package job owns the analysis job lifecycle: the persistent record,
// the runner that drives a job through the agent loop, the retry
// wrapper around rate-limit failures, and change detection against the
// entity's previous run.
package job

import (
	"time"

	"github.com/dealsense/dealsense/internal/intel"
)

// Entity types accepted for analysis.
const (
	EntityDeal    = "deal"
	EntityCompany = "company"
	EntityContact = "contact"
)

// ValidEntityType reports whether t is an analyzable entity type.
func ValidEntityType(t string) bool {
	return t == EntityDeal || t == EntityCompany || t == EntityContact
}

// Status is the lifecycle state of a job. pending and running are
// transient; complete, error, and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// LogEntry is one append-only progress record. Entries are never
// rewritten; the log is the audit trail of the run.
type LogEntry struct {
	Step      string         `json:"step"`
	Message   string         `json:"message"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// Stats counts the work a run performed. Persisted even for failed
// runs so operators can see how far a job got.
type Stats struct {
	Iterations int `json:"iterations"`
	ToolCalls  int `json:"toolCalls"`
}

// Result wraps the intelligence payload on a completed job.
type Result struct {
	Intelligence *intel.Intelligence `json:"intelligence"`
}

// ChangeRecord summarizes the differences between this run and the
// entity's previous completed run.
type ChangeRecord struct {
	Changed          bool     `json:"changed"`
	ScoreDelta       float64  `json:"scoreDelta"`
	NewInsights      []string `json:"newInsights,omitempty"`
	ResolvedInsights []string `json:"resolvedInsights,omitempty"`
	NewRisks         []string `json:"newRisks,omitempty"`
	ResolvedRisks    []string `json:"resolvedRisks,omitempty"`
	Summary          string   `json:"summary"`
}

// Job is one analysis request and its full lifecycle record.
type Job struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	EntityName string `json:"entityName"`

	Status Status `json:"status"`

	// CancelRequested is the externally-set cancellation flag. The
	// runner observes it at its next progress write and stops.
	CancelRequested bool `json:"cancelRequested,omitempty"`

	Log    []LogEntry    `json:"log,omitempty"`
	Result *Result       `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Stats  Stats         `json:"stats"`
	Change *ChangeRecord `json:"change,omitempty"`

	// PreviousJobID links to the entity's most recent completed job at
	// the time this one was created. Empty for first-ever runs.
	PreviousJobID string `json:"previousJobId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Duration returns the wall time from start to completion, or zero if
// the job has not run.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
