package job

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job ID does not exist.
var ErrNotFound = errors.New("job not found")

// Store persists jobs and their append-only progress logs in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewStoreWithDB creates a job store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			status TEXT NOT NULL,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			result_json TEXT,
			error TEXT,
			iterations INTEGER NOT NULL DEFAULT 0,
			tool_calls INTEGER NOT NULL DEFAULT 0,
			change_json TEXT,
			previous_job_id TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_entity ON jobs(entity_type, entity_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

		CREATE TABLE IF NOT EXISTS job_logs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			step TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL,
			data_json TEXT,
			ts TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, seq);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new pending job, assigning its ID and creation time.
func (s *Store) Create(j *Job) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	j.ID = id.String()
	j.Status = StatusPending
	j.CreatedAt = time.Now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO jobs (id, entity_type, entity_id, entity_name, status, previous_job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.EntityType, j.EntityID, j.EntityName, j.Status, j.PreviousJobID,
		j.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get retrieves a job with its full log.
func (s *Store) Get(id string) (*Job, error) {
	j, err := s.scanJob(s.db.QueryRow(`
		SELECT id, entity_type, entity_id, entity_name, status, cancel_requested,
		       result_json, error, iterations, tool_calls, change_json,
		       previous_job_id, created_at, started_at, completed_at
		FROM jobs WHERE id = ?
	`, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT step, message, status, data_json, ts
		FROM job_logs WHERE job_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry LogEntry
		var dataJSON sql.NullString
		var ts string
		if err := rows.Scan(&entry.Step, &entry.Message, &entry.Status, &dataJSON, &ts); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &entry.Data); err != nil {
				return nil, fmt.Errorf("unmarshal log data: %w", err)
			}
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		j.Log = append(j.Log, entry)
	}
	return j, rows.Err()
}

// List returns jobs for an entity, newest first. Empty entityType
// lists across all entities. Logs are not loaded.
func (s *Store) List(entityType, entityID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, entity_type, entity_id, entity_name, status, cancel_requested,
		       result_json, error, iterations, tool_calls, change_json,
		       previous_job_id, created_at, started_at, completed_at
		FROM jobs`
	args := []any{}
	if entityType != "" {
		query += ` WHERE entity_type = ? AND entity_id = ?`
		args = append(args, entityType, entityID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// LatestCompleted returns the entity's most recent complete job, or
// ErrNotFound when the entity has never completed a run.
func (s *Store) LatestCompleted(entityType, entityID string) (*Job, error) {
	return s.scanJob(s.db.QueryRow(`
		SELECT id, entity_type, entity_id, entity_name, status, cancel_requested,
		       result_json, error, iterations, tool_calls, change_json,
		       previous_job_id, created_at, started_at, completed_at
		FROM jobs
		WHERE entity_type = ? AND entity_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1
	`, entityType, entityID, StatusComplete))
}

// Save updates a job's mutable fields. The log is not touched; use
// AppendLog for that.
func (s *Store) Save(j *Job) error {
	resultJSON, err := marshalNullable(j.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	changeJSON, err := marshalNullable(j.Change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, result_json = ?, error = ?,
		       iterations = ?, tool_calls = ?, change_json = ?,
		       started_at = ?, completed_at = ?
		WHERE id = ?
	`, j.Status, resultJSON, j.Error, j.Stats.Iterations, j.Stats.ToolCalls,
		changeJSON, formatNullableTime(j.StartedAt), formatNullableTime(j.CompletedAt), j.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog adds one entry to the job's log. Entries are append-only.
func (s *Store) AppendLog(jobID string, entry LogEntry) error {
	var dataJSON sql.NullString
	if entry.Data != nil {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("marshal log data: %w", err)
		}
		dataJSON = sql.NullString{String: string(b), Valid: true}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO job_logs (job_id, step, message, status, data_json, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, jobID, entry.Step, entry.Message, entry.Status, dataJSON,
		entry.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// RequestCancel sets the cancellation flag. The runner observes it at
// its next progress write; a job that never starts stays flagged until
// the worker picks it up and finalizes it as cancelled.
func (s *Store) RequestCancel(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET cancel_requested = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelRequested reads just the cancellation flag, avoiding a full
// job load on the progress hot path.
func (s *Store) CancelRequested(id string) (bool, error) {
	var flag int
	err := s.db.QueryRow(`SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query cancel flag: %w", err)
	}
	return flag != 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanJob(row rowScanner) (*Job, error) {
	var j Job
	var cancelRequested int
	var resultJSON, errMsg, changeJSON, prevID, startedAt, completedAt sql.NullString
	var createdAt string

	err := row.Scan(&j.ID, &j.EntityType, &j.EntityID, &j.EntityName, &j.Status,
		&cancelRequested, &resultJSON, &errMsg, &j.Stats.Iterations, &j.Stats.ToolCalls,
		&changeJSON, &prevID, &createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.CancelRequested = cancelRequested != 0
	j.Error = errMsg.String
	j.PreviousJobID = prevID.String
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.StartedAt = parseNullableTime(startedAt)
	j.CompletedAt = parseNullableTime(completedAt)

	if resultJSON.Valid && resultJSON.String != "" {
		j.Result = &Result{}
		if err := json.Unmarshal([]byte(resultJSON.String), j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if changeJSON.Valid && changeJSON.String != "" {
		j.Change = &ChangeRecord{}
		if err := json.Unmarshal([]byte(changeJSON.String), j.Change); err != nil {
			return nil, fmt.Errorf("unmarshal change: %w", err)
		}
	}
	return &j, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case *Result:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *ChangeRecord:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
