package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/intel"
	"github.com/dealsense/dealsense/internal/job"

	_ "github.com/mattn/go-sqlite3"
)

// fakeQueue records enqueued job IDs.
type fakeQueue struct {
	enqueued []string
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, jobID string) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func newTestServer(t *testing.T) (*Server, *job.Store, *fakeQueue) {
	t.Helper()
	store, err := job.NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := &fakeQueue{}
	return NewServer(store, q, events.New(), nil), store, q
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob_AcceptedAndEnqueued(t *testing.T) {
	s, store, q := newTestServer(t)
	router := s.Router()

	rec := postJSON(t, router, "/api/v1/jobs", map[string]string{
		"entityType": "deal",
		"entityId":   "deal-1",
		"entityName": "Acme renewal",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] == "" || resp["status"] != "pending" {
		t.Errorf("resp = %v", resp)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != resp["id"] {
		t.Errorf("enqueued = %v, want [%s]", q.enqueued, resp["id"])
	}

	j, err := store.Get(resp["id"])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %q", j.Status)
	}
}

func TestCreateJob_Validation(t *testing.T) {
	s, _, _ := newTestServer(t)
	router := s.Router()

	tests := []struct {
		name string
		body map[string]string
	}{
		{"bad entity type", map[string]string{"entityType": "invoice", "entityId": "x"}},
		{"missing entity id", map[string]string{"entityType": "deal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/api/v1/jobs", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateJob_LinksPreviousCompletedRun(t *testing.T) {
	s, store, _ := newTestServer(t)
	router := s.Router()

	prev := &job.Job{EntityType: "deal", EntityID: "deal-1", EntityName: "Acme"}
	if err := store.Create(prev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	prev.Status = job.StatusComplete
	if err := store.Save(prev); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := postJSON(t, router, "/api/v1/jobs", map[string]string{
		"entityType": "deal", "entityId": "deal-1", "entityName": "Acme",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)

	j, _ := store.Get(resp["id"])
	if j.PreviousJobID != prev.ID {
		t.Errorf("PreviousJobID = %q, want %q", j.PreviousJobID, prev.ID)
	}
}

func TestGetJob(t *testing.T) {
	s, store, _ := newTestServer(t)
	router := s.Router()

	j := &job.Job{EntityType: "company", EntityID: "co-1", EntityName: "Globex"}
	store.Create(j)
	store.AppendLog(j.ID, job.LogEntry{Step: "start", Message: "Analyzing", Status: "info"})

	rec := get(t, router, "/api/v1/jobs/"+j.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got job.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != j.ID || len(got.Log) != 1 {
		t.Errorf("got %+v", got)
	}

	if rec := get(t, router, "/api/v1/jobs/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	s, store, _ := newTestServer(t)
	router := s.Router()

	for _, id := range []string{"deal-1", "deal-1", "deal-2"} {
		store.Create(&job.Job{EntityType: "deal", EntityID: id, EntityName: id})
	}

	rec := get(t, router, "/api/v1/jobs?entityType=deal&entityId=deal-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Jobs []job.Job `json:"jobs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Jobs) != 2 {
		t.Errorf("len = %d, want 2", len(resp.Jobs))
	}

	if rec := get(t, router, "/api/v1/jobs?entityType=deal"); rec.Code != http.StatusBadRequest {
		t.Errorf("half filter status = %d, want 400", rec.Code)
	}
	if rec := get(t, router, "/api/v1/jobs?limit=0"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestCancelJob(t *testing.T) {
	s, store, _ := newTestServer(t)
	router := s.Router()

	j := &job.Job{EntityType: "deal", EntityID: "deal-1", EntityName: "Acme"}
	store.Create(j)

	rec := postJSON(t, router, "/api/v1/jobs/"+j.ID+"/cancel", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	cancelled, err := store.CancelRequested(j.ID)
	if err != nil || !cancelled {
		t.Errorf("CancelRequested = %v, %v", cancelled, err)
	}

	// Terminal jobs cannot be cancelled.
	j.Status = job.StatusComplete
	store.Save(j)
	if rec := postJSON(t, router, "/api/v1/jobs/"+j.ID+"/cancel", nil); rec.Code != http.StatusConflict {
		t.Errorf("terminal cancel status = %d, want 409", rec.Code)
	}
}

func TestReport(t *testing.T) {
	s, store, _ := newTestServer(t)
	router := s.Router()

	j := &job.Job{EntityType: "deal", EntityID: "deal-1", EntityName: "Acme renewal"}
	store.Create(j)

	// Incomplete job has no report.
	if rec := get(t, router, "/api/v1/jobs/"+j.ID+"/report"); rec.Code != http.StatusConflict {
		t.Errorf("pending report status = %d, want 409", rec.Code)
	}

	now := time.Now().UTC()
	later := now.Add(time.Minute)
	j.Status = job.StatusComplete
	j.StartedAt = &now
	j.CompletedAt = &later
	j.Result = &job.Result{Intelligence: &intel.Intelligence{
		HealthScore:        7.5,
		Insights:           []string{"multi-threaded relationship"},
		RiskFactors:        []string{"legal review pending"},
		OpportunitySignals: []string{},
		RecommendedActions: []string{"book exec sponsor call"},
		Stakeholders: []intel.Stakeholder{
			{Name: "Dana Reyes", Title: "VP Eng", DecisionRole: "champion", Influence: "high"},
		},
		Timeline: []intel.TimelineEvent{
			{Date: "2026-08-01", Event: "Security review passed", Significance: "high"},
		},
	}}
	if err := store.Save(j); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := get(t, router, "/api/v1/jobs/"+j.ID+"/report")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	html := rec.Body.String()
	for _, want := range []string{"Acme renewal", "7.5", "Dana Reyes", "Security review passed", "legal review pending"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := get(t, s.Router(), "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("resp = %v", resp)
	}
}
