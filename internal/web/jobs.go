package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dealsense/dealsense/internal/job"
)

type createJobRequest struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	EntityName string `json:"entityName"`
}

// handleCreateJob accepts an analysis request, persists a pending job,
// and hands it to the queue. Responds 202 with the job ID; results are
// fetched by polling.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !job.ValidEntityType(req.EntityType) {
		writeError(w, http.StatusBadRequest, "entityType must be deal, company, or contact")
		return
	}
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}
	if req.EntityName == "" {
		req.EntityName = req.EntityID
	}

	j := &job.Job{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		EntityName: req.EntityName,
	}
	if prev, err := s.store.LatestCompleted(req.EntityType, req.EntityID); err == nil {
		j.PreviousJobID = prev.ID
	}

	if err := s.store.Create(j); err != nil {
		s.logger.Error("job create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if err := s.queue.Enqueue(r.Context(), j.ID); err != nil {
		s.logger.Error("job enqueue failed", "job_id", j.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}

	s.logger.Info("job accepted", "job_id", j.ID, "entity_type", j.EntityType, "entity_id", j.EntityID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     j.ID,
		"status": string(j.Status),
	})
}

// handleGetJob returns the full job record including the progress log.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.Get(chi.URLParam(r, "jobID"))
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("job load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleListJobs lists jobs, optionally filtered to one entity via
// entityType and entityId query parameters. Logs are omitted.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entityType")
	entityID := r.URL.Query().Get("entityId")
	if (entityType == "") != (entityID == "") {
		writeError(w, http.StatusBadRequest, "entityType and entityId must be given together")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}

	jobs, err := s.store.List(entityType, entityID, limit)
	if err != nil {
		s.logger.Error("job list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleCancelJob flags the job for cancellation. The runner observes
// the flag at its next progress write; already-terminal jobs are left
// untouched.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	j, err := s.store.Get(id)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if j.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}

	if err := s.store.RequestCancel(id); err != nil {
		s.logger.Error("cancel request failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancel_requested"})
}
