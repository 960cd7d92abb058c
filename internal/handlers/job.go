package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidscribe-backend/internal/middleware"
	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/repository"
)

type jobStore interface {
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type JobHandler struct {
	jobs jobStore
}

func NewJobHandler(jobs jobStore) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob marks a pending job failed; the worker skips jobs that are no
// longer pending when it picks them up.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != "pending" {
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", "Job is already "+job.Status, r))
		return
	}

	if err := h.jobs.UpdateStatus(r.Context(), job.ID, "failed"); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to cancel job", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}

func (h *JobHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	if h.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("QUEUE_UNAVAILABLE", "Background extraction is not configured", r))
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid job ID", r))
		return nil, false
	}

	userID := middleware.GetUserID(r.Context())
	job, err := h.jobs.GetForUser(r.Context(), id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
		return nil, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load job", r))
		return nil, false
	}
	return job, true
}
