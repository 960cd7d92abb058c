package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/repository"
)

type stubJobStore struct {
	job       *models.Job
	statusSet string
}

func (s *stubJobStore) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error) {
	if s.job == nil || s.job.ID != id || s.job.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return s.job, nil
}

func (s *stubJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.statusSet = status
	return nil
}

func TestJobHandler_GetJob(t *testing.T) {
	ownerID := uuid.New()
	job := &models.Job{ID: uuid.New(), UserID: ownerID, Status: "processing"}
	h := &JobHandler{jobs: &stubJobStore{job: job}}

	rr := httptest.NewRecorder()
	h.GetJob(rr, withUser(withRouteID(httptest.NewRequest(http.MethodGet, "/", nil), job.ID.String()), ownerID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.GetJob(rr, withUser(withRouteID(httptest.NewRequest(http.MethodGet, "/", nil), job.ID.String()), uuid.New()))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's job, got %d", rr.Code)
	}
}

func TestJobHandler_CancelOnlyPending(t *testing.T) {
	ownerID := uuid.New()
	job := &models.Job{ID: uuid.New(), UserID: ownerID, Status: "completed"}
	store := &stubJobStore{job: job}
	h := &JobHandler{jobs: store}

	rr := httptest.NewRecorder()
	h.CancelJob(rr, withUser(withRouteID(httptest.NewRequest(http.MethodDelete, "/", nil), job.ID.String()), ownerID))
	if rr.Code != http.StatusConflict || store.statusSet != "" {
		t.Fatalf("expected 409 for a finished job, got %d", rr.Code)
	}

	job.Status = "pending"
	rr = httptest.NewRecorder()
	h.CancelJob(rr, withUser(withRouteID(httptest.NewRequest(http.MethodDelete, "/", nil), job.ID.String()), ownerID))
	if rr.Code != http.StatusOK || store.statusSet != "failed" {
		t.Fatalf("expected the pending job to be cancelled, got %d", rr.Code)
	}
}

func TestJobHandler_WithoutQueue(t *testing.T) {
	h := NewJobHandler(nil)
	rr := httptest.NewRecorder()
	h.GetJob(rr, withUser(withRouteID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()), uuid.New()))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
