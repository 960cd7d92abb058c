package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidscribe-backend/internal/middleware"
	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/services"
)

const previewLength = 500

type transcriptService interface {
	Extract(ctx context.Context, req services.ExtractRequest) (*services.ExtractResult, error)
	VideoInfo(ctx context.Context, source string, userID uuid.UUID, record bool) (*models.VideoInfo, error)
	ProcessUpload(ctx context.Context, req services.UploadRequest) (*services.UploadResult, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error)
	Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error)
	Delete(ctx context.Context, id, userID uuid.UUID) (bool, error)
	Summary(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error)
	GetCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error)
	ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error)
	Setup() services.Setup
}

// jobQueue hands extraction requests to the background worker pool.
type jobQueue interface {
	Enqueue(ctx context.Context, userID uuid.UUID, req models.ExtractTranscriptRequest) (*models.Job, error)
}

type TranscriptHandler struct {
	svc            transcriptService
	queue          jobQueue
	maxUploadBytes int64
}

func NewTranscriptHandler(svc transcriptService, queue jobQueue, maxUploadBytes int64) *TranscriptHandler {
	return &TranscriptHandler{svc: svc, queue: queue, maxUploadBytes: maxUploadBytes}
}

func (h *TranscriptHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req models.ExtractTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"url": "URL is required"}, r))
		return
	}

	userID := middleware.GetUserID(r.Context())

	if req.Async {
		if _, _, err := services.NormalizeURL(req.URL); err != nil {
			handleServiceError(w, r, err)
			return
		}
		if h.queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResp("QUEUE_UNAVAILABLE", "Background extraction is not configured", r))
			return
		}
		job, err := h.queue.Enqueue(r.Context(), userID, req)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to enqueue extraction job", r))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
		return
	}

	result, err := h.svc.Extract(r.Context(), services.ExtractRequest{
		Source:   req.URL,
		UserID:   userID,
		Method:   req.Method,
		Language: req.Language,
		Strict:   req.Strict,
	})
	if err != nil {
		if result != nil && services.KindOf(err) == services.KindRecognitionFailure {
			writeRecognitionFailure(w, r, err, result.Source, result.Segments, result.Diagnostic)
			return
		}
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.FromCache {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *TranscriptHandler) VideoInfo(w http.ResponseWriter, r *http.Request) {
	var req models.VideoInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	info, err := h.svc.VideoInfo(r.Context(), req.URL, userID, req.Record)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *TranscriptHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		// Multipart framing needs headroom over the file limit itself.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "Uploaded file is too large", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid multipart form", r))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"video": "A media file is required"}, r))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Failed to read uploaded file", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	result, err := h.svc.ProcessUpload(r.Context(), services.UploadRequest{
		UserID:   userID,
		Data:     data,
		Filename: header.Filename,
		Language: r.FormValue("lang"),
	})
	if err != nil {
		if result != nil && services.KindOf(err) == services.KindRecognitionFailure {
			writeRecognitionFailure(w, r, err, result.Source, result.Segments, result.Diagnostic)
			return
		}
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.FromCache {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *TranscriptHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	items, total, err := h.svc.List(r.Context(), userID, limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  previews(items),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *TranscriptHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.svc.Search(r.Context(), userID, query, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": previews(items),
		"query": query,
		"count": len(items),
	})
}

func (h *TranscriptHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	stats, err := h.svc.Summary(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *TranscriptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid transcript ID", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	rec, err := h.svc.Get(r.Context(), id, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *TranscriptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid transcript ID", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	deleted, err := h.svc.Delete(r.Context(), id, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Transcript not found", r))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TranscriptHandler) ListCategorical(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sourceType := r.URL.Query().Get("source_type")
	if sourceType != "" && sourceType != models.SourceTypeURL && sourceType != models.SourceTypeUpload {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"source_type": "must be url or upload"}, r))
		return
	}

	items, err := h.svc.ListCategorical(r.Context(), userID, sourceType)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (h *TranscriptHandler) GetCategorical(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	item, err := h.svc.GetCategorical(r.Context(), id, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *TranscriptHandler) Setup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Setup())
}

// transcriptPreview is a list entry; bodies past previewLength are cut and
// flagged so lists never carry whole transcripts.
type transcriptPreview struct {
	*models.TranscriptRecord
	Truncated bool `json:"truncated"`
}

func previews(items []*models.TranscriptRecord) []transcriptPreview {
	out := make([]transcriptPreview, 0, len(items))
	for _, rec := range items {
		cp := *rec
		p := transcriptPreview{TranscriptRecord: &cp}
		if runes := []rune(cp.Transcript); len(runes) > previewLength {
			cp.Transcript = string(runes[:previewLength]) + "..."
			p.Truncated = true
		}
		out = append(out, p)
	}
	return out
}
