package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/repository"
	"vidscribe-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

// recognitionFailureResponse keeps the empty transcript next to the error so
// clients can tell "nothing recognized" from a transport failure.
type recognitionFailureResponse struct {
	Error      models.APIError        `json:"error"`
	Transcript string                 `json:"transcript"`
	Source     string                 `json:"source,omitempty"`
	Segments   []models.SegmentResult `json:"segments,omitempty"`
	Diagnostic string                 `json:"diagnostic,omitempty"`
}

func writeRecognitionFailure(w http.ResponseWriter, r *http.Request, err error, source string, segments []models.SegmentResult, diagnostic string) {
	var ee *services.ExtractionError
	msg := "Speech recognition produced no transcript"
	if errors.As(err, &ee) {
		msg = ee.Message
	}
	writeJSON(w, http.StatusUnprocessableEntity, recognitionFailureResponse{
		Error:      errorResp(string(services.KindRecognitionFailure), msg, r).Error,
		Source:     source,
		Segments:   segments,
		Diagnostic: diagnostic,
	})
}

const retryAfterSeconds = "30"

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Transcript not found", r))
		return
	}

	var ee *services.ExtractionError
	if !errors.As(err, &ee) {
		log.Printf("handler error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	code := string(ee.Kind)
	switch ee.Kind {
	case services.KindInvalidSource:
		writeJSON(w, http.StatusBadRequest, errorResp(code, ee.Message, r))
	case services.KindNetworkFailure:
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSON(w, http.StatusServiceUnavailable, errorResp(code, ee.Message, r))
	case services.KindNoCaptionsAvailable:
		writeJSON(w, http.StatusNotFound, errorResp(code, ee.Message, r))
	case services.KindDependencyUnavailable:
		writeJSON(w, http.StatusNotImplemented, errorResp(code, ee.Message, r))
	case services.KindRecognitionFailure:
		writeRecognitionFailure(w, r, err, "", nil, "")
	case services.KindStorageFailure:
		log.Printf("storage failure: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp(code, ee.Message, r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
