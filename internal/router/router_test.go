package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"vidscribe-backend/internal/handlers"
	"vidscribe-backend/internal/middleware"
	"vidscribe-backend/internal/websocket"
)

func newTestRouter(jwtAuth *middleware.JWTAuth) http.Handler {
	return New(
		jwtAuth,
		handlers.NewTranscriptHandler(nil, nil, 0),
		handlers.NewJobHandler(nil),
		websocket.NewHub(nil, jwtAuth),
		"http://localhost:5173",
	)
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(middleware.NewJWTAuth("secret"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id on every response")
	}
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter(middleware.NewJWTAuth("secret"))

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/transcripts/extract"},
		{http.MethodPost, "/api/v1/transcripts/upload"},
		{http.MethodGet, "/api/v1/transcripts"},
		{http.MethodGet, "/api/v1/transcripts/search?q=go"},
		{http.MethodGet, "/api/v1/transcripts/stats"},
		{http.MethodDelete, "/api/v1/transcripts/" + uuid.NewString()},
		{http.MethodGet, "/api/v1/categorical"},
		{http.MethodGet, "/api/v1/setup"},
		{http.MethodGet, "/api/v1/jobs/" + uuid.NewString()},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(route.method, route.path, nil))
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestRouter_JobsWithoutQueue(t *testing.T) {
	jwtAuth := middleware.NewJWTAuth("secret")
	r := newTestRouter(jwtAuth)
	token, _ := jwtAuth.GenerateAccessToken(uuid.New(), time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a job queue, got %d", rr.Code)
	}
}
