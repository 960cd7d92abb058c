package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"vidscribe-backend/internal/handlers"
	"vidscribe-backend/internal/middleware"
	"vidscribe-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	transcriptHandler *handlers.TranscriptHandler,
	jobHandler *handlers.JobHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Extraction holds a recognizer for minutes; 10 per user per minute.
	extractLimiter := middleware.NewRateLimiter(10, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Transcript Routes ────
		r.Route("/transcripts", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			r.Group(func(r chi.Router) {
				r.Use(extractLimiter.Middleware)
				r.Post("/extract", transcriptHandler.Extract)
				r.Post("/upload", transcriptHandler.Upload)
			})

			r.Post("/video-info", transcriptHandler.VideoInfo)
			r.Get("/", transcriptHandler.List)
			r.Get("/search", transcriptHandler.Search)
			r.Get("/stats", transcriptHandler.Stats)
			r.Get("/{id}", transcriptHandler.Get)
			r.Delete("/{id}", transcriptHandler.Delete)
		})

		// ──── Categorical Index ────
		r.Route("/categorical", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", transcriptHandler.ListCategorical)
			r.Get("/{id}", transcriptHandler.GetCategorical)
		})

		r.With(jwtAuth.Middleware).Get("/setup", transcriptHandler.Setup)

		// ──── Job Routes ────
		r.Route("/jobs", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/{id}", jobHandler.GetJob)
			r.Delete("/{id}", jobHandler.CancelJob)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
