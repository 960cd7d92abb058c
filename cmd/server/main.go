package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidscribe-backend/internal/app"
	"vidscribe-backend/internal/config"
	"vidscribe-backend/internal/handlers"
	"vidscribe-backend/internal/middleware"
	"vidscribe-backend/internal/router"
	"vidscribe-backend/internal/websocket"
	"vidscribe-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting VidScribe Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.LoadServer()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Store, Redis and extraction pipeline ────
	a, err := app.New(context.Background(), cfg, app.Options{UseRedis: true})
	if err != nil {
		log.Fatalf("✗ Startup failed: %v", err)
	}
	defer a.Close()

	// ──── Step 3: Handlers ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	var transcriptHandler *handlers.TranscriptHandler
	var jobHandler *handlers.JobHandler
	var workerPool *worker.Pool
	var wsHub *websocket.Hub

	if a.Redis != nil {
		queue := worker.NewQueue(a.Redis.Queue, a.Jobs)
		transcriptHandler = handlers.NewTranscriptHandler(a.Extraction, queue, cfg.MaxUploadBytes())
		jobHandler = handlers.NewJobHandler(a.Jobs)

		// ──── Step 4: Start Job Worker Pool ────
		workerPool = worker.NewPool(a.Redis.Queue, a.Extraction, a.Jobs, a.Notifier, cfg.WorkerCount)
		workerPool.Start()
		log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

		// ──── Step 5: Start WebSocket Hub ────
		wsHub = websocket.NewHub(a.Redis.PubSub, jwtAuth)
		log.Println("✓ WebSocket hub started")
	} else {
		log.Println("✗ REDIS_URL not set: async jobs and progress updates disabled")
		transcriptHandler = handlers.NewTranscriptHandler(a.Extraction, nil, cfg.MaxUploadBytes())
		jobHandler = handlers.NewJobHandler(nil)
		wsHub = websocket.NewHub(nil, jwtAuth)
	}

	maintenance := a.NewMaintenance()
	maintenance.Start()
	log.Println("✓ Maintenance scheduler started")

	// ──── Step 6: Start HTTP Server ────
	r := router.New(jwtAuth, transcriptHandler, jobHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		// Synchronous audio extraction can run for minutes.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		if workerPool != nil {
			workerPool.Stop()
		}
		maintenance.Stop()
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ VidScribe Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
