// Package app wires the extraction pipeline from configuration. The HTTP
// server and the CLI share it so both run the same stack.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"vidscribe-backend/internal/config"
	"vidscribe-backend/internal/database"
	"vidscribe-backend/internal/insights"
	"vidscribe-backend/internal/repository"
	"vidscribe-backend/internal/services"
)

type App struct {
	Config     *config.Config
	Store      *repository.TranscriptStore
	Redis      *database.RedisClients
	Jobs       *repository.JobRepo
	Notifier   services.Notifier
	YouTube    *services.YouTubeService
	Audio      *services.AudioTranscriber
	Extraction *services.ExtractionService

	closers []func()
}

type Options struct {
	// UseRedis connects to REDIS_URL when set; the CLI runs without it.
	UseRedis bool
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	a.Store = repository.Open(ctx, repository.OpenOptions{
		Backend:       cfg.StoreBackend,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsDir,
		MongoURL:      cfg.MongoURL,
		MongoDatabase: cfg.MongoDatabase,
	})
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Store.Close(ctx); err != nil {
			log.Printf("failed to close transcript store: %v", err)
		}
	})

	var notifier services.Notifier
	var locker services.SourceLocker
	if opts.UseRedis && cfg.RedisURL != "" {
		clients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = clients
		a.closers = append(a.closers, clients.Close)
		a.Jobs = repository.NewJobRepo(clients.Queue)
		notifier = services.NewRedisNotifier(clients.Queue)
		a.Notifier = notifier
		locker = services.NewRedisLocker(clients.Queue)
		log.Println("✓ Redis connected")
	}

	taxonomy, err := insights.LoadTaxonomy(cfg.TaxonomyPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load insight taxonomy: %w", err)
	}

	a.YouTube = services.NewYouTubeService(services.YouTubeConfig{
		Languages:     cfg.CaptionLanguages,
		CaptionFormat: cfg.CaptionFormat,
		Timeout:       cfg.HTTPTimeout(),
		MaxAudioBytes: cfg.MaxUploadBytes(),
	})

	recognizer := a.newRecognizer(ctx)
	a.Audio = services.NewAudioTranscriber(a.YouTube, services.NewFFmpeg(cfg.FFmpegBin), recognizer, services.AudioConfig{
		ChunkSeconds: cfg.AudioChunkSeconds,
		Workers:      cfg.AudioWorkers,
		TempDir:      cfg.TempDir,
	})

	a.Extraction = services.NewExtractionService(
		a.YouTube,
		a.Audio,
		insights.NewExtractor(taxonomy),
		a.Store,
		notifier,
		locker,
		services.ExtractionConfig{
			DefaultLanguage: cfg.DefaultLanguage,
			MaxUploadBytes:  cfg.MaxUploadBytes(),
		},
	)
	return a, nil
}

// newRecognizer picks the configured recognizer. A recognizer that cannot be
// built is replaced by one that reports DependencyUnavailable on use, so
// caption-only extraction keeps working.
func (a *App) newRecognizer(ctx context.Context) services.Recognizer {
	cfg := a.Config
	switch cfg.Recognizer {
	case "whisper":
		w := services.NewWhisperRecognizer(cfg.WhisperBin, cfg.WhisperModel, cfg.TempDir)
		if err := w.Available(); err != nil {
			log.Printf("✗ Whisper recognizer unavailable: %v", err)
		} else {
			log.Println("✓ Whisper recognizer ready")
		}
		return w
	case "gemini", "":
		g, err := services.NewGeminiRecognizer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs)
		if err != nil {
			log.Printf("✗ Gemini recognizer unavailable: %v", err)
			return services.NewUnavailableRecognizer("gemini", err)
		}
		a.closers = append(a.closers, g.Close)
		log.Printf("✓ Gemini recognizer initialized (%s)", cfg.GeminiModel)
		return g
	default:
		err := fmt.Errorf("unknown recognizer %q", cfg.Recognizer)
		log.Printf("✗ %v", err)
		return services.NewUnavailableRecognizer(cfg.Recognizer, err)
	}
}

// NewMaintenance returns the reconcile/retention scheduler for the store.
func (a *App) NewMaintenance() *services.MaintenanceScheduler {
	return services.NewMaintenanceScheduler(a.Store, a.Config.Retention(), a.Config.MaintenanceInterval())
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Ping checks the store with a short deadline.
func (a *App) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.Store.Ping(ctx)
}
