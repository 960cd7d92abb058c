package repository

import (
	"context"
	"log"
	"time"

	"vidscribe-backend/internal/database"
)

type OpenOptions struct {
	Backend       string // "postgres" | "mongo" | "memory"
	DatabaseURL   string
	MigrationsDir string
	MongoURL      string
	MongoDatabase string
}

// Open connects the configured backend once and falls back to the in-memory
// backend when it cannot be reached. The choice holds for the process lifetime.
func Open(ctx context.Context, opts OpenOptions) *TranscriptStore {
	backend, err := openBackend(ctx, opts)
	if err != nil {
		log.Printf("✗ %s store unavailable, using in-memory store: %v", opts.Backend, err)
		return NewTranscriptStore(NewMemoryBackend())
	}
	log.Printf("✓ Transcript store: %s", backend.Name())
	return NewTranscriptStore(backend)
}

func openBackend(ctx context.Context, opts OpenOptions) (Backend, error) {
	switch opts.Backend {
	case "mongo":
		db, err := database.NewMongoDatabase(opts.MongoURL, opts.MongoDatabase)
		if err != nil {
			return nil, err
		}
		mb := NewMongoBackend(db)
		idxCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := mb.EnsureIndexes(idxCtx); err != nil {
			mb.Close(context.Background())
			return nil, err
		}
		return mb, nil
	case "memory":
		return NewMemoryBackend(), nil
	default:
		pool, err := database.NewPostgresPool(opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if opts.MigrationsDir != "" {
			if err := database.RunMigrations(pool, opts.MigrationsDir); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return NewPostgresBackend(pool), nil
	}
}
