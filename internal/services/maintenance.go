package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"vidscribe-backend/internal/repository"
)

// MaintenanceStore is the slice of the transcript store the scheduler needs.
type MaintenanceStore interface {
	Reconcile(ctx context.Context, userID uuid.UUID) (int, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MaintenanceScheduler periodically repairs missing categorical entries and,
// when a retention window is set, deletes transcripts older than it.
type MaintenanceScheduler struct {
	store     MaintenanceStore
	retention time.Duration
	interval  time.Duration
	stopChan  chan struct{}
}

func NewMaintenanceScheduler(store MaintenanceStore, retention, interval time.Duration) *MaintenanceScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MaintenanceScheduler{
		store:     store,
		retention: retention,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

func (s *MaintenanceScheduler) Start() {
	if s.store == nil {
		return
	}
	go s.loop(s.RunOnce)
	log.Printf("Maintenance scheduler started (every %s, retention %s)", s.interval, retentionLabel(s.retention))
}

func (s *MaintenanceScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *MaintenanceScheduler) loop(runFn func(ctx context.Context)) {
	// Run on startup as well as by interval.
	runFn(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			runFn(context.Background())
		}
	}
}

// RunOnce performs one reconcile pass and one retention pass.
func (s *MaintenanceScheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	repaired, err := s.store.Reconcile(ctx, repository.AllUsers)
	if err != nil {
		log.Printf("maintenance: reconcile failed: %v", err)
	} else if repaired > 0 {
		log.Printf("maintenance: restored %d categorical entries", repaired)
	}

	if s.retention <= 0 {
		return
	}
	removed, err := s.store.Cleanup(ctx, s.retention)
	if err != nil {
		log.Printf("maintenance: cleanup failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("maintenance: deleted %d transcripts older than %s", removed, retentionLabel(s.retention))
	}
}

func retentionLabel(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}
