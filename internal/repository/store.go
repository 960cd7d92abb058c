package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vidscribe-backend/internal/models"
)

var ErrNotFound = errors.New("record not found")

// AllUsers widens Reconcile to every user's transcripts.
var AllUsers = uuid.Nil

// Backend is the persistence contract shared by the Postgres, Mongo and
// in-memory implementations. Every read and delete is scoped to a user.
type Backend interface {
	Name() string
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// UpsertTranscript inserts or overwrites the record for (user, source)
	// and returns the id of the stored row.
	UpsertTranscript(ctx context.Context, rec *models.TranscriptRecord) (uuid.UUID, error)
	FindTranscriptBySource(ctx context.Context, userID uuid.UUID, source string) (*models.TranscriptRecord, error)
	FindTranscript(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error)
	ListTranscripts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error)
	SearchTranscripts(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error)
	// DeleteTranscript removes the record and its categorical entry.
	DeleteTranscript(ctx context.Context, id, userID uuid.UUID) (bool, error)
	DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertCategorical(ctx context.Context, cv *models.CategoricalVideo) error
	FindCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error)
	ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error)
	// TranscriptsMissingCategorical accepts AllUsers.
	TranscriptsMissingCategorical(ctx context.Context, userID uuid.UUID) ([]*models.TranscriptRecord, error)

	Stats(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error)
}

// StoreInput is what a completed extraction hands to the store.
type StoreInput struct {
	UserID     uuid.UUID
	Source     string
	SourceType string
	Title      string
	Duration   int
	Transcript string
	Method     string
	Language   string
	FileSize   int64
	VideoInfo  *models.VideoInfo
	Insights   models.StructuredInsights
}

// TranscriptStore writes the primary transcript record and its categorical
// index entry, and serves user-scoped reads over one Backend.
type TranscriptStore struct {
	backend Backend
	now     func() time.Time
}

func NewTranscriptStore(backend Backend) *TranscriptStore {
	return &TranscriptStore{backend: backend, now: time.Now}
}

func (s *TranscriptStore) BackendName() string { return s.backend.Name() }

func (s *TranscriptStore) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

func (s *TranscriptStore) Close(ctx context.Context) error { return s.backend.Close(ctx) }

// Store upserts the transcript for (user, source); concurrent writers of the
// same source converge on the last write. The categorical entry follows; if
// that write fails the primary record stays and the gap shows up in Summary.
func (s *TranscriptStore) Store(ctx context.Context, in StoreInput) (uuid.UUID, error) {
	if in.UserID == uuid.Nil || in.Source == "" {
		return uuid.Nil, fmt.Errorf("store requires a user and a source")
	}

	now := s.now().UTC()
	rec := &models.TranscriptRecord{
		ID:                uuid.New(),
		UserID:            in.UserID,
		SourceRef:         in.Source,
		SourceType:        in.SourceType,
		Title:             in.Title,
		Duration:          in.Duration,
		DurationFormatted: formatDuration(in.Duration),
		Transcript:        in.Transcript,
		Method:            in.Method,
		Language:          in.Language,
		WordCount:         len(strings.Fields(in.Transcript)),
		CharacterCount:    utf8.RuneCountInString(in.Transcript),
		FileSize:          in.FileSize,
		Status:            models.StatusCompleted,
		VideoInfo:         in.VideoInfo,
		Insights:          in.Insights,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if rec.SourceType == "" {
		rec.SourceType = models.SourceTypeURL
	}

	id, err := s.backend.UpsertTranscript(ctx, rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to store transcript: %w", err)
	}
	rec.ID = id

	if err := s.backend.UpsertCategorical(ctx, CategoricalFromRecord(rec, now)); err != nil {
		log.Printf("categorical write for transcript %s failed: %v", id, err)
	}
	return id, nil
}

func (s *TranscriptStore) GetBySource(ctx context.Context, userID uuid.UUID, source string) (*models.TranscriptRecord, error) {
	return s.backend.FindTranscriptBySource(ctx, userID, source)
}

func (s *TranscriptStore) Get(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error) {
	return s.backend.FindTranscript(ctx, id, userID)
}

func (s *TranscriptStore) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error) {
	return s.backend.ListTranscripts(ctx, userID, clampLimit(limit), max(offset, 0))
}

func (s *TranscriptStore) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		recs, _, err := s.List(ctx, userID, limit, 0)
		return recs, err
	}
	return s.backend.SearchTranscripts(ctx, userID, query, clampLimit(limit))
}

func (s *TranscriptStore) Delete(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	return s.backend.DeleteTranscript(ctx, id, userID)
}

func (s *TranscriptStore) GetCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error) {
	return s.backend.FindCategorical(ctx, videoID, userID)
}

func (s *TranscriptStore) ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error) {
	return s.backend.ListCategorical(ctx, userID, sourceType)
}

// RecordProbe stores a standalone categorical entry for a metadata-only lookup.
func (s *TranscriptStore) RecordProbe(ctx context.Context, userID uuid.UUID, info *models.VideoInfo) (*models.CategoricalVideo, error) {
	now := s.now().UTC()
	url := info.WebpageURL
	cv := &models.CategoricalVideo{
		VideoID:     uuid.New(),
		UserID:      userID,
		Name:        info.Title,
		URL:         &url,
		Description: info.Description,
		Duration:    info.Duration,
		SourceType:  models.SourceTypeURL,
		Keywords:    append([]string{}, info.Tags...),
		Topics:      []string{},
		KeyPhrases:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.backend.UpsertCategorical(ctx, cv); err != nil {
		return nil, fmt.Errorf("failed to record video probe: %w", err)
	}
	return cv, nil
}

// Summary aggregates a user's transcripts, including how many lack their
// categorical entry.
func (s *TranscriptStore) Summary(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error) {
	stats, err := s.backend.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.TotalFileSizeMB = math.Round(float64(stats.TotalFileSize)/(1024*1024)*100) / 100
	stats.AverageDuration = math.Round(stats.AverageDuration*100) / 100
	stats.AverageWordCount = math.Round(stats.AverageWordCount*100) / 100
	stats.AverageDurationLabel = formatDuration(int(math.Round(stats.AverageDuration)))
	return stats, nil
}

// Reconcile writes the categorical entries that a failed dual write left out.
func (s *TranscriptStore) Reconcile(ctx context.Context, userID uuid.UUID) (int, error) {
	missing, err := s.backend.TranscriptsMissingCategorical(ctx, userID)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, rec := range missing {
		if err := s.backend.UpsertCategorical(ctx, CategoricalFromRecord(rec, s.now().UTC())); err != nil {
			log.Printf("reconcile: transcript %s still missing categorical entry: %v", rec.ID, err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

// Cleanup deletes transcripts older than the retention window.
func (s *TranscriptStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention window must be positive")
	}
	return s.backend.DeleteTranscriptsOlderThan(ctx, s.now().UTC().Add(-olderThan))
}

// CategoricalFromRecord flattens a transcript into its index entry.
func CategoricalFromRecord(rec *models.TranscriptRecord, now time.Time) *models.CategoricalVideo {
	id := rec.ID
	cv := &models.CategoricalVideo{
		VideoID:          uuid.New(),
		UserID:           rec.UserID,
		Name:             rec.Title,
		Transcript:       rec.Transcript,
		Duration:         rec.Duration,
		SourceType:       rec.SourceType,
		SourceID:         &id,
		WordCount:        rec.WordCount,
		CharacterCount:   rec.CharacterCount,
		Keywords:         nonNil(rec.Insights.Keywords),
		Topics:           nonNil(rec.Insights.Topics),
		KeyPhrases:       nonNil(rec.Insights.KeyPhrases),
		SentimentScore:   rec.Insights.Sentiment.Score,
		SentimentLabel:   rec.Insights.Sentiment.Label,
		Language:         rec.Insights.Language,
		ReadabilityScore: rec.Insights.Readability,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if rec.SourceType == models.SourceTypeURL {
		url := rec.SourceRef
		cv.URL = &url
	}
	if rec.VideoInfo != nil {
		cv.Description = rec.VideoInfo.Description
	}
	return cv
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
