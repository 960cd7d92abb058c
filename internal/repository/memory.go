package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidscribe-backend/internal/models"
)

type sourceKey struct {
	userID uuid.UUID
	source string
}

// MemoryBackend keeps everything in process. Used when no database is
// reachable and in tests.
type MemoryBackend struct {
	mu          sync.RWMutex
	transcripts map[uuid.UUID]*models.TranscriptRecord
	bySource    map[sourceKey]uuid.UUID
	categorical map[uuid.UUID]*models.CategoricalVideo

	// FailCategorical makes categorical writes fail; lets tests open the
	// dual-write gap on purpose.
	FailCategorical error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		transcripts: make(map[uuid.UUID]*models.TranscriptRecord),
		bySource:    make(map[sourceKey]uuid.UUID),
		categorical: make(map[uuid.UUID]*models.CategoricalVideo),
	}
}

func (m *MemoryBackend) Name() string                    { return "memory" }
func (m *MemoryBackend) Ping(ctx context.Context) error  { return nil }
func (m *MemoryBackend) Close(ctx context.Context) error { return nil }

func (m *MemoryBackend) UpsertTranscript(ctx context.Context, rec *models.TranscriptRecord) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sourceKey{rec.UserID, rec.SourceRef}
	stored := cloneRecord(rec)
	if id, ok := m.bySource[key]; ok {
		stored.ID = id
		stored.CreatedAt = m.transcripts[id].CreatedAt
	}
	m.transcripts[stored.ID] = stored
	m.bySource[key] = stored.ID
	return stored.ID, nil
}

func (m *MemoryBackend) FindTranscriptBySource(ctx context.Context, userID uuid.UUID, source string) (*models.TranscriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySource[sourceKey{userID, source}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(m.transcripts[id]), nil
}

func (m *MemoryBackend) FindTranscript(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.transcripts[id]
	if !ok || rec.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *MemoryBackend) ListTranscripts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error) {
	all := m.userTranscripts(userID, func(*models.TranscriptRecord) bool { return true })
	total := len(all)
	if offset >= total {
		return []*models.TranscriptRecord{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (m *MemoryBackend) SearchTranscripts(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error) {
	q := strings.ToLower(query)
	matches := m.userTranscripts(userID, func(rec *models.TranscriptRecord) bool {
		if strings.Contains(strings.ToLower(rec.Title), q) || strings.Contains(strings.ToLower(rec.Transcript), q) {
			return true
		}
		if rec.VideoInfo == nil {
			return false
		}
		if strings.Contains(strings.ToLower(rec.VideoInfo.Uploader), q) {
			return true
		}
		for _, tag := range rec.VideoInfo.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
		return false
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// userTranscripts returns copies of matching records, newest first.
func (m *MemoryBackend) userTranscripts(userID uuid.UUID, keep func(*models.TranscriptRecord) bool) []*models.TranscriptRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*models.TranscriptRecord{}
	for _, rec := range m.transcripts {
		if rec.UserID == userID && keep(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryBackend) DeleteTranscript(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.transcripts[id]
	if !ok || rec.UserID != userID {
		return false, nil
	}
	m.removeLocked(rec)
	return true, nil
}

func (m *MemoryBackend) DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.transcripts {
		if rec.CreatedAt.Before(cutoff) {
			m.removeLocked(rec)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) removeLocked(rec *models.TranscriptRecord) {
	delete(m.transcripts, rec.ID)
	delete(m.bySource, sourceKey{rec.UserID, rec.SourceRef})
	for vid, cv := range m.categorical {
		if cv.SourceID != nil && *cv.SourceID == rec.ID {
			delete(m.categorical, vid)
		}
	}
}

func (m *MemoryBackend) UpsertCategorical(ctx context.Context, cv *models.CategoricalVideo) error {
	if m.FailCategorical != nil {
		return m.FailCategorical
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneCategorical(cv)
	if cv.SourceID != nil {
		for vid, existing := range m.categorical {
			if existing.SourceID != nil && *existing.SourceID == *cv.SourceID {
				stored.VideoID = vid
				stored.CreatedAt = existing.CreatedAt
				break
			}
		}
	}
	m.categorical[stored.VideoID] = stored
	cv.VideoID = stored.VideoID
	return nil
}

func (m *MemoryBackend) FindCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cv, ok := m.categorical[videoID]
	if !ok || cv.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneCategorical(cv), nil
}

func (m *MemoryBackend) ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*models.CategoricalVideo{}
	for _, cv := range m.categorical {
		if cv.UserID != userID || (sourceType != "" && cv.SourceType != sourceType) {
			continue
		}
		out = append(out, cloneCategorical(cv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryBackend) TranscriptsMissingCategorical(ctx context.Context, userID uuid.UUID) ([]*models.TranscriptRecord, error) {
	m.mu.RLock()
	indexed := make(map[uuid.UUID]bool, len(m.categorical))
	for _, cv := range m.categorical {
		if cv.SourceID != nil {
			indexed[*cv.SourceID] = true
		}
	}
	m.mu.RUnlock()

	if userID == AllUsers {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := []*models.TranscriptRecord{}
		for _, rec := range m.transcripts {
			if !indexed[rec.ID] {
				out = append(out, cloneRecord(rec))
			}
		}
		return out, nil
	}
	return m.userTranscripts(userID, func(rec *models.TranscriptRecord) bool { return !indexed[rec.ID] }), nil
}

func (m *MemoryBackend) Stats(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error) {
	recs := m.userTranscripts(userID, func(*models.TranscriptRecord) bool { return true })
	missing, _ := m.TranscriptsMissingCategorical(ctx, userID)

	stats := &models.AggregateStats{
		TotalTranscripts:   len(recs),
		MissingCategorical: len(missing),
	}
	var durations int64
	for _, rec := range recs {
		stats.TotalWords += int64(rec.WordCount)
		stats.TotalCharacters += int64(rec.CharacterCount)
		stats.TotalFileSize += rec.FileSize
		durations += int64(rec.Duration)
		switch rec.SourceType {
		case models.SourceTypeUpload:
			stats.UploadCount++
		default:
			stats.URLCount++
		}
	}
	if len(recs) > 0 {
		stats.AverageDuration = float64(durations) / float64(len(recs))
		stats.AverageWordCount = float64(stats.TotalWords) / float64(len(recs))
	}

	m.mu.RLock()
	for _, cv := range m.categorical {
		if cv.UserID == userID {
			stats.CategoricalCount++
		}
	}
	m.mu.RUnlock()
	return stats, nil
}

func cloneRecord(rec *models.TranscriptRecord) *models.TranscriptRecord {
	c := *rec
	if rec.VideoInfo != nil {
		info := *rec.VideoInfo
		info.Tags = append([]string(nil), rec.VideoInfo.Tags...)
		c.VideoInfo = &info
	}
	c.Insights.Keywords = append([]string(nil), rec.Insights.Keywords...)
	c.Insights.Topics = append([]string(nil), rec.Insights.Topics...)
	c.Insights.KeyPhrases = append([]string(nil), rec.Insights.KeyPhrases...)
	return &c
}

func cloneCategorical(cv *models.CategoricalVideo) *models.CategoricalVideo {
	c := *cv
	c.Keywords = append([]string{}, cv.Keywords...)
	c.Topics = append([]string{}, cv.Topics...)
	c.KeyPhrases = append([]string{}, cv.KeyPhrases...)
	return &c
}
