package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidscribe-backend/internal/models"
)

type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (r *PostgresBackend) Name() string { return "postgres" }

func (r *PostgresBackend) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *PostgresBackend) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

const transcriptColumns = `id, user_id, source_ref, source_type, title, duration, duration_formatted, transcript,
	method, language, word_count, character_count, file_size, status, video_info, insights, created_at, updated_at`

func (r *PostgresBackend) UpsertTranscript(ctx context.Context, rec *models.TranscriptRecord) (uuid.UUID, error) {
	var infoBytes []byte
	if rec.VideoInfo != nil {
		infoBytes, _ = json.Marshal(rec.VideoInfo)
	}
	insightBytes, err := json.Marshal(rec.Insights)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode insights: %w", err)
	}

	query := `INSERT INTO transcripts (` + transcriptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id, source_ref) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			title = EXCLUDED.title,
			duration = EXCLUDED.duration,
			duration_formatted = EXCLUDED.duration_formatted,
			transcript = EXCLUDED.transcript,
			method = EXCLUDED.method,
			language = EXCLUDED.language,
			word_count = EXCLUDED.word_count,
			character_count = EXCLUDED.character_count,
			file_size = EXCLUDED.file_size,
			status = EXCLUDED.status,
			video_info = EXCLUDED.video_info,
			insights = EXCLUDED.insights,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	var id uuid.UUID
	err = r.pool.QueryRow(ctx, query,
		rec.ID, rec.UserID, rec.SourceRef, rec.SourceType, rec.Title, rec.Duration, rec.DurationFormatted,
		rec.Transcript, rec.Method, rec.Language, rec.WordCount, rec.CharacterCount, rec.FileSize,
		rec.Status, infoBytes, insightBytes, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&id, &rec.CreatedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *PostgresBackend) FindTranscriptBySource(ctx context.Context, userID uuid.UUID, source string) (*models.TranscriptRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE user_id = $1 AND source_ref = $2`, userID, source)
	return scanTranscript(row)
}

func (r *PostgresBackend) FindTranscript(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE id = $1 AND user_id = $2`, id, userID)
	return scanTranscript(row)
}

func (r *PostgresBackend) ListTranscripts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transcripts WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE user_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	recs, err := collectTranscripts(rows)
	return recs, total, err
}

// SearchTranscripts matches the query case-insensitively against title,
// transcript body, uploader and tags.
func (r *PostgresBackend) SearchTranscripts(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := r.pool.Query(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts
		WHERE user_id = $1 AND (
			title ILIKE $2 OR transcript ILIKE $2
			OR COALESCE(video_info->>'uploader', '') ILIKE $2
			OR COALESCE(video_info->>'tags', '') ILIKE $2
		)
		ORDER BY created_at DESC LIMIT $3`, userID, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectTranscripts(rows)
}

// Categorical rows go with the transcript through ON DELETE CASCADE.
func (r *PostgresBackend) DeleteTranscript(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM transcripts WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresBackend) DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM transcripts WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const categoricalColumns = `video_id, user_id, name, url, description, transcript, duration, source_type, source_id,
	word_count, character_count, keywords, topics, key_phrases, sentiment_score, sentiment_label, language,
	readability_score, created_at, updated_at`

func (r *PostgresBackend) UpsertCategorical(ctx context.Context, cv *models.CategoricalVideo) error {
	conflict := "ON CONFLICT (video_id) DO NOTHING"
	if cv.SourceID != nil {
		conflict = `ON CONFLICT (source_id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			description = EXCLUDED.description,
			transcript = EXCLUDED.transcript,
			duration = EXCLUDED.duration,
			source_type = EXCLUDED.source_type,
			word_count = EXCLUDED.word_count,
			character_count = EXCLUDED.character_count,
			keywords = EXCLUDED.keywords,
			topics = EXCLUDED.topics,
			key_phrases = EXCLUDED.key_phrases,
			sentiment_score = EXCLUDED.sentiment_score,
			sentiment_label = EXCLUDED.sentiment_label,
			language = EXCLUDED.language,
			readability_score = EXCLUDED.readability_score,
			updated_at = EXCLUDED.updated_at`
	}

	query := `INSERT INTO categorical_videos (` + categoricalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		` + conflict + ` RETURNING video_id`

	err := r.pool.QueryRow(ctx, query,
		cv.VideoID, cv.UserID, cv.Name, cv.URL, cv.Description, cv.Transcript, cv.Duration, cv.SourceType,
		cv.SourceID, cv.WordCount, cv.CharacterCount, nonNil(cv.Keywords), nonNil(cv.Topics), nonNil(cv.KeyPhrases),
		cv.SentimentScore, cv.SentimentLabel, cv.Language, cv.ReadabilityScore, cv.CreatedAt, cv.UpdatedAt,
	).Scan(&cv.VideoID)
	if errors.Is(err, pgx.ErrNoRows) {
		// DO NOTHING on an existing probe id
		return nil
	}
	return err
}

func (r *PostgresBackend) FindCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+categoricalColumns+` FROM categorical_videos WHERE video_id = $1 AND user_id = $2`, videoID, userID)
	cv, err := scanCategorical(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cv, err
}

func (r *PostgresBackend) ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+categoricalColumns+` FROM categorical_videos
		WHERE user_id = $1 AND ($2 = '' OR source_type = $2)
		ORDER BY created_at DESC`, userID, sourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.CategoricalVideo{}
	for rows.Next() {
		cv, err := scanCategorical(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

func (r *PostgresBackend) TranscriptsMissingCategorical(ctx context.Context, userID uuid.UUID) ([]*models.TranscriptRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+prefixColumns("t.", transcriptColumns)+` FROM transcripts t
		WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR t.user_id = $1) AND NOT EXISTS (SELECT 1 FROM categorical_videos c WHERE c.source_id = t.id)
		ORDER BY t.created_at`, userID)
	if err != nil {
		return nil, err
	}
	return collectTranscripts(rows)
}

func (r *PostgresBackend) Stats(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error) {
	s := &models.AggregateStats{}
	err := r.pool.QueryRow(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(word_count), 0)::bigint,
			COALESCE(SUM(character_count), 0)::bigint,
			COALESCE(SUM(file_size), 0)::bigint,
			COALESCE(AVG(duration), 0)::float8,
			COALESCE(AVG(word_count), 0)::float8,
			COUNT(*) FILTER (WHERE source_type = 'url'),
			COUNT(*) FILTER (WHERE source_type = 'upload'),
			(SELECT COUNT(*) FROM categorical_videos WHERE user_id = $1),
			COUNT(*) FILTER (WHERE NOT EXISTS (SELECT 1 FROM categorical_videos c WHERE c.source_id = transcripts.id))
		FROM transcripts WHERE user_id = $1`, userID,
	).Scan(
		&s.TotalTranscripts, &s.TotalWords, &s.TotalCharacters, &s.TotalFileSize,
		&s.AverageDuration, &s.AverageWordCount, &s.URLCount, &s.UploadCount,
		&s.CategoricalCount, &s.MissingCategorical,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanTranscript(row pgx.Row) (*models.TranscriptRecord, error) {
	rec := &models.TranscriptRecord{}
	var infoBytes, insightBytes []byte
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.SourceRef, &rec.SourceType, &rec.Title, &rec.Duration, &rec.DurationFormatted,
		&rec.Transcript, &rec.Method, &rec.Language, &rec.WordCount, &rec.CharacterCount, &rec.FileSize,
		&rec.Status, &infoBytes, &insightBytes, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(infoBytes) > 0 {
		rec.VideoInfo = &models.VideoInfo{}
		if err := json.Unmarshal(infoBytes, rec.VideoInfo); err != nil {
			return nil, fmt.Errorf("failed to decode video_info: %w", err)
		}
	}
	if len(insightBytes) > 0 {
		if err := json.Unmarshal(insightBytes, &rec.Insights); err != nil {
			return nil, fmt.Errorf("failed to decode insights: %w", err)
		}
	}
	return rec, nil
}

func collectTranscripts(rows pgx.Rows) ([]*models.TranscriptRecord, error) {
	defer rows.Close()

	out := []*models.TranscriptRecord{}
	for rows.Next() {
		rec, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanCategorical(row pgx.Row) (*models.CategoricalVideo, error) {
	cv := &models.CategoricalVideo{}
	err := row.Scan(
		&cv.VideoID, &cv.UserID, &cv.Name, &cv.URL, &cv.Description, &cv.Transcript, &cv.Duration,
		&cv.SourceType, &cv.SourceID, &cv.WordCount, &cv.CharacterCount, &cv.Keywords, &cv.Topics,
		&cv.KeyPhrases, &cv.SentimentScore, &cv.SentimentLabel, &cv.Language, &cv.ReadabilityScore,
		&cv.CreatedAt, &cv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cv, nil
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
