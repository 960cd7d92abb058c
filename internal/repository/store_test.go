package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vidscribe-backend/internal/models"
)

func sampleInput(userID uuid.UUID, source, text string) StoreInput {
	return StoreInput{
		UserID:     userID,
		Source:     source,
		SourceType: models.SourceTypeURL,
		Title:      "Lecture on Go",
		Duration:   125,
		Transcript: text,
		Method:     models.MethodCaptions,
		Language:   "en",
		VideoInfo: &models.VideoInfo{
			VideoID:     "dQw4w9WgXcQ",
			Title:       "Lecture on Go",
			Uploader:    "Gopher Channel",
			Description: "An introduction",
			Tags:        []string{"golang", "concurrency"},
		},
		Insights: models.StructuredInsights{
			Keywords:    []string{"go", "channels"},
			Sentiment:   models.Sentiment{Score: 0.4, Label: "positive"},
			Topics:      []string{"technology"},
			KeyPhrases:  []string{},
			Language:    "en",
			Readability: 80,
		},
	}
}

// runStoreContract exercises a Backend through TranscriptStore. Every backend
// must pass it unchanged.
func runStoreContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("upsert keeps one record per user and source", func(t *testing.T) {
		store := NewTranscriptStore(newBackend(t))
		user := uuid.New()
		src := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

		first, err := store.Store(ctx, sampleInput(user, src, "first version of the text."))
		require.NoError(t, err)
		second, err := store.Store(ctx, sampleInput(user, src, "second version of the text."))
		require.NoError(t, err)
		require.Equal(t, first, second)

		rec, err := store.GetBySource(ctx, user, src)
		require.NoError(t, err)
		require.Equal(t, "second version of the text.", rec.Transcript)
		require.Equal(t, 5, rec.WordCount)
		require.Equal(t, "00:02:05", rec.DurationFormatted)

		recs, total, err := store.List(ctx, user, 10, 0)
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Len(t, recs, 1)

		cats, err := store.ListCategorical(ctx, user, "")
		require.NoError(t, err)
		require.Len(t, cats, 1)
		require.Equal(t, first, *cats[0].SourceID)
		require.Equal(t, "second version of the text.", cats[0].Transcript)
	})

	t.Run("reads are scoped to the owner", func(t *testing.T) {
		store := NewTranscriptStore(newBackend(t))
		owner, other := uuid.New(), uuid.New()
		id, err := store.Store(ctx, sampleInput(owner, "upload:abc:talk.mp4", "hello there."))
		require.NoError(t, err)

		_, err = store.Get(ctx, id, other)
		require.ErrorIs(t, err, ErrNotFound)

		deleted, err := store.Delete(ctx, id, other)
		require.NoError(t, err)
		require.False(t, deleted)

		rec, err := store.Get(ctx, id, owner)
		require.NoError(t, err)
		require.Equal(t, id, rec.ID)
	})

	t.Run("delete cascades to the categorical entry", func(t *testing.T) {
		store := NewTranscriptStore(newBackend(t))
		user := uuid.New()
		id, err := store.Store(ctx, sampleInput(user, "https://youtu.be/aaaaaaaaaaa", "text body."))
		require.NoError(t, err)

		deleted, err := store.Delete(ctx, id, user)
		require.NoError(t, err)
		require.True(t, deleted)

		cats, err := store.ListCategorical(ctx, user, "")
		require.NoError(t, err)
		require.Empty(t, cats)

		_, err = store.Get(ctx, id, user)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("search matches title, body, uploader and tags", func(t *testing.T) {
		store := NewTranscriptStore(newBackend(t))
		user := uuid.New()
		_, err := store.Store(ctx, sampleInput(user, "https://youtu.be/bbbbbbbbbbb", "We discuss goroutines today."))
		require.NoError(t, err)

		for _, q := range []string{"GOROUTINES", "lecture", "gopher channel", "concurr"} {
			recs, err := store.Search(ctx, user, q, 10)
			require.NoError(t, err, q)
			require.Len(t, recs, 1, q)
		}

		recs, err := store.Search(ctx, user, "100%_match", 10)
		require.NoError(t, err)
		require.Empty(t, recs)

		recs, err = store.Search(ctx, uuid.New(), "goroutines", 10)
		require.NoError(t, err)
		require.Empty(t, recs)
	})

	t.Run("summary aggregates per user", func(t *testing.T) {
		store := NewTranscriptStore(newBackend(t))
		user := uuid.New()
		a := sampleInput(user, "https://youtu.be/ccccccccccc", "one two three four.")
		a.Duration = 60
		b := sampleInput(user, "upload:ff:clip.mp3", "five six.")
		b.SourceType = models.SourceTypeUpload
		b.Duration = 121
		b.FileSize = 3 * 1024 * 1024
		_, err := store.Store(ctx, a)
		require.NoError(t, err)
		_, err = store.Store(ctx, b)
		require.NoError(t, err)

		stats, err := store.Summary(ctx, user)
		require.NoError(t, err)
		require.Equal(t, 2, stats.TotalTranscripts)
		require.Equal(t, int64(6), stats.TotalWords)
		require.Equal(t, 1, stats.URLCount)
		require.Equal(t, 1, stats.UploadCount)
		require.Equal(t, 3.0, stats.TotalFileSizeMB)
		require.Equal(t, 90.5, stats.AverageDuration)
		require.Equal(t, "00:01:31", stats.AverageDurationLabel)
		require.Equal(t, 2, stats.CategoricalCount)
		require.Zero(t, stats.MissingCategorical)
	})

	t.Run("empty summary", func(t *testing.T) {
		store := NewTranscriptStore(newBackend(t))
		stats, err := store.Summary(ctx, uuid.New())
		require.NoError(t, err)
		require.Zero(t, stats.TotalTranscripts)
		require.Equal(t, "00:00:00", stats.AverageDurationLabel)
	})

	t.Run("probe records a standalone categorical entry", func(t *testing.T) {
		store := NewTranscriptStore(newBackend(t))
		user := uuid.New()
		cv, err := store.RecordProbe(ctx, user, &models.VideoInfo{
			Title:      "Probe",
			WebpageURL: "https://www.youtube.com/watch?v=ddddddddddd",
			Tags:       []string{"x"},
		})
		require.NoError(t, err)
		require.Nil(t, cv.SourceID)

		got, err := store.GetCategorical(ctx, cv.VideoID, user)
		require.NoError(t, err)
		require.Equal(t, "Probe", got.Name)

		_, err = store.GetCategorical(ctx, cv.VideoID, uuid.New())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTranscriptStore_Memory(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Backend { return NewMemoryBackend() })
}

func TestTranscriptStore_CategoricalFailureIsReconciled(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	backend.FailCategorical = errors.New("index unavailable")
	store := NewTranscriptStore(backend)
	user := uuid.New()

	id, err := store.Store(ctx, sampleInput(user, "https://youtu.be/eeeeeeeeeee", "kept even when the index fails."))
	require.NoError(t, err)

	_, err = store.Get(ctx, id, user)
	require.NoError(t, err)

	stats, err := store.Summary(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 1, stats.MissingCategorical)

	backend.FailCategorical = nil
	repaired, err := store.Reconcile(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 1, repaired)

	stats, err = store.Summary(ctx, user)
	require.NoError(t, err)
	require.Zero(t, stats.MissingCategorical)
	require.Equal(t, 1, stats.CategoricalCount)
}

func TestTranscriptStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewTranscriptStore(NewMemoryBackend())
	user := uuid.New()

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	_, err := store.Store(ctx, sampleInput(user, "https://youtu.be/fffffffffff", "old."))
	require.NoError(t, err)

	store.now = func() time.Time { return now }
	_, err = store.Store(ctx, sampleInput(user, "https://youtu.be/ggggggggggg", "new."))
	require.NoError(t, err)

	removed, err := store.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	recs, total, err := store.List(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "new.", recs[0].Transcript)

	_, err = store.Cleanup(ctx, 0)
	require.Error(t, err)
}

func TestTranscriptStore_ListPagination(t *testing.T) {
	ctx := context.Background()
	store := NewTranscriptStore(NewMemoryBackend())
	user := uuid.New()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, src := range []string{"https://youtu.be/hhhhhhhhhhh", "https://youtu.be/iiiiiiiiiii", "https://youtu.be/jjjjjjjjjjj"} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		_, err := store.Store(ctx, sampleInput(user, src, "entry."))
		require.NoError(t, err)
	}

	page, total, err := store.List(ctx, user, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, "https://youtu.be/jjjjjjjjjjj", page[0].SourceRef)

	page, _, err = store.List(ctx, user, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "https://youtu.be/hhhhhhhhhhh", page[0].SourceRef)
}
