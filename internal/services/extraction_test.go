package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vidscribe-backend/internal/insights"
	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/repository"
)

const testVideo = "https://youtu.be/dQw4w9WgXcQ"

type stubSource struct {
	mu           sync.Mutex
	info         *models.VideoInfo
	infoErr      error
	payload      *RawCaptionPayload
	captionErr   error
	infoCalls    int
	captionCalls int
}

func (s *stubSource) FetchVideoInfo(ctx context.Context, source string) (*models.VideoInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoCalls++
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	info := *s.info
	return &info, nil
}

func (s *stubSource) FetchRawCaptions(ctx context.Context, source string) (*RawCaptionPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captionCalls++
	return s.payload, s.captionErr
}

type stubTranscriber struct {
	result     *AudioResult
	err        error
	calls      int
	lastLang   string
	lastFile   string
	setupState SetupStatus
}

func (t *stubTranscriber) TranscribeFromSource(ctx context.Context, source, language string) (*AudioResult, error) {
	t.calls++
	t.lastLang = language
	return t.result, t.err
}

func (t *stubTranscriber) TranscribeFile(ctx context.Context, data []byte, filename, language string) (*AudioResult, error) {
	t.calls++
	t.lastLang = language
	t.lastFile = filename
	return t.result, t.err
}

func (t *stubTranscriber) SetupStatus() SetupStatus { return t.setupState }

type recordingNotifier struct {
	mu    sync.Mutex
	steps []string
}

func (n *recordingNotifier) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if upd, ok := msg.Payload.(models.StatusUpdate); ok {
		n.steps = append(n.steps, upd.StepName)
	}
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (busyLocker) Unlock(context.Context, string)                             {}

type fixture struct {
	svc      *ExtractionService
	source   *stubSource
	audio    *stubTranscriber
	store    *repository.TranscriptStore
	backend  *repository.MemoryBackend
	notifier *recordingNotifier
	user     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tax, err := insights.LoadTaxonomy("")
	require.NoError(t, err)

	f := &fixture{
		source: &stubSource{
			info: &models.VideoInfo{
				VideoID:    "dQw4w9WgXcQ",
				Title:      "Intro to Software",
				Duration:   212,
				Uploader:   "Lecture Hall",
				WebpageURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			},
			payload: &RawCaptionPayload{
				Data:     `{"events":[{"segs":[{"utf8":"Software engineering is great."}]},{"segs":[{"utf8":"[Music]"}]}]}`,
				Language: "en",
				Kind:     "manual",
			},
		},
		audio:    &stubTranscriber{},
		backend:  repository.NewMemoryBackend(),
		notifier: &recordingNotifier{},
		user:     uuid.New(),
	}
	f.store = repository.NewTranscriptStore(f.backend)
	f.svc = NewExtractionService(f.source, f.audio, insights.NewExtractor(tax), f.store, f.notifier, nil,
		ExtractionConfig{DefaultLanguage: "en-US", MaxUploadBytes: 1024})
	return f
}

func (f *fixture) extract(t *testing.T, req ExtractRequest) (*ExtractResult, error) {
	t.Helper()
	if req.Source == "" {
		req.Source = testVideo
	}
	req.UserID = f.user
	return f.svc.Extract(context.Background(), req)
}

func TestExtract_CaptionsThenCache(t *testing.T) {
	f := newFixture(t)

	first, err := f.extract(t, ExtractRequest{})
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, models.MethodCaptions, first.Method)
	require.Equal(t, "Software engineering is great.", first.Transcript)
	require.NotNil(t, first.TranscriptID)
	require.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", first.Source)
	require.Contains(t, first.Insights.Topics, "technology")

	second, err := f.extract(t, ExtractRequest{Source: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42"})
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Transcript, second.Transcript)
	require.Equal(t, *first.TranscriptID, *second.TranscriptID)

	require.Equal(t, 1, f.source.infoCalls, "cached extraction must not refetch")
	require.Equal(t, 1, f.source.captionCalls)
	require.Zero(t, f.audio.calls)

	cats, err := f.store.ListCategorical(context.Background(), f.user, "")
	require.NoError(t, err)
	require.Len(t, cats, 1)
}

func TestExtract_PublishesProgress(t *testing.T) {
	f := newFixture(t)
	_, err := f.extract(t, ExtractRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{
		"Checking saved transcripts",
		"Fetching video info",
		"Fetching captions",
		"Analyzing transcript",
		"Saving transcript",
	}, f.notifier.steps)
}

func TestExtract_FallsBackToAudioWhenNoCaptions(t *testing.T) {
	for name, payload := range map[string]*RawCaptionPayload{
		"no payload":        nil,
		"non-speech payload": {Data: "<transcript><text>[Music]</text><text>(applause)</text></transcript>"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.source.payload = payload
			f.audio.result = &AudioResult{Text: "spoken words from audio", FileSize: 2048}

			res, err := f.extract(t, ExtractRequest{Language: "de-DE"})
			require.NoError(t, err)
			require.Equal(t, models.MethodAudio, res.Method)
			require.Equal(t, "spoken words from audio", res.Transcript)
			require.Equal(t, 1, f.audio.calls)
			require.Equal(t, "de-DE", f.audio.lastLang)

			rec, err := f.store.Get(context.Background(), *res.TranscriptID, f.user)
			require.NoError(t, err)
			require.Equal(t, models.MethodAudio, rec.Method)
			require.Equal(t, int64(2048), rec.FileSize)
		})
	}
}

func TestExtract_StrictModeDoesNotFallBack(t *testing.T) {
	f := newFixture(t)
	f.source.payload = nil

	_, err := f.extract(t, ExtractRequest{Strict: true})
	require.Equal(t, KindNoCaptionsAvailable, KindOf(err))
	require.Zero(t, f.audio.calls)
}

func TestExtract_RecognitionFailureReturnsEmptyTranscript(t *testing.T) {
	f := newFixture(t)
	f.source.payload = nil
	f.audio.result = &AudioResult{Diagnostic: "could not understand audio"}
	f.audio.err = newError(KindRecognitionFailure, "could not understand audio", ErrUnintelligible)

	res, err := f.extract(t, ExtractRequest{})
	require.Equal(t, KindRecognitionFailure, KindOf(err))
	require.NotNil(t, res)
	require.Empty(t, res.Transcript)
	require.Nil(t, res.TranscriptID)
	require.Equal(t, "could not understand audio", res.Diagnostic)

	_, err = f.store.GetBySource(context.Background(), f.user, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.ErrorIs(t, err, repository.ErrNotFound, "failed extractions must not be stored")
}

func TestExtract_ExplicitAudioMethodSkipsCaptions(t *testing.T) {
	f := newFixture(t)
	f.audio.result = &AudioResult{Text: "direct audio"}

	res, err := f.extract(t, ExtractRequest{Method: "AUDIO"})
	require.NoError(t, err)
	require.Equal(t, "direct audio", res.Transcript)
	require.Zero(t, f.source.captionCalls)
}

func TestExtract_Errors(t *testing.T) {
	t.Run("invalid source", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.extract(t, ExtractRequest{Source: "https://vimeo.com/12345"})
		require.Equal(t, KindInvalidSource, KindOf(err))
		require.Zero(t, f.source.infoCalls)
	})

	t.Run("unknown method", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.extract(t, ExtractRequest{Method: "ocr"})
		require.Equal(t, KindInvalidSource, KindOf(err))
	})

	t.Run("caption network failure is retryable and does not fall back", func(t *testing.T) {
		f := newFixture(t)
		f.source.captionErr = newError(KindNetworkFailure, "caption fetch timed out", context.DeadlineExceeded)

		_, err := f.extract(t, ExtractRequest{})
		require.True(t, IsRetryable(err))
		require.Zero(t, f.audio.calls)
	})

	t.Run("unavailable video", func(t *testing.T) {
		f := newFixture(t)
		f.source.infoErr = newError(KindInvalidSource, "video unavailable", errors.New("private video"))

		_, err := f.extract(t, ExtractRequest{})
		require.Equal(t, KindInvalidSource, KindOf(err))
		require.False(t, IsRetryable(err))
	})

	t.Run("missing audio dependency", func(t *testing.T) {
		f := newFixture(t)
		f.source.payload = nil
		f.audio.err = newError(KindDependencyUnavailable, "ffmpeg not found on PATH", nil)

		res, err := f.extract(t, ExtractRequest{})
		require.Equal(t, KindDependencyUnavailable, KindOf(err))
		require.Nil(t, res)
	})
}

func TestExtract_UntypedFailuresGetAKind(t *testing.T) {
	t.Run("deadline from audio is retryable", func(t *testing.T) {
		f := newFixture(t)
		f.source.payload = nil
		f.audio.err = context.DeadlineExceeded

		res, err := f.extract(t, ExtractRequest{})
		require.Equal(t, KindNetworkFailure, KindOf(err))
		require.True(t, IsRetryable(err))
		require.Nil(t, res)
	})

	t.Run("plain error from source", func(t *testing.T) {
		f := newFixture(t)
		f.source.infoErr = errors.New("unexpected metadata layout")

		_, err := f.extract(t, ExtractRequest{})
		require.NotEmpty(t, KindOf(err))
		require.False(t, IsRetryable(err))
	})
}

func TestExtract_WaitsForConcurrentExtraction(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = busyLocker{}
	f.svc.cfg.PollInterval = 5 * time.Millisecond
	f.svc.cfg.LockWait = time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.store.Store(context.Background(), repository.StoreInput{
			UserID:     f.user,
			Source:     "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			Transcript: "written by the other worker",
			Method:     models.MethodCaptions,
		})
	}()

	res, err := f.extract(t, ExtractRequest{})
	require.NoError(t, err)
	require.True(t, res.FromCache)
	require.Equal(t, "written by the other worker", res.Transcript)
	require.Zero(t, f.source.infoCalls)
}

func TestExtract_ProceedsWhenConcurrentExtractionStalls(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = busyLocker{}
	f.svc.cfg.PollInterval = 5 * time.Millisecond
	f.svc.cfg.LockWait = 20 * time.Millisecond

	res, err := f.extract(t, ExtractRequest{})
	require.NoError(t, err)
	require.False(t, res.FromCache)
	require.Equal(t, 1, f.source.infoCalls)
}

func TestProcessUpload_DedupsOnContentAndName(t *testing.T) {
	f := newFixture(t)
	f.audio.result = &AudioResult{Text: "uploaded lecture audio", Duration: 61.6}
	data := []byte("fake media bytes")

	first, err := f.svc.ProcessUpload(context.Background(), UploadRequest{UserID: f.user, Data: data, Filename: "talk.MP3"})
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, 62, first.Duration)
	require.Equal(t, "00:01:02", first.DurationFormatted)
	require.Equal(t, 3, first.WordCount)
	require.Equal(t, "en-US", f.audio.lastLang)
	require.Equal(t, UploadSourceRef(data, "talk.MP3"), first.Source)

	second, err := f.svc.ProcessUpload(context.Background(), UploadRequest{UserID: f.user, Data: data, Filename: "talk.MP3"})
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, *first.TranscriptID, *second.TranscriptID)
	require.Equal(t, 1, f.audio.calls)

	renamed, err := f.svc.ProcessUpload(context.Background(), UploadRequest{UserID: f.user, Data: data, Filename: "copy.mp3"})
	require.NoError(t, err)
	require.False(t, renamed.FromCache)

	rec, err := f.store.Get(context.Background(), *first.TranscriptID, f.user)
	require.NoError(t, err)
	require.Equal(t, models.SourceTypeUpload, rec.SourceType)
	require.Equal(t, "talk", rec.Title)
}

func TestProcessUpload_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"empty", UploadRequest{Filename: "a.mp4"}},
		{"no name", UploadRequest{Data: []byte("x")}},
		{"bad extension", UploadRequest{Data: []byte("x"), Filename: "notes.pdf"}},
		{"too large", UploadRequest{Data: make([]byte, 2048), Filename: "big.mp4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.UserID = f.user
			_, err := f.svc.ProcessUpload(context.Background(), tt.req)
			require.Equal(t, KindInvalidSource, KindOf(err))
		})
	}
	require.Zero(t, f.audio.calls)
}

func TestProcessUpload_RecognitionFailure(t *testing.T) {
	f := newFixture(t)
	f.audio.result = &AudioResult{Duration: 3}
	f.audio.err = newError(KindRecognitionFailure, "could not understand audio", ErrUnintelligible)

	res, err := f.svc.ProcessUpload(context.Background(), UploadRequest{UserID: f.user, Data: []byte("x"), Filename: "a.wav"})
	require.Equal(t, KindRecognitionFailure, KindOf(err))
	require.Empty(t, res.Transcript)
	require.Nil(t, res.TranscriptID)

	stats, err := f.svc.Summary(context.Background(), f.user)
	require.NoError(t, err)
	require.Zero(t, stats.TotalTranscripts)
}

func TestProcessUpload_DeadlineIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.audio.err = context.DeadlineExceeded

	_, err := f.svc.ProcessUpload(context.Background(), UploadRequest{UserID: f.user, Data: []byte("x"), Filename: "a.wav"})
	require.Equal(t, KindNetworkFailure, KindOf(err))
	require.True(t, IsRetryable(err))
}

func TestVideoInfo_RecordsProbeOnRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.VideoInfo(ctx, testVideo, f.user, false)
	require.NoError(t, err)
	require.Equal(t, "Intro to Software", info.Title)

	cats, err := f.svc.ListCategorical(ctx, f.user, "")
	require.NoError(t, err)
	require.Empty(t, cats)

	_, err = f.svc.VideoInfo(ctx, testVideo, f.user, true)
	require.NoError(t, err)
	cats, err = f.svc.ListCategorical(ctx, f.user, models.SourceTypeURL)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	require.Nil(t, cats[0].SourceID)
}

func TestDelete_IsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.extract(t, ExtractRequest{})
	require.NoError(t, err)

	deleted, err := f.svc.Delete(ctx, *res.TranscriptID, uuid.New())
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = f.svc.Delete(ctx, *res.TranscriptID, f.user)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = f.svc.Get(ctx, *res.TranscriptID, f.user)
	require.ErrorIs(t, err, repository.ErrNotFound)
	cats, err := f.svc.ListCategorical(ctx, f.user, "")
	require.NoError(t, err)
	require.Empty(t, cats)
}

func TestSetup_ReportsStoreAndAudio(t *testing.T) {
	f := newFixture(t)
	f.audio.setupState = SetupStatus{Recognizer: "whisper", FFmpegAvailable: true}

	setup := f.svc.Setup()
	require.Equal(t, "memory", setup.Store)
	require.Equal(t, "whisper", setup.Audio.Recognizer)
}
