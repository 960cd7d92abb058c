package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vidscribe-backend/internal/captions"
	"vidscribe-backend/internal/models"
	"vidscribe-backend/internal/repository"
)

// VideoSource resolves metadata and caption payloads for a URL source.
type VideoSource interface {
	FetchVideoInfo(ctx context.Context, source string) (*models.VideoInfo, error)
	FetchRawCaptions(ctx context.Context, source string) (*RawCaptionPayload, error)
}

// SpeechTranscriber is the audio path of the pipeline.
type SpeechTranscriber interface {
	TranscribeFromSource(ctx context.Context, source, language string) (*AudioResult, error)
	TranscribeFile(ctx context.Context, data []byte, filename, language string) (*AudioResult, error)
	SetupStatus() SetupStatus
}

// InsightExtractor never fails; bad input yields empty insights.
type InsightExtractor interface {
	Extract(text string, info *models.VideoInfo) models.StructuredInsights
}

type TranscriptStore interface {
	Store(ctx context.Context, in repository.StoreInput) (uuid.UUID, error)
	GetBySource(ctx context.Context, userID uuid.UUID, source string) (*models.TranscriptRecord, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error)
	Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error)
	Delete(ctx context.Context, id, userID uuid.UUID) (bool, error)
	Summary(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error)
	RecordProbe(ctx context.Context, userID uuid.UUID, info *models.VideoInfo) (*models.CategoricalVideo, error)
	GetCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error)
	ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (int, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	BackendName() string
}

type ExtractionConfig struct {
	DefaultLanguage string
	MaxUploadBytes  int64
	LockTTL         time.Duration
	LockWait        time.Duration
	PollInterval    time.Duration
}

type ExtractRequest struct {
	Source   string
	UserID   uuid.UUID
	Method   string
	Language string
	Strict   bool
	JobID    *uuid.UUID
}

type ExtractResult struct {
	TranscriptID *uuid.UUID                `json:"transcript_id"`
	Source       string                    `json:"source"`
	Transcript   string                    `json:"transcript"`
	VideoInfo    *models.VideoInfo         `json:"video_info"`
	FromCache    bool                      `json:"from_cache"`
	Method       string                    `json:"method"`
	Insights     models.StructuredInsights `json:"insights"`
	Segments     []models.SegmentResult    `json:"segments,omitempty"`
	Diagnostic   string                    `json:"diagnostic,omitempty"`
}

type UploadRequest struct {
	UserID   uuid.UUID
	Data     []byte
	Filename string
	Language string
}

type UploadResult struct {
	TranscriptID      *uuid.UUID                `json:"transcript_id"`
	Source            string                    `json:"source"`
	Filename          string                    `json:"filename"`
	Transcript        string                    `json:"transcript"`
	Duration          int                       `json:"duration"`
	DurationFormatted string                    `json:"duration_formatted"`
	WordCount         int                       `json:"word_count"`
	CharacterCount    int                       `json:"character_count"`
	FileSize          int64                     `json:"file_size"`
	FromCache         bool                      `json:"from_cache"`
	Insights          models.StructuredInsights `json:"insights"`
	Segments          []models.SegmentResult    `json:"segments,omitempty"`
	Diagnostic        string                    `json:"diagnostic,omitempty"`
}

var uploadExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true, ".webm": true, ".mkv": true,
	".mp3": true, ".wav": true, ".ogg": true, ".aac": true, ".m4a": true,
}

// ExtractionService runs the source -> captions or audio -> insights -> store
// pipeline and serves the read side of stored transcripts.
type ExtractionService struct {
	source   VideoSource
	audio    SpeechTranscriber
	insights InsightExtractor
	store    TranscriptStore
	notifier Notifier
	locker   SourceLocker
	cfg      ExtractionConfig
}

func NewExtractionService(
	source VideoSource,
	audio SpeechTranscriber,
	insights InsightExtractor,
	store TranscriptStore,
	notifier Notifier,
	locker SourceLocker,
	cfg ExtractionConfig,
) *ExtractionService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if locker == nil {
		locker = noopLocker{}
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en-US"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &ExtractionService{
		source:   source,
		audio:    audio,
		insights: insights,
		store:    store,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
	}
}

// Extract returns the stored transcript for the source when one exists and
// otherwise extracts, analyzes and stores a new one. On RecognitionFailure
// the result is still returned, with an empty transcript, and nothing is
// stored. Every failure carries an ErrorKind.
func (s *ExtractionService) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	result, err := s.extract(ctx, req)
	if err != nil {
		return result, classify(err, KindRecognitionFailure, "transcript extraction failed")
	}
	return result, nil
}

func (s *ExtractionService) extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	videoID, canonical, err := NormalizeURL(req.Source)
	if err != nil {
		return nil, err
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = models.MethodCaptions
	}
	if method != models.MethodCaptions && method != models.MethodAudio {
		return nil, newError(KindInvalidSource, fmt.Sprintf("unknown extraction method %q", req.Method), nil)
	}
	language := req.Language
	if language == "" {
		language = s.cfg.DefaultLanguage
	}

	s.progress(ctx, req, canonical, 1, "Checking saved transcripts")
	if cached, err := s.cached(ctx, req.UserID, canonical); err != nil || cached != nil {
		return cached, err
	}

	lockKey := req.UserID.String() + ":" + canonical
	locked, lockErr := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if lockErr != nil {
		log.Printf("Source lock unavailable for %s, extracting without it: %v", canonical, lockErr)
	}
	if locked {
		defer s.locker.Unlock(context.Background(), lockKey)
	} else if lockErr == nil {
		log.Printf("Extraction of %s already in progress, waiting for it", canonical)
		if rec, err := s.waitForTranscript(ctx, req.UserID, canonical); err == nil {
			return cachedResult(rec), nil
		} else if ctx.Err() != nil {
			return nil, newError(KindNetworkFailure, "cancelled while waiting for concurrent extraction", ctx.Err())
		}
		log.Printf("Concurrent extraction of %s did not finish in time, extracting anyway", canonical)
	}

	s.progress(ctx, req, canonical, 2, "Fetching video info")
	info, err := s.source.FetchVideoInfo(ctx, canonical)
	if err != nil {
		return nil, err
	}

	result := &ExtractResult{Source: canonical, VideoInfo: info, Method: method}
	var text string
	var fileSize int64

	if method == models.MethodCaptions {
		s.progress(ctx, req, canonical, 3, "Fetching captions")
		payload, err := s.source.FetchRawCaptions(ctx, canonical)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			text = captions.Normalize(payload.Data)
			log.Printf("Captions for %s: %s track (%s), %d chars after cleanup",
				videoID, payload.Kind, payload.Language, len(text))
		}
		if text == "" {
			if req.Strict {
				return nil, newError(KindNoCaptionsAvailable, "no usable captions for video "+videoID, nil)
			}
			log.Printf("No usable captions for %s, falling back to audio transcription", videoID)
			method = models.MethodAudio
			result.Method = method
		}
	}

	if method == models.MethodAudio {
		s.progress(ctx, req, canonical, 4, "Transcribing audio")
		audio, err := s.audio.TranscribeFromSource(ctx, canonical, language)
		if audio != nil {
			result.Segments = audio.Segments
			result.Diagnostic = audio.Diagnostic
			text = audio.Text
			fileSize = audio.FileSize
		}
		if err != nil {
			if KindOf(err) == KindRecognitionFailure {
				result.Transcript = ""
				result.Insights = s.insights.Extract("", info)
				return result, err
			}
			return nil, err
		}
	}

	s.progress(ctx, req, canonical, 5, "Analyzing transcript")
	result.Transcript = text
	result.Insights = s.insights.Extract(text, info)

	s.progress(ctx, req, canonical, 6, "Saving transcript")
	id, err := s.store.Store(ctx, repository.StoreInput{
		UserID:     req.UserID,
		Source:     canonical,
		SourceType: models.SourceTypeURL,
		Title:      info.Title,
		Duration:   info.Duration,
		Transcript: text,
		Method:     method,
		Language:   result.Insights.Language,
		FileSize:   fileSize,
		VideoInfo:  info,
		Insights:   result.Insights,
	})
	if err != nil {
		return nil, newError(KindStorageFailure, "failed to save transcript", err)
	}
	result.TranscriptID = &id

	log.Printf("Extracted %s via %s: %d words", videoID, method, len(strings.Fields(text)))
	return result, nil
}

func (s *ExtractionService) cached(ctx context.Context, userID uuid.UUID, source string) (*ExtractResult, error) {
	rec, err := s.store.GetBySource(ctx, userID, source)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(KindStorageFailure, "failed to look up saved transcript", err)
	}
	return cachedResult(rec), nil
}

func cachedResult(rec *models.TranscriptRecord) *ExtractResult {
	id := rec.ID
	return &ExtractResult{
		TranscriptID: &id,
		Source:       rec.SourceRef,
		Transcript:   rec.Transcript,
		VideoInfo:    rec.VideoInfo,
		FromCache:    true,
		Method:       rec.Method,
		Insights:     rec.Insights,
	}
}

// waitForTranscript polls the store until another extraction of the same
// source lands or the wait budget runs out.
func (s *ExtractionService) waitForTranscript(ctx context.Context, userID uuid.UUID, source string) (*models.TranscriptRecord, error) {
	deadline := time.Now().Add(s.cfg.LockWait)

	for {
		rec, err := s.store.GetBySource(ctx, userID, source)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transcript for %s not ready after %s", source, s.cfg.LockWait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *ExtractionService) progress(ctx context.Context, req ExtractRequest, source string, step int, name string) {
	log.Printf("[%s] step %d: %s", source, step, name)
	s.notifier.Publish(ctx, req.UserID, models.WSMessage{
		Type: "status_update",
		Payload: models.StatusUpdate{
			JobID:    req.JobID,
			Source:   source,
			Step:     step,
			StepName: name,
		},
	})
}

// ProcessUpload transcribes uploaded media. Uploads are deduplicated on the
// content hash plus filename.
func (s *ExtractionService) ProcessUpload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	result, err := s.processUpload(ctx, req)
	if err != nil {
		return result, classify(err, KindRecognitionFailure, "upload transcription failed")
	}
	return result, nil
}

func (s *ExtractionService) processUpload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if len(req.Data) == 0 {
		return nil, newError(KindInvalidSource, "uploaded file is empty", nil)
	}
	if filename == "." || filename == "/" || filename == "" {
		return nil, newError(KindInvalidSource, "uploaded file has no name", nil)
	}
	if !uploadExtensions[strings.ToLower(filepath.Ext(filename))] {
		return nil, newError(KindInvalidSource, fmt.Sprintf("unsupported file type %q", filepath.Ext(filename)), nil)
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(req.Data)) > s.cfg.MaxUploadBytes {
		return nil, newError(KindInvalidSource,
			fmt.Sprintf("file exceeds the %d MB limit", s.cfg.MaxUploadBytes/(1024*1024)), nil)
	}

	ref := UploadSourceRef(req.Data, filename)
	if rec, err := s.store.GetBySource(ctx, req.UserID, ref); err == nil {
		return uploadFromRecord(rec, filename), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindStorageFailure, "failed to look up saved transcript", err)
	}

	language := req.Language
	if language == "" {
		language = s.cfg.DefaultLanguage
	}

	pr := ExtractRequest{UserID: req.UserID}
	s.progress(ctx, pr, ref, 1, "Transcribing upload")
	audio, err := s.audio.TranscribeFile(ctx, req.Data, filename, language)

	result := &UploadResult{
		Source:   ref,
		Filename: filename,
		FileSize: int64(len(req.Data)),
	}
	if audio != nil {
		result.Transcript = audio.Text
		result.Duration = int(audio.Duration + 0.5)
		result.Segments = audio.Segments
		result.Diagnostic = audio.Diagnostic
	}
	result.DurationFormatted = FormatDuration(result.Duration)
	if err != nil {
		if KindOf(err) == KindRecognitionFailure {
			result.Transcript = ""
			result.Insights = s.insights.Extract("", nil)
			return result, err
		}
		return nil, err
	}

	result.WordCount = len(strings.Fields(result.Transcript))
	result.CharacterCount = utf8.RuneCountInString(result.Transcript)
	result.Insights = s.insights.Extract(result.Transcript, nil)

	s.progress(ctx, pr, ref, 2, "Saving transcript")
	id, err := s.store.Store(ctx, repository.StoreInput{
		UserID:     req.UserID,
		Source:     ref,
		SourceType: models.SourceTypeUpload,
		Title:      strings.TrimSuffix(filename, filepath.Ext(filename)),
		Duration:   result.Duration,
		Transcript: result.Transcript,
		Method:     models.MethodAudio,
		Language:   result.Insights.Language,
		FileSize:   result.FileSize,
		Insights:   result.Insights,
	})
	if err != nil {
		return nil, newError(KindStorageFailure, "failed to save transcript", err)
	}
	result.TranscriptID = &id
	return result, nil
}

func uploadFromRecord(rec *models.TranscriptRecord, filename string) *UploadResult {
	id := rec.ID
	return &UploadResult{
		TranscriptID:      &id,
		Source:            rec.SourceRef,
		Filename:          filename,
		Transcript:        rec.Transcript,
		Duration:          rec.Duration,
		DurationFormatted: rec.DurationFormatted,
		WordCount:         rec.WordCount,
		CharacterCount:    rec.CharacterCount,
		FileSize:          rec.FileSize,
		FromCache:         true,
		Insights:          rec.Insights,
	}
}

// VideoInfo fetches metadata only. With record set, a standalone
// categorical entry is written for the lookup.
func (s *ExtractionService) VideoInfo(ctx context.Context, source string, userID uuid.UUID, record bool) (*models.VideoInfo, error) {
	_, canonical, err := NormalizeURL(source)
	if err != nil {
		return nil, err
	}
	info, err := s.source.FetchVideoInfo(ctx, canonical)
	if err != nil {
		return info, err
	}
	if record {
		if _, err := s.store.RecordProbe(ctx, userID, info); err != nil {
			log.Printf("Failed to record video probe for %s: %v", canonical, err)
		}
	}
	return info, nil
}

func (s *ExtractionService) Get(ctx context.Context, id, userID uuid.UUID) (*models.TranscriptRecord, error) {
	return s.store.Get(ctx, id, userID)
}

func (s *ExtractionService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.TranscriptRecord, int, error) {
	return s.store.List(ctx, userID, limit, offset)
}

func (s *ExtractionService) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.TranscriptRecord, error) {
	return s.store.Search(ctx, userID, query, limit)
}

func (s *ExtractionService) Delete(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	return s.store.Delete(ctx, id, userID)
}

func (s *ExtractionService) Summary(ctx context.Context, userID uuid.UUID) (*models.AggregateStats, error) {
	return s.store.Summary(ctx, userID)
}

func (s *ExtractionService) GetCategorical(ctx context.Context, videoID, userID uuid.UUID) (*models.CategoricalVideo, error) {
	return s.store.GetCategorical(ctx, videoID, userID)
}

func (s *ExtractionService) ListCategorical(ctx context.Context, userID uuid.UUID, sourceType string) ([]*models.CategoricalVideo, error) {
	return s.store.ListCategorical(ctx, userID, sourceType)
}

func (s *ExtractionService) Reconcile(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.Reconcile(ctx, userID)
}

// Setup reports which optional dependencies this host can use.
type Setup struct {
	Store string      `json:"store"`
	Audio SetupStatus `json:"audio"`
}

func (s *ExtractionService) Setup() Setup {
	return Setup{Store: s.store.BackendName(), Audio: s.audio.SetupStatus()}
}
