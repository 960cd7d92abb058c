package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"vidscribe-backend/internal/models"
)

// AudioDownloader streams a source's audio track into w.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, source string, w io.Writer) (string, int64, error)
}

// AudioConverter produces recognizer-ready WAV from any media container.
type AudioConverter interface {
	Available() error
	ToRecognizerWAV(ctx context.Context, inPath, outPath string) error
}

type AudioConfig struct {
	ChunkSeconds int
	Workers      int
	TempDir      string
}

type AudioTranscriber struct {
	downloader   AudioDownloader
	converter    AudioConverter
	recognizer   Recognizer
	chunkSeconds float64
	workers      int
	tempDir      string
}

// AudioResult carries recognized text and, in chunked mode, one audit entry
// per segment.
type AudioResult struct {
	Text       string
	Duration   float64
	FileSize   int64
	Segments   []models.SegmentResult
	Diagnostic string
}

// SetupStatus reports whether the audio path can run on this host.
type SetupStatus struct {
	FFmpegAvailable  bool   `json:"ffmpeg_available"`
	FFmpegError      string `json:"ffmpeg_error,omitempty"`
	Recognizer       string `json:"recognizer"`
	RecognizerReady  bool   `json:"recognizer_ready"`
	RecognizerError  string `json:"recognizer_error,omitempty"`
	ChunkSeconds     int    `json:"chunk_seconds"`
	ChunkConcurrency int    `json:"chunk_concurrency"`
}

func NewAudioTranscriber(downloader AudioDownloader, converter AudioConverter, recognizer Recognizer, cfg AudioConfig) *AudioTranscriber {
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = 60
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	return &AudioTranscriber{
		downloader:   downloader,
		converter:    converter,
		recognizer:   recognizer,
		chunkSeconds: float64(cfg.ChunkSeconds),
		workers:      cfg.Workers,
		tempDir:      cfg.TempDir,
	}
}

func (a *AudioTranscriber) SetupStatus() SetupStatus {
	st := SetupStatus{
		Recognizer:       a.recognizer.Name(),
		ChunkSeconds:     int(a.chunkSeconds),
		ChunkConcurrency: a.workers,
	}
	if err := a.converter.Available(); err != nil {
		st.FFmpegError = err.Error()
	} else {
		st.FFmpegAvailable = true
	}
	if err := a.recognizer.Available(); err != nil {
		st.RecognizerError = err.Error()
	} else {
		st.RecognizerReady = true
	}
	return st
}

func (a *AudioTranscriber) checkDependencies() error {
	if err := a.converter.Available(); err != nil {
		return classify(err, KindDependencyUnavailable, "media converter unavailable")
	}
	if err := a.recognizer.Available(); err != nil {
		return classify(err, KindDependencyUnavailable, "speech recognizer unavailable")
	}
	return nil
}

// TranscribeFromSource downloads the audio of a URL source and transcribes it.
// Temporary media never outlives the call.
func (a *AudioTranscriber) TranscribeFromSource(ctx context.Context, source, language string) (*AudioResult, error) {
	if err := a.checkDependencies(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(a.tempDir, "vidscribe-audio-*")
	if err != nil {
		return nil, newError(KindRecognitionFailure, "failed to create temp dir", err)
	}
	defer os.RemoveAll(dir)

	rawPath := filepath.Join(dir, "source.audio")
	f, err := os.Create(rawPath)
	if err != nil {
		return nil, newError(KindRecognitionFailure, "failed to create temp file", err)
	}
	_, size, err := a.downloader.DownloadAudio(ctx, source, f)
	f.Close()
	if err != nil {
		return nil, classify(err, KindRecognitionFailure, "audio download failed")
	}

	res, err := a.convertAndTranscribe(ctx, dir, rawPath, language)
	if res != nil {
		res.FileSize = size
	}
	return res, err
}

// TranscribeBytes transcribes an in-memory audio or video container.
func (a *AudioTranscriber) TranscribeBytes(ctx context.Context, data []byte, language string) (*AudioResult, error) {
	return a.TranscribeFile(ctx, data, "input.bin", language)
}

// TranscribeFile transcribes uploaded media; filename only picks the temp
// file extension so ffmpeg can sniff the container.
func (a *AudioTranscriber) TranscribeFile(ctx context.Context, data []byte, filename, language string) (*AudioResult, error) {
	if len(data) == 0 {
		return nil, newError(KindRecognitionFailure, "media payload is empty", nil)
	}
	if err := a.checkDependencies(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(a.tempDir, "vidscribe-upload-*")
	if err != nil {
		return nil, newError(KindRecognitionFailure, "failed to create temp dir", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(filename)))
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, newError(KindRecognitionFailure, "failed to write temp media", err)
	}

	res, err := a.convertAndTranscribe(ctx, dir, inPath, language)
	if res != nil {
		res.FileSize = int64(len(data))
	}
	return res, err
}

func (a *AudioTranscriber) convertAndTranscribe(ctx context.Context, dir, inPath, language string) (*AudioResult, error) {
	wavPath := filepath.Join(dir, "audio.wav")
	if err := a.converter.ToRecognizerWAV(ctx, inPath, wavPath); err != nil {
		return nil, classify(err, KindRecognitionFailure, "audio conversion failed")
	}
	wavBytes, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, newError(KindRecognitionFailure, "failed to read converted audio", err)
	}
	return a.TranscribeWAV(ctx, wavBytes, language)
}

// TranscribeWAV recognizes a WAV clip, switching to chunked mode when it is
// longer than one chunk.
func (a *AudioTranscriber) TranscribeWAV(ctx context.Context, wavBytes []byte, language string) (*AudioResult, error) {
	wav, err := ParseWAV(wavBytes)
	if err != nil {
		return nil, newError(KindRecognitionFailure, "invalid WAV audio", err)
	}

	if wav.Duration() > a.chunkSeconds {
		return a.transcribeSegments(ctx, wav, language, a.chunkSeconds)
	}

	res := &AudioResult{Duration: wav.Duration()}
	text, err := a.recognizer.Recognize(ctx, wavBytes, language)
	if err != nil {
		res.Diagnostic = err.Error()
		return res, recognitionError(err)
	}
	res.Text = text
	return res, nil
}

// TranscribeChunked splits audio into fixed segments and recognizes them
// concurrently. A failing segment never cancels its siblings.
func (a *AudioTranscriber) TranscribeChunked(ctx context.Context, wavBytes []byte, language string, chunkSeconds float64) (*AudioResult, error) {
	wav, err := ParseWAV(wavBytes)
	if err != nil {
		return nil, newError(KindRecognitionFailure, "invalid WAV audio", err)
	}
	if chunkSeconds <= 0 {
		chunkSeconds = a.chunkSeconds
	}
	return a.transcribeSegments(ctx, wav, language, chunkSeconds)
}

func (a *AudioTranscriber) transcribeSegments(ctx context.Context, wav *WAV, language string, chunkSeconds float64) (*AudioResult, error) {
	segments := wav.Split(chunkSeconds)
	audit := make([]models.SegmentResult, len(segments))

	var g errgroup.Group
	g.SetLimit(a.workers)
	for _, seg := range segments {
		g.Go(func() error {
			entry := models.SegmentResult{Index: seg.Index, StartSeconds: seg.Start, EndSeconds: seg.End}
			text, err := a.recognizer.Recognize(ctx, seg.Bytes, language)
			if err != nil {
				entry.Error = err.Error()
				log.Printf("Segment %d (%.0fs-%.0fs) failed: %v", seg.Index, seg.Start, seg.End, err)
			} else {
				entry.Text = text
			}
			audit[seg.Index] = entry
			return nil
		})
	}
	g.Wait()

	var parts []string
	failed := 0
	var firstErr string
	for _, entry := range audit {
		if entry.Error != "" {
			failed++
			if firstErr == "" {
				firstErr = entry.Error
			}
			continue
		}
		if t := strings.TrimSpace(entry.Text); t != "" {
			parts = append(parts, t)
		}
	}

	res := &AudioResult{
		Text:     strings.Join(parts, " "),
		Duration: wav.Duration(),
		Segments: audit,
	}
	if failed > 0 {
		res.Diagnostic = fmt.Sprintf("%d of %d segments failed", failed, len(audit))
	}
	if ctx.Err() != nil {
		return res, newError(KindRecognitionFailure, "transcription cancelled", ctx.Err())
	}
	if res.Text == "" {
		return res, newError(KindRecognitionFailure, "no segment produced text: "+firstErr, nil)
	}
	return res, nil
}

func recognitionError(err error) error {
	if errors.Is(err, ErrUnintelligible) {
		return newError(KindRecognitionFailure, "could not understand audio", err)
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	return classify(err, KindRecognitionFailure, "speech recognition failed")
}
