package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// toneWAV builds mono 16-bit audio where every sample of second i holds the
// value i, so a stub recognizer can tell segments apart.
func toneWAV(seconds, sampleRate int) []byte {
	pcm := make([]byte, 0, seconds*sampleRate*2)
	for s := 0; s < seconds; s++ {
		for i := 0; i < sampleRate; i++ {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(s))
		}
	}
	return EncodeWAV(sampleRate, 1, 16, pcm)
}

type segmentRecognizer struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool
	err   error
}

func (r *segmentRecognizer) Name() string     { return "stub" }
func (r *segmentRecognizer) Available() error { return nil }

func (r *segmentRecognizer) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	parsed, err := ParseWAV(wav)
	if err != nil {
		return "", err
	}
	idx := int(binary.LittleEndian.Uint16(parsed.Data[:2]))
	if r.fail[idx] {
		if r.err != nil {
			return "", r.err
		}
		return "", ErrUnintelligible
	}
	return fmt.Sprintf("segment%d", idx), nil
}

type stubConverter struct {
	err        error
	convertErr error
	wav        []byte
	inPaths    []string
}

func (c *stubConverter) Available() error { return c.err }

func (c *stubConverter) ToRecognizerWAV(ctx context.Context, inPath, outPath string) error {
	c.inPaths = append(c.inPaths, inPath)
	if c.err != nil {
		return c.err
	}
	if c.convertErr != nil {
		return c.convertErr
	}
	return os.WriteFile(outPath, c.wav, 0o600)
}

type stubDownloader struct {
	data []byte
	err  error
}

func (d *stubDownloader) DownloadAudio(ctx context.Context, source string, w io.Writer) (string, int64, error) {
	if d.err != nil {
		return "", 0, d.err
	}
	n, err := w.Write(d.data)
	return "audio/mp4", int64(n), err
}

func TestWAV_ParseAndSplit(t *testing.T) {
	wav, err := ParseWAV(toneWAV(5, 100))
	require.NoError(t, err)
	require.Equal(t, 100, wav.SampleRate)
	require.InDelta(t, 5.0, wav.Duration(), 0.001)

	segments := wav.Split(2)
	require.Len(t, segments, 3)
	require.InDelta(t, 4.0, segments[2].Start, 0.001)
	require.InDelta(t, 5.0, segments[2].End, 0.001)

	last, err := ParseWAV(segments[2].Bytes)
	require.NoError(t, err)
	require.InDelta(t, 1.0, last.Duration(), 0.001)
}

func TestParseWAV_RejectsGarbage(t *testing.T) {
	_, err := ParseWAV([]byte("definitely not audio"))
	require.Error(t, err)
}

func TestTranscribeChunked_PartialFailure(t *testing.T) {
	rec := &segmentRecognizer{fail: map[int]bool{0: true, 2: true, 4: true}}
	at := NewAudioTranscriber(nil, &stubConverter{}, rec, AudioConfig{ChunkSeconds: 60, Workers: 2})

	res, err := at.TranscribeChunked(context.Background(), toneWAV(5, 100), "en", 1)
	require.NoError(t, err)
	require.Equal(t, "segment1 segment3", res.Text)
	require.Len(t, res.Segments, 5)
	require.Equal(t, 5, rec.calls)

	for i, seg := range res.Segments {
		require.Equal(t, i, seg.Index)
		if i%2 == 0 {
			require.NotEmpty(t, seg.Error)
			require.Empty(t, seg.Text)
		} else {
			require.Empty(t, seg.Error)
		}
	}
	require.Equal(t, "3 of 5 segments failed", res.Diagnostic)
}

func TestTranscribeChunked_AllFail(t *testing.T) {
	rec := &segmentRecognizer{fail: map[int]bool{0: true, 1: true}}
	at := NewAudioTranscriber(nil, &stubConverter{}, rec, AudioConfig{Workers: 2})

	res, err := at.TranscribeChunked(context.Background(), toneWAV(2, 100), "en", 1)
	require.Equal(t, KindRecognitionFailure, KindOf(err))
	require.NotNil(t, res)
	require.Empty(t, res.Text)
	require.Len(t, res.Segments, 2)
}

func TestTranscribeWAV_ShortClipUsesSingleCall(t *testing.T) {
	rec := &segmentRecognizer{}
	at := NewAudioTranscriber(nil, &stubConverter{}, rec, AudioConfig{ChunkSeconds: 60})

	res, err := at.TranscribeWAV(context.Background(), toneWAV(3, 100), "en")
	require.NoError(t, err)
	require.Equal(t, "segment0", res.Text)
	require.Empty(t, res.Segments)
	require.Equal(t, 1, rec.calls)
}

func TestTranscribeWAV_UnintelligibleIsRecognitionFailure(t *testing.T) {
	rec := &segmentRecognizer{fail: map[int]bool{0: true}}
	at := NewAudioTranscriber(nil, &stubConverter{}, rec, AudioConfig{})

	res, err := at.TranscribeWAV(context.Background(), toneWAV(1, 100), "en")
	require.Equal(t, KindRecognitionFailure, KindOf(err))
	require.True(t, errors.Is(err, ErrUnintelligible))
	require.Empty(t, res.Text)
	require.Contains(t, res.Diagnostic, "could not understand")
}

func TestTranscribeWAV_TransientRecognizerErrorIsRetryable(t *testing.T) {
	rec := &segmentRecognizer{
		fail: map[int]bool{0: true},
		err:  &HTTPStatusError{URL: "recognizer", StatusCode: 503},
	}
	at := NewAudioTranscriber(nil, &stubConverter{}, rec, AudioConfig{})

	_, err := at.TranscribeWAV(context.Background(), toneWAV(1, 100), "en")
	require.True(t, IsRetryable(err))
}

func TestTranscribeFromSource_CleansTempFiles(t *testing.T) {
	tmp := t.TempDir()
	conv := &stubConverter{wav: toneWAV(1, 100)}
	at := NewAudioTranscriber(&stubDownloader{data: []byte("mp4-bytes")}, conv, &segmentRecognizer{}, AudioConfig{TempDir: tmp})

	res, err := at.TranscribeFromSource(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "en")
	require.NoError(t, err)
	require.Equal(t, "segment0", res.Text)
	require.Equal(t, int64(len("mp4-bytes")), res.FileSize)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries, "temp media must be removed")
}

func TestTranscribeFile_CleansTempFilesOnFailure(t *testing.T) {
	tmp := t.TempDir()
	conv := &stubConverter{wav: []byte("broken")}
	at := NewAudioTranscriber(nil, conv, &segmentRecognizer{}, AudioConfig{TempDir: tmp})

	_, err := at.TranscribeFile(context.Background(), []byte("video"), "Lecture.MP4", "en")
	require.Equal(t, KindRecognitionFailure, KindOf(err))
	require.True(t, strings.HasSuffix(conv.inPaths[0], ".mp4"))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTranscribeFile_ConversionTimeoutIsRetryable(t *testing.T) {
	conv := &stubConverter{convertErr: context.DeadlineExceeded}
	at := NewAudioTranscriber(nil, conv, &segmentRecognizer{}, AudioConfig{TempDir: t.TempDir()})

	_, err := at.TranscribeFile(context.Background(), []byte("video"), "talk.mp4", "en")
	require.Equal(t, KindNetworkFailure, KindOf(err))
	require.True(t, IsRetryable(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTranscribeFile_ConversionErrorIsRecognitionFailure(t *testing.T) {
	conv := &stubConverter{convertErr: errors.New("ffmpeg: invalid data found when processing input")}
	at := NewAudioTranscriber(nil, conv, &segmentRecognizer{}, AudioConfig{TempDir: t.TempDir()})

	_, err := at.TranscribeFile(context.Background(), []byte("video"), "talk.mp4", "en")
	require.Equal(t, KindRecognitionFailure, KindOf(err))
	require.False(t, IsRetryable(err))
}

func TestTranscribe_MissingDependency(t *testing.T) {
	conv := &stubConverter{err: newError(KindDependencyUnavailable, "ffmpeg not found on PATH", nil)}
	at := NewAudioTranscriber(&stubDownloader{}, conv, &segmentRecognizer{}, AudioConfig{TempDir: t.TempDir()})

	_, err := at.TranscribeFromSource(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "en")
	require.Equal(t, KindDependencyUnavailable, KindOf(err))

	status := at.SetupStatus()
	require.False(t, status.FFmpegAvailable)
	require.True(t, status.RecognizerReady)
}
