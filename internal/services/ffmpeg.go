package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const recognizerSampleRate = 16000

// FFmpeg converts media containers into the mono 16-bit PCM WAV the
// recognizers consume.
type FFmpeg struct {
	bin string
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin}
}

func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.bin); err != nil {
		return newError(KindDependencyUnavailable, "ffmpeg not found on PATH", err)
	}
	return nil
}

// ToRecognizerWAV drops any video stream and writes mono 16 kHz PCM audio.
func (f *FFmpeg) ToRecognizerWAV(ctx context.Context, inPath, outPath string) error {
	if err := f.Available(); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, f.bin,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(recognizerSampleRate),
		"-acodec", "pcm_s16le",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(KindRecognitionFailure,
			fmt.Sprintf("ffmpeg could not extract audio: %s", strings.TrimSpace(stderr.String())), err)
	}
	return nil
}
