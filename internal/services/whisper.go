package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperRecognizer runs a local whisper.cpp binary on each clip.
type WhisperRecognizer struct {
	bin       string
	modelPath string
	tempDir   string
}

func NewWhisperRecognizer(bin, modelPath, tempDir string) *WhisperRecognizer {
	if bin == "" {
		bin = "whisper-cli"
	}
	return &WhisperRecognizer{bin: bin, modelPath: modelPath, tempDir: tempDir}
}

func (w *WhisperRecognizer) Name() string { return "whisper" }

func (w *WhisperRecognizer) Available() error {
	if _, err := exec.LookPath(w.bin); err != nil {
		return newError(KindDependencyUnavailable, fmt.Sprintf("%s not found on PATH", w.bin), err)
	}
	if w.modelPath == "" {
		return newError(KindDependencyUnavailable, "WHISPER_MODEL is not set", nil)
	}
	if _, err := os.Stat(w.modelPath); err != nil {
		return newError(KindDependencyUnavailable, "whisper model file missing", err)
	}
	return nil
}

func (w *WhisperRecognizer) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	if err := w.Available(); err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(w.tempDir, "whisper-*")
	if err != nil {
		return "", newError(KindRecognitionFailure, "failed to create temp dir", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(input, wav, 0o600); err != nil {
		return "", newError(KindRecognitionFailure, "failed to write clip", err)
	}

	lang := baseLanguage(language)
	if lang == "" {
		lang = "auto"
	}

	cmd := exec.CommandContext(ctx, w.bin, "-m", w.modelPath, "-f", input, "-l", lang, "-nt", "-np")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newError(KindRecognitionFailure,
			fmt.Sprintf("whisper failed: %s", strings.TrimSpace(stderr.String())), err)
	}

	text := strings.Join(strings.Fields(stdout.String()), " ")
	text = strings.TrimSpace(strings.ReplaceAll(text, "[BLANK_AUDIO]", ""))
	if text == "" {
		return "", ErrUnintelligible
	}
	return text, nil
}
