package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnintelligible means the recognizer heard no usable speech.
var ErrUnintelligible = errors.New("could not understand audio")

// Recognizer turns a mono PCM WAV clip into text.
type Recognizer interface {
	Name() string
	Available() error
	Recognize(ctx context.Context, wav []byte, language string) (string, error)
}

// unavailableRecognizer stands in for a backend that could not be configured.
type unavailableRecognizer struct {
	name   string
	reason error
}

func NewUnavailableRecognizer(name string, reason error) Recognizer {
	return &unavailableRecognizer{name: name, reason: reason}
}

func (u *unavailableRecognizer) Name() string { return u.name }

func (u *unavailableRecognizer) Available() error {
	return newError(KindDependencyUnavailable, fmt.Sprintf("%s recognizer is not configured", u.name), u.reason)
}

func (u *unavailableRecognizer) Recognize(context.Context, []byte, string) (string, error) {
	return "", u.Available()
}

// baseLanguage reduces a locale such as en-US to its language code.
func baseLanguage(language string) string {
	language = strings.TrimSpace(language)
	if i := strings.IndexAny(language, "-_"); i > 0 {
		language = language[:i]
	}
	return strings.ToLower(language)
}
