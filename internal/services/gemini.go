package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const unintelligibleMarker = "[UNINTELLIGIBLE]"

// GeminiRecognizer transcribes audio through the Gemini file API.
type GeminiRecognizer struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

func NewGeminiRecognizer(ctx context.Context, apiKey, modelName string, concurrentReqs int) (*GeminiRecognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiRecognizer{client: client, model: model, rateChan: rateChan}, nil
}

func (g *GeminiRecognizer) Name() string { return "gemini" }

func (g *GeminiRecognizer) Available() error { return nil }

func (g *GeminiRecognizer) Close() {
	g.client.Close()
}

// acquireRate blocks until a rate slot is available
func (g *GeminiRecognizer) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return newError(KindNetworkFailure, "timeout waiting for Gemini rate slot", nil)
	}
}

func (g *GeminiRecognizer) releaseRate() {
	g.rateChan <- struct{}{}
}

func (g *GeminiRecognizer) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	if len(wav) == 0 {
		return "", newError(KindRecognitionFailure, "audio payload is empty", nil)
	}
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	file, err := g.client.UploadFile(ctx, "", bytes.NewReader(wav), &genai.UploadFileOptions{
		DisplayName: "transcription-audio",
		MIMEType:    "audio/wav",
	})
	if err != nil {
		return "", geminiError("failed to upload audio to Gemini", err)
	}

	// Ensure remote file is cleaned up
	defer g.client.DeleteFile(context.Background(), file.Name)

	for i := 0; i < 20 && file.State != genai.FileStateActive; i++ {
		current, getErr := g.client.GetFile(ctx, file.Name)
		if getErr != nil {
			return "", geminiError("failed to get uploaded file status", getErr)
		}
		if current.State == genai.FileStateFailed {
			return "", newError(KindRecognitionFailure, "Gemini failed to process uploaded audio file", nil)
		}
		file = current
		if file.State == genai.FileStateActive {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if file.State != genai.FileStateActive {
		return "", newError(KindNetworkFailure, "audio file did not become active in time", nil)
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Text(transcriptionPrompt(language)),
		genai.FileData{MIMEType: "audio/wav", URI: file.URI},
	)
	if err != nil {
		return "", geminiError("Gemini transcription error", err)
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" || strings.Contains(text, unintelligibleMarker) {
		return "", ErrUnintelligible
	}
	return text, nil
}

func transcriptionPrompt(language string) string {
	prompt := "Transcribe the provided audio verbatim. Return plain text only, without markdown, headers, timestamps, or explanations. " +
		"If the audio contains no intelligible speech, reply with exactly " + unintelligibleMarker + "."
	if lang := baseLanguage(language); lang != "" {
		prompt += fmt.Sprintf(" The spoken language is %q.", lang)
	}
	return prompt
}

// geminiError maps API status codes onto the transient/permanent split.
func geminiError(msg string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		err = fmt.Errorf("%w: %v", &HTTPStatusError{URL: "generativelanguage.googleapis.com", StatusCode: apiErr.Code}, err)
	}
	return classify(err, KindRecognitionFailure, msg)
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
