package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SourceTypeURL    = "url"
	SourceTypeUpload = "upload"

	MethodCaptions = "captions"
	MethodAudio    = "audio"

	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// VideoInfo is re-fetched per request and never cached across calls.
type VideoInfo struct {
	VideoID           string   `json:"video_id" bson:"video_id"`
	Title             string   `json:"title" bson:"title"`
	Duration          int      `json:"duration" bson:"duration"`
	DurationFormatted string   `json:"duration_formatted" bson:"duration_formatted"`
	Uploader          string   `json:"uploader" bson:"uploader"`
	UploadDate        string   `json:"upload_date" bson:"upload_date"`
	Description       string   `json:"description" bson:"description"`
	Thumbnail         string   `json:"thumbnail" bson:"thumbnail"`
	Tags              []string `json:"tags" bson:"tags"`
	Category          string   `json:"category" bson:"category"`
	ChannelID         string   `json:"channel_id" bson:"channel_id"`
	ChannelURL        string   `json:"channel_url" bson:"channel_url"`
	WebpageURL        string   `json:"webpage_url" bson:"webpage_url"`
	ViewCount         int      `json:"view_count" bson:"view_count"`
	Error             string   `json:"error,omitempty" bson:"error,omitempty"`
}

type Sentiment struct {
	Score float64 `json:"score" bson:"score"`
	Label string  `json:"label" bson:"label"` // "positive" | "negative" | "neutral"
}

type StructuredInsights struct {
	Keywords    []string  `json:"keywords" bson:"keywords"`
	Sentiment   Sentiment `json:"sentiment" bson:"sentiment"`
	Topics      []string  `json:"topics" bson:"topics"`
	KeyPhrases  []string  `json:"key_phrases" bson:"key_phrases"`
	Language    string    `json:"language" bson:"language"`
	Readability float64   `json:"readability" bson:"readability"`
}

type TranscriptRecord struct {
	ID                uuid.UUID          `json:"id"`
	UserID            uuid.UUID          `json:"user_id"`
	SourceRef         string             `json:"source"`
	SourceType        string             `json:"source_type"` // "url" | "upload"
	Title             string             `json:"title"`
	Duration          int                `json:"duration"`
	DurationFormatted string             `json:"duration_formatted"`
	Transcript        string             `json:"transcript"`
	Method            string             `json:"method"` // "captions" | "audio"
	Language          string             `json:"language"`
	WordCount         int                `json:"word_count"`
	CharacterCount    int                `json:"character_count"`
	FileSize          int64              `json:"file_size"`
	Status            string             `json:"status"`
	VideoInfo         *VideoInfo         `json:"video_info,omitempty"`
	Insights          StructuredInsights `json:"insights"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// CategoricalVideo is the flattened secondary index of a transcript. SourceID
// is nil for standalone metadata probes.
type CategoricalVideo struct {
	VideoID          uuid.UUID  `json:"video_id"`
	UserID           uuid.UUID  `json:"user_id"`
	Name             string     `json:"name"`
	URL              *string    `json:"url"`
	Description      string     `json:"description"`
	Transcript       string     `json:"transcript"`
	Duration         int        `json:"duration"`
	SourceType       string     `json:"source_type"`
	SourceID         *uuid.UUID `json:"source_id"`
	WordCount        int        `json:"word_count"`
	CharacterCount   int        `json:"character_count"`
	Keywords         []string   `json:"keywords"`
	Topics           []string   `json:"topics"`
	KeyPhrases       []string   `json:"key_phrases"`
	SentimentScore   float64    `json:"sentiment_score"`
	SentimentLabel   string     `json:"sentiment_label"`
	Language         string     `json:"language"`
	ReadabilityScore float64    `json:"readability_score"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type AggregateStats struct {
	TotalTranscripts     int     `json:"total_transcripts"`
	TotalWords           int64   `json:"total_words"`
	TotalCharacters      int64   `json:"total_characters"`
	TotalFileSize        int64   `json:"total_file_size"`
	TotalFileSizeMB      float64 `json:"total_file_size_mb"`
	AverageDuration      float64 `json:"average_duration"`
	AverageDurationLabel string  `json:"average_duration_formatted"`
	AverageWordCount     float64 `json:"average_word_count"`
	URLCount             int     `json:"url_count"`
	UploadCount          int     `json:"upload_count"`
	CategoricalCount     int     `json:"categorical_count"`
	MissingCategorical   int     `json:"missing_categorical"`
}

// SegmentResult is one entry of the chunked transcription audit trail.
type SegmentResult struct {
	Index        int     `json:"index" bson:"index"`
	StartSeconds float64 `json:"start_seconds" bson:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds" bson:"end_seconds"`
	Text         string  `json:"text" bson:"text"`
	Error        string  `json:"error,omitempty" bson:"error,omitempty"`
}

// Request bodies

type ExtractTranscriptRequest struct {
	URL      string `json:"url"`
	Method   string `json:"method"`
	Language string `json:"language"`
	Strict   bool   `json:"strict"`
	Async    bool   `json:"async"`
}

type VideoInfoRequest struct {
	URL    string `json:"url"`
	Record bool   `json:"record"`
}
