package models

import (
	"time"

	"github.com/google/uuid"
)

const JobTypeExtraction = "transcript-extraction"

type Job struct {
	ID           uuid.UUID                `json:"id"`
	UserID       uuid.UUID                `json:"user_id"`
	Type         string                   `json:"type"`
	Request      ExtractTranscriptRequest `json:"request"`
	Status       string                   `json:"status"` // "pending" | "processing" | "completed" | "failed"
	ResultID     *uuid.UUID               `json:"result_id"`
	RetryCount   int                      `json:"retry_count"`
	MaxRetries   int                      `json:"max_retries"`
	ErrorCode    *string                  `json:"error_code"`
	ErrorMessage *string                  `json:"error_message"`
	CreatedAt    time.Time                `json:"created_at"`
	CompletedAt  *time.Time               `json:"completed_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	JobID    *uuid.UUID `json:"job_id,omitempty"`
	Source   string     `json:"source"`
	Step     int        `json:"step"`
	StepName string     `json:"step_name"`
}

type CompletedEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	TranscriptID uuid.UUID `json:"transcript_id"`
	FromCache    bool      `json:"from_cache"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
