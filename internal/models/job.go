package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeSessionFinalize = "session-finalize"

	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

type Job struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"` // "session-finalize"
	LiveID       uuid.UUID       `json:"live_id"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"` // "pending" | "processing" | "completed" | "failed"
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ResultID     *uuid.UUID      `json:"result_id"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// FinalizePayload is the snapshot of a live session handed to the worker.
type FinalizePayload struct {
	TestURL             string                `json:"testUrl"`
	ProjectID           *uuid.UUID            `json:"projectId,omitempty"`
	UserEvents          []UserEvent           `json:"userEvents"`
	ConversationHistory []ConversationMessage `json:"conversationHistory"`
	SurveyAnswers       map[string]int        `json:"surveyAnswers"`
	StartedAt           int64                 `json:"startedAt"`
	EndedAt             int64                 `json:"endedAt"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	WSState       = "state"
	WSSpeak       = "speak"
	WSStopAudio   = "stop_audio"
	WSTranscript  = "transcript"
	WSFrame       = "frame"
	WSEvent       = "event"
	WSSessionSave = "session_saved"
	WSSessionEnd  = "session_ended"
	WSError       = "error"
)

type StateUpdate struct {
	State string `json:"state"`
	Muted bool   `json:"muted"`
}

type SpeakUpdate struct {
	PlaybackID uint64 `json:"playback_id"`
	Text       string `json:"text"`
	Audio      []byte `json:"audio,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
}

type FrameUpdate struct {
	Mode     string `json:"mode"`
	Src      string `json:"src"`
	ProxyURL string `json:"proxy_url,omitempty"`
}

type SessionSaved struct {
	JobID     uuid.UUID `json:"job_id"`
	SessionID uuid.UUID `json:"session_id"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// ClientMessage is an inbound websocket frame from the participant page.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
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
