package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// TestSession is one participant run, written once when the run ends.
type TestSession struct {
	ID                  uuid.UUID             `json:"id"`
	ProjectID           *uuid.UUID            `json:"project_id"`
	TestURL             string                `json:"test_url"`
	UserEvents          []UserEvent           `json:"user_events"`
	ConversationHistory []ConversationMessage `json:"conversation_history"`
	SurveyAnswers       map[string]int        `json:"survey_answers"`
	Summary             *string               `json:"summary"`
	SentimentScore      *float64              `json:"sentiment_score"`
	SessionDuration     *int                  `json:"session_duration"`
	CreatedAt           time.Time             `json:"created_at"`
}

type SaveSessionRequest struct {
	TestURL             string                `json:"testUrl"`
	UserEvents          []UserEvent           `json:"userEvents"`
	ConversationHistory []ConversationMessage `json:"conversationHistory"`
	SurveyAnswers       map[string]int        `json:"surveyAnswers"`
	Summary             string                `json:"summary"`
	SessionStartTime    int64                 `json:"sessionStartTime"`
	ProjectID           *uuid.UUID            `json:"projectId"`
	SentimentScore      *float64              `json:"sentimentScore"`
}

type SaveSessionResponse struct {
	Success   bool         `json:"success"`
	SessionID uuid.UUID    `json:"sessionId"`
	Session   *TestSession `json:"session"`
}

type SummaryRequest struct {
	UserEvents          []UserEvent           `json:"userEvents"`
	ConversationHistory []ConversationMessage `json:"conversationHistory"`
	SurveyAnswers       map[string]int        `json:"surveyAnswers"`
	TestURL             string                `json:"testUrl"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

type CrossSessionRequest struct {
	SessionIDs []uuid.UUID `json:"sessionIds"`
}

type AggregatedData struct {
	TotalEvents        int `json:"totalEvents"`
	TotalConversations int `json:"totalConversations"`
	SurveyResponses    int `json:"surveyResponses"`
}

type CrossSessionSummary struct {
	Summary        string         `json:"summary"`
	SessionCount   int            `json:"sessionCount"`
	AggregatedData AggregatedData `json:"aggregatedData"`
}

// SessionDuration is the run length in whole seconds between two epoch
// millisecond instants, or nil when the start is unknown.
func SessionDuration(startedAt, endedAt int64) *int {
	if startedAt <= 0 {
		return nil
	}
	d := int(math.Round(float64(endedAt-startedAt) / 1000))
	if d < 0 {
		d = 0
	}
	return &d
}
