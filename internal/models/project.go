package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ProjectDraft    = "draft"
	ProjectLive     = "live"
	ProjectOffline  = "offline"
	ProjectTemplate = "template"
)

// ValidProjectStatus reports whether s is one of the four project states.
func ValidProjectStatus(s string) bool {
	switch s {
	case ProjectDraft, ProjectLive, ProjectOffline, ProjectTemplate:
		return true
	}
	return false
}

type Project struct {
	ID                 uuid.UUID       `json:"id"`
	Name               string          `json:"name"`
	Description        *string         `json:"description"`
	Status             string          `json:"status"`
	PrototypeURL       *string         `json:"prototype_url"`
	IntroScript        *string         `json:"intro_script"`
	WalkthroughContext *string         `json:"walkthrough_context"`
	Config             json.RawMessage `json:"config"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type Section struct {
	ID             uuid.UUID       `json:"id"`
	ProjectID      uuid.UUID       `json:"project_id"`
	Title          string          `json:"title"`
	Goal           *string         `json:"goal"`
	Prompt         *string         `json:"prompt"`
	SuccessMetrics json.RawMessage `json:"success_metrics"`
	OrderIndex     int             `json:"order_index"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SectionInput struct {
	Title          string          `json:"title"`
	Goal           *string         `json:"goal"`
	Prompt         *string         `json:"prompt"`
	SuccessMetrics json.RawMessage `json:"success_metrics"`
	OrderIndex     *int            `json:"order_index"`
}

// ProjectInput is the create/update payload. On update a nil Sections leaves
// the stored sections untouched; a non-nil slice replaces them.
type ProjectInput struct {
	Name               string          `json:"name"`
	Description        *string         `json:"description"`
	Status             string          `json:"status"`
	PrototypeURL       *string         `json:"prototypeUrl"`
	IntroScript        *string         `json:"introScript"`
	WalkthroughContext *string         `json:"walkthroughContext"`
	Config             json.RawMessage `json:"config"`
	Sections           []SectionInput  `json:"sections"`
}

type ProjectWithSections struct {
	Project  *Project   `json:"project"`
	Sections []*Section `json:"sections"`
}

type QuestionAverage struct {
	QuestionID string  `json:"questionId"`
	Average    float64 `json:"average"`
	Responses  int     `json:"responses"`
}

type SessionDigest struct {
	ID              uuid.UUID `json:"id"`
	Summary         *string   `json:"summary"`
	SentimentScore  *float64  `json:"sentiment_score"`
	CreatedAt       time.Time `json:"created_at"`
	SessionDuration *int      `json:"session_duration"`
}

type ProjectMetrics struct {
	TotalSessions      int               `json:"totalSessions"`
	AverageDuration    float64           `json:"averageDuration"`
	AverageSentiment   float64           `json:"averageSentiment"`
	RatingDistribution map[string]int    `json:"ratingDistribution"`
	QuestionAverages   []QuestionAverage `json:"questionAverages"`
	LatestSessions     []SessionDigest   `json:"latestSessions"`
}

type ProjectAnalytics struct {
	Project *Project       `json:"project"`
	Metrics ProjectMetrics `json:"metrics"`
}
