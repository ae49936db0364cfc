package models

import "github.com/google/uuid"

type StartLiveRequest struct {
	TestURL   string     `json:"testUrl"`
	ProjectID *uuid.UUID `json:"projectId"`
}

type StartLiveResponse struct {
	SessionID          uuid.UUID `json:"session_id"`
	Token              string    `json:"token"`
	IntroScript        string    `json:"intro_script,omitempty"`
	WalkthroughContext string    `json:"walkthrough_context,omitempty"`
	FrameSrc           string    `json:"frame_src"`
	StartedAt          int64     `json:"started_at"`
}

type EndLiveRequest struct {
	SurveyAnswers map[string]int `json:"surveyAnswers"`
}

type EndLiveResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

type DemoConfig struct {
	IntroScript        string `json:"introScript"`
	WalkthroughContext string `json:"walkthroughContext"`
}

type SurveyQuestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}
