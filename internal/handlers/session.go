package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ava-backend/internal/models"
	"ava-backend/internal/survey"
)

type sessionStore interface {
	Create(ctx context.Context, s *models.TestSession) error
	ListAll(ctx context.Context) ([]*models.TestSession, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.TestSession, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.TestSession, error)
}

type crossSessionSummarizer interface {
	SummarizeSessions(ctx context.Context, sessions []models.TestSession) (*models.CrossSessionSummary, error)
}

type jobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type SessionHandler struct {
	sessions sessionStore
	jobs     jobReader
	chat     crossSessionSummarizer
	now      func() time.Time
}

func NewSessionHandler(sessions sessionStore, jobs jobReader, chat crossSessionSummarizer) *SessionHandler {
	return &SessionHandler{sessions: sessions, jobs: jobs, chat: chat, now: time.Now}
}

// Save persists a session completed by a client that ran without a live
// runtime.
func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req models.SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if strings.TrimSpace(req.TestURL) == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"testUrl": "testUrl is required"}, r))
		return
	}
	if err := survey.Validate(req.SurveyAnswers); err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"surveyAnswers": err.Error()}, r))
		return
	}

	session := &models.TestSession{
		ProjectID:           req.ProjectID,
		TestURL:             req.TestURL,
		UserEvents:          req.UserEvents,
		ConversationHistory: req.ConversationHistory,
		SurveyAnswers:       req.SurveyAnswers,
		SentimentScore:      req.SentimentScore,
		SessionDuration:     models.SessionDuration(req.SessionStartTime, h.now().UnixMilli()),
	}
	if req.Summary != "" {
		session.Summary = &req.Summary
	}

	if err := h.sessions.Create(r.Context(), session); err != nil {
		handleServiceError(w, r, err, "Failed to save session")
		return
	}

	writeJSON(w, http.StatusOK, models.SaveSessionResponse{
		Success:   true,
		SessionID: session.ID,
		Session:   session,
	})
}

// List returns every stored session, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Summarize analyses several stored sessions together.
func (h *SessionHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req models.CrossSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.SessionIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "sessionIds array is required", r))
		return
	}

	sessions, err := h.sessions.GetByIDs(r.Context(), req.SessionIDs)
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch sessions")
		return
	}
	if len(sessions) == 0 {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "No sessions found", r))
		return
	}

	summary, err := h.chat.SummarizeSessions(r.Context(), derefSessions(sessions))
	if err != nil {
		handleServiceError(w, r, err, "Failed to generate summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type jobStatusResponse struct {
	ID           uuid.UUID  `json:"id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	ResultID     *uuid.UUID `json:"result_id"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// JobStatus reports the progress of a finalisation job.
func (h *SessionHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		ID:           job.ID,
		Type:         job.Type,
		Status:       job.Status,
		RetryCount:   job.RetryCount,
		ResultID:     job.ResultID,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	})
}
