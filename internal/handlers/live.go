package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"ava-backend/internal/democonfig"
	"ava-backend/internal/middleware"
	"ava-backend/internal/models"
	"ava-backend/internal/survey"
)

type liveSessions interface {
	Start(ctx context.Context, req models.StartLiveRequest) (*models.StartLiveResponse, error)
	End(ctx context.Context, id uuid.UUID, answers map[string]int) (*models.Job, error)
}

type LiveHandler struct {
	live liveSessions
}

func NewLiveHandler(live liveSessions) *LiveHandler {
	return &LiveHandler{live: live}
}

func (h *LiveHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartLiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	resp, err := h.live.Start(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err, "Failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// End closes a live session with the participant's survey answers. The
// session token must belong to the session named in the path.
func (h *LiveHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if middleware.GetLiveID(r.Context()) != id {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Token does not belong to this session", r))
		return
	}

	var req models.EndLiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	job, err := h.live.End(r.Context(), id, req.SurveyAnswers)
	if err != nil {
		handleServiceError(w, r, err, "Failed to end session")
		return
	}
	writeJSON(w, http.StatusAccepted, models.EndLiveResponse{JobID: job.ID})
}

func (h *LiveHandler) SurveyQuestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"questions": survey.Questions(),
		"minRating": survey.MinRating,
		"maxRating": survey.MaxRating,
	})
}

func (h *LiveHandler) DemoConfig(w http.ResponseWriter, r *http.Request) {
	cfg := democonfig.Lookup(r.URL.Query().Get("url"))
	if cfg == nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "No demo configuration for this URL", r))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
