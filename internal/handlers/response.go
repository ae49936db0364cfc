package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ava-backend/internal/middleware"
	"ava-backend/internal/models"
	"ava-backend/internal/repository"
	"ava-backend/internal/services"
	"ava-backend/internal/survey"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: middleware.RequestID(r),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: middleware.RequestID(r),
		},
	}
}

// handleServiceError maps collaborator and storage failures onto responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var upstream *services.UpstreamError
	switch {
	case errors.Is(err, services.ErrCollaboratorUnavailable):
		writeJSON(w, http.StatusInternalServerError, errorResp("COLLABORATOR_UNAVAILABLE", "Required service is not configured", r))
	case errors.Is(err, services.ErrEmptyCompletion):
		writeJSON(w, http.StatusInternalServerError, errorResp("EMPTY_COMPLETION", "No response generated", r))
	case errors.As(err, &upstream):
		status := upstream.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorResp("UPSTREAM_ERROR", fallback, r))
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Not found", r))
	case errors.Is(err, services.ErrLiveSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Live session not found", r))
	case errors.Is(err, services.ErrInvalidTestURL),
		errors.Is(err, services.ErrInvalidProxyTarget),
		errors.Is(err, services.ErrInvalidMessage),
		errors.Is(err, survey.ErrRatingOutOfRange),
		errors.Is(err, survey.ErrUnknownQuestion):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.RequestID(r)).Msg(fallback)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", fallback, r))
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid "+name, r))
		return uuid.Nil, false
	}
	return id, true
}

func derefSessions(in []*models.TestSession) []models.TestSession {
	out := make([]models.TestSession, 0, len(in))
	for _, s := range in {
		out = append(out, *s)
	}
	return out
}
