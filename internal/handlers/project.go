package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"ava-backend/internal/models"
	"ava-backend/internal/services"
)

type projectStore interface {
	List(ctx context.Context, status, search string) ([]*models.Project, error)
	Create(ctx context.Context, in models.ProjectInput) (*models.ProjectWithSections, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ProjectWithSections, error)
	Update(ctx context.Context, id uuid.UUID, in models.ProjectInput) (*models.ProjectWithSections, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type projectSessionLister interface {
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.TestSession, error)
}

type ProjectHandler struct {
	projects projectStore
	sessions projectSessionLister
}

func NewProjectHandler(projects projectStore, sessions projectSessionLister) *ProjectHandler {
	return &ProjectHandler{projects: projects, sessions: sessions}
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != "all" && !models.ValidProjectStatus(status) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Unknown status filter", r))
		return
	}

	projects, err := h.projects.List(r.Context(), status, r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func decodeProjectInput(w http.ResponseWriter, r *http.Request, requireName bool) (models.ProjectInput, bool) {
	var in models.ProjectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return in, false
	}
	in.Name = strings.TrimSpace(in.Name)

	fields := map[string]string{}
	if requireName && in.Name == "" {
		fields["name"] = "Project name is required"
	}
	if in.Status != "" && !models.ValidProjectStatus(in.Status) {
		fields["status"] = "Status must be draft, live, offline or template"
	}
	for i, s := range in.Sections {
		if strings.TrimSpace(s.Title) == "" {
			fields["sections"] = "Every section needs a title"
			break
		}
		in.Sections[i].Title = strings.TrimSpace(s.Title)
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return in, false
	}
	return in, true
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeProjectInput(w, r, true)
	if !ok {
		return
	}

	project, err := h.projects.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err, "Failed to create project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	in, ok := decodeProjectInput(w, r, false)
	if !ok {
		return
	}

	project, err := h.projects.Update(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, r, err, "Failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.projects.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err, "Failed to delete project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ProjectHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	sessions, err := h.sessions.ListByProject(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *ProjectHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch project")
		return
	}
	sessions, err := h.sessions.ListByProject(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "Failed to fetch sessions")
		return
	}

	writeJSON(w, http.StatusOK, models.ProjectAnalytics{
		Project: project.Project,
		Metrics: services.ComputeProjectMetrics(derefSessions(sessions)),
	})
}
