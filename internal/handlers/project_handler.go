package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bimzik/backend/internal/jobs"
	"github.com/bimzik/backend/internal/middleware"
	"github.com/bimzik/backend/internal/models"
)

// ProjectService is the subset of jobs.Service the project routes need.
type ProjectService interface {
	CreateProject(ctx context.Context, userID uuid.UUID, in jobs.ProjectInput) (*models.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID) ([]*models.Project, error)
	GetProject(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error)
	ProjectAudio(ctx context.Context, userID, projectID uuid.UUID) ([]*models.AudioArtifact, error)
	SharedProject(ctx context.Context, projectID uuid.UUID) (*jobs.SharedTrack, error)
}

// ProjectHandler serves /api/v1/projects and the public /api/v1/share page.
type ProjectHandler struct {
	Projects ProjectService
	Logger   *slog.Logger
}

// --- POST /api/v1/projects ---

type createProjectRequest struct {
	Title        string `json:"title"`
	Mode         string `json:"mode"`
	Language     string `json:"language"`
	StyleID      string `json:"style_id"`
	CustomStyle  string `json:"custom_style"`
	Lyrics       string `json:"lyrics_final"`
	ContextInput string `json:"context_input"`
	AudioURL     string `json:"audio_url"`
	AutoVideo    bool   `json:"auto_video"`
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	p, err := h.Projects.CreateProject(r.Context(), userID, jobs.ProjectInput{
		Title:        req.Title,
		Mode:         req.Mode,
		Language:     req.Language,
		StyleID:      req.StyleID,
		CustomStyle:  req.CustomStyle,
		Lyrics:       req.Lyrics,
		ContextInput: req.ContextInput,
		SeedAudio:    req.AudioURL,
		AutoVideo:    req.AutoVideo,
	})
	if err != nil {
		writeError(w, h.Logger, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// --- GET /api/v1/projects ---

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	projects, err := h.Projects.ListProjects(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, "list projects", err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// --- GET /api/v1/projects/{id} ---

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}
	p, err := h.Projects.GetProject(r.Context(), middleware.UserIDFromCtx(r.Context()), projectID)
	if err != nil {
		writeError(w, h.Logger, "get project", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- GET /api/v1/projects/{id}/audio ---

// Audio lists every version generated for the project, oldest first.
func (h *ProjectHandler) Audio(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}
	arts, err := h.Projects.ProjectAudio(r.Context(), middleware.UserIDFromCtx(r.Context()), projectID)
	if err != nil {
		writeError(w, h.Logger, "list project audio", err)
		return
	}
	if arts == nil {
		arts = []*models.AudioArtifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audio_files": arts})
}

// --- GET /api/v1/share/{id} ---

// Share is public: no token, and only completed projects are visible.
func (h *ProjectHandler) Share(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}
	track, err := h.Projects.SharedProject(r.Context(), projectID)
	if err != nil {
		writeError(w, h.Logger, "shared project", err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func projectIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid project id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
