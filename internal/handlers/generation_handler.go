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

// GenerationService is the subset of jobs.Service the handler needs.
type GenerationService interface {
	StartGeneration(ctx context.Context, userID, projectID uuid.UUID) (*models.GenerationJob, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, error)
	Artifacts(ctx context.Context, userID, jobID uuid.UUID) ([]*models.AudioArtifact, error)
	RequestVideo(ctx context.Context, userID, artifactID uuid.UUID) (*models.GenerationJob, error)
	GenerateLyrics(ctx context.Context, userID uuid.UUID, req jobs.LyricsRequest) (*jobs.LyricsResult, error)
}

// GenerationHandler serves /api/v1/generate and /api/v1/artifacts.
type GenerationHandler struct {
	Jobs   GenerationService
	Logger *slog.Logger
}

// --- POST /api/v1/generate ---

type generateRequest struct {
	ProjectID string `json:"project_id"`
}

type generateResponse struct {
	ID          uuid.UUID        `json:"id"`
	Status      models.JobStatus `json:"status"`
	CreditsCost int              `json:"credits_cost"`
}

// Generate reserves the project's cost and queues a generation job.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		http.Error(w, `{"error":"invalid project_id"}`, http.StatusBadRequest)
		return
	}

	job, err := h.Jobs.StartGeneration(r.Context(), userID, projectID)
	if err != nil {
		writeError(w, h.Logger, "start generation", err)
		return
	}
	writeJSON(w, http.StatusAccepted, generateResponse{ID: job.ID, Status: job.Status, CreditsCost: job.CreditsCost})
}

// --- GET /api/v1/generate/jobs/{id} ---

type jobResponse struct {
	*models.GenerationJob
	Artifacts []*models.AudioArtifact `json:"audio_files"`
}

// GetJob returns the caller's job and, once completed, its audio files.
func (h *GenerationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}

	job, err := h.Jobs.GetJob(r.Context(), userID, jobID)
	if err != nil {
		writeError(w, h.Logger, "get job", err)
		return
	}
	resp := jobResponse{GenerationJob: job, Artifacts: []*models.AudioArtifact{}}
	if job.Status == models.JobCompleted {
		arts, err := h.Jobs.Artifacts(r.Context(), userID, jobID)
		if err != nil {
			writeError(w, h.Logger, "list artifacts", err)
			return
		}
		if arts != nil {
			resp.Artifacts = arts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- POST /api/v1/artifacts/{id}/video ---

type videoResponse struct {
	JobID       uuid.UUID           `json:"job_id"`
	ArtifactID  uuid.UUID           `json:"audio_file_id"`
	VideoStatus *models.VideoStatus `json:"video_status"`
}

// RequestVideo charges for and queues a video of one audio file.
func (h *GenerationHandler) RequestVideo(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	artifactID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid audio file id"}`, http.StatusBadRequest)
		return
	}

	job, err := h.Jobs.RequestVideo(r.Context(), userID, artifactID)
	if err != nil {
		writeError(w, h.Logger, "request video", err)
		return
	}
	writeJSON(w, http.StatusAccepted, videoResponse{JobID: job.ID, ArtifactID: artifactID, VideoStatus: job.VideoStatus})
}

// --- POST /api/v1/generate/lyrics ---

type lyricsRequest struct {
	Description string `json:"description"`
	Style       string `json:"style"`
	Language    string `json:"language"`
}

// GenerateLyrics drafts lyrics synchronously for one credit.
func (h *GenerationHandler) GenerateLyrics(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())

	var req lyricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	res, err := h.Jobs.GenerateLyrics(r.Context(), userID, jobs.LyricsRequest{
		Description: req.Description,
		Style:       req.Style,
		Language:    req.Language,
	})
	if err != nil {
		writeError(w, h.Logger, "generate lyrics", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
