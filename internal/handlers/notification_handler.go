package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bimzik/backend/internal/middleware"
	"github.com/bimzik/backend/internal/models"
)

// JobReader checks that a job belongs to the caller.
type JobReader interface {
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, error)
}

// Subscriber stores notification preferences.
type Subscriber interface {
	Subscribe(ctx context.Context, userID, jobID uuid.UUID, channel, destination string) (*models.NotificationPreference, error)
}

type NotificationHandler struct {
	Jobs   JobReader
	Notify Subscriber
	Logger *slog.Logger
}

type subscribeRequest struct {
	JobID       string `json:"job_id"`
	Channel     string `json:"channel"`
	Destination string `json:"destination"`
}

// Subscribe handles POST /api/v1/notifications/subscribe.
func (h *NotificationHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		http.Error(w, `{"error":"invalid job_id"}`, http.StatusBadRequest)
		return
	}
	if _, err := h.Jobs.GetJob(r.Context(), userID, jobID); err != nil {
		writeError(w, h.Logger, "subscribe", err)
		return
	}
	pref, err := h.Notify.Subscribe(r.Context(), userID, jobID, req.Channel, req.Destination)
	if err != nil {
		writeError(w, h.Logger, "subscribe", err)
		return
	}
	writeJSON(w, http.StatusCreated, pref)
}

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /healthz.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
