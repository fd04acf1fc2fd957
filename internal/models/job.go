package models

import (
	"time"

	"github.com/google/uuid"
)

// Generation job status enums.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further ledger-affecting transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type VideoStatus string

const (
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

type GenerationJob struct {
	ID            uuid.UUID    `json:"id"`
	ProjectID     uuid.UUID    `json:"project_id"`
	UserID        uuid.UUID    `json:"user_id"`
	Status        JobStatus    `json:"status"`
	CreditsCost   int          `json:"credits_cost"`
	ProviderJobID *string      `json:"provider_job_id,omitempty"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	VideoStatus   *VideoStatus `json:"video_status,omitempty"`
	Metadata      Metadata     `json:"metadata,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Project modes and statuses.
const (
	ModeText    = "TEXT"
	ModeContext = "CONTEXT"

	ProjectDraft      = "draft"
	ProjectGenerating = "generating"
	ProjectCompleted  = "completed"
	ProjectFailed     = "failed"
)

// Project is the user-owned container a generation runs against.
type Project struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Title        string    `json:"title"`
	Lyrics       string    `json:"lyrics_final"`
	ContextInput string    `json:"context_input,omitempty"`
	StyleID      string    `json:"style_id"`
	CustomStyle  string    `json:"custom_style,omitempty"`
	Language     string    `json:"language"`
	Mode         string    `json:"mode"`
	SeedAudio    *string   `json:"audio_url,omitempty"`
	AutoVideo    bool      `json:"auto_video"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AudioArtifact struct {
	ID              uuid.UUID `json:"id"`
	ProjectID       uuid.UUID `json:"project_id"`
	JobID           uuid.UUID `json:"job_id"`
	FileURL         string    `json:"file_url"`
	StreamURL       string    `json:"stream_url,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	VideoURL        *string   `json:"video_url,omitempty"`
	Duration        int       `json:"duration"`
	VersionNumber   int       `json:"version_number"`
	ProviderAudioID string    `json:"provider_audio_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

type NotificationPreference struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	UserID      uuid.UUID `json:"user_id"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Notified    bool      `json:"notified"`
	CreatedAt   time.Time `json:"created_at"`
}
