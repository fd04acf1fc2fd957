package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bimzik/backend/internal/models"
)

const defaultLanguage = "fr"

type ProjectInput struct {
	Title        string
	Mode         string
	Language     string
	StyleID      string
	CustomStyle  string
	Lyrics       string
	ContextInput string
	SeedAudio    string
	AutoVideo    bool
}

// CreateProject stores a draft project. TEXT projects need lyrics and
// CONTEXT projects need a description to write them from.
func (s *Service) CreateProject(ctx context.Context, userID uuid.UUID, in ProjectInput) (*models.Project, error) {
	p := &models.Project{
		ID:           uuid.New(),
		UserID:       userID,
		Title:        strings.TrimSpace(in.Title),
		Mode:         in.Mode,
		Language:     in.Language,
		StyleID:      in.StyleID,
		CustomStyle:  in.CustomStyle,
		Lyrics:       strings.TrimSpace(in.Lyrics),
		ContextInput: strings.TrimSpace(in.ContextInput),
		AutoVideo:    in.AutoVideo,
		Status:       models.ProjectDraft,
	}
	switch p.Mode {
	case models.ModeText:
		if p.Lyrics == "" {
			return nil, ErrLyricsRequired
		}
	case models.ModeContext:
		if p.ContextInput == "" {
			return nil, ErrContextRequired
		}
	default:
		return nil, ErrInvalidMode
	}
	if p.Language == "" {
		p.Language = defaultLanguage
	}
	if in.SeedAudio != "" {
		seed := in.SeedAudio
		p.SeedAudio = &seed
	}
	if err := s.store.InsertProject(ctx, p); err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	s.log.Info("project created", "project_id", p.ID, "user_id", userID, "mode", p.Mode)
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context, userID uuid.UUID) ([]*models.Project, error) {
	return s.store.ListProjects(ctx, userID)
}

// GetProject returns the caller's project. Another user's project reads as
// not found.
func (s *Service) GetProject(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrProjectNotFound
	}
	return p, nil
}

// ProjectAudio lists every version produced for the caller's project.
func (s *Service) ProjectAudio(ctx context.Context, userID, projectID uuid.UUID) ([]*models.AudioArtifact, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListProjectArtifacts(ctx, projectID)
}

// SharedTrack is the public view of a completed project. It carries no
// owner, lyrics or context.
type SharedTrack struct {
	ID          uuid.UUID     `json:"id"`
	Title       string        `json:"title"`
	StyleID     string        `json:"style_id,omitempty"`
	CustomStyle string        `json:"custom_style,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	AudioFiles  []SharedAudio `json:"audio_files"`
}

type SharedAudio struct {
	ID            uuid.UUID `json:"id"`
	FileURL       string    `json:"file_url"`
	StreamURL     string    `json:"stream_url,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	VideoURL      *string   `json:"video_url,omitempty"`
	Duration      int       `json:"duration"`
	VersionNumber int       `json:"version_number"`
}

// SharedProject serves anyone holding the link. Projects that are not
// completed read as not found.
func (s *Service) SharedProject(ctx context.Context, projectID uuid.UUID) (*SharedTrack, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProjectCompleted {
		return nil, ErrProjectNotFound
	}
	arts, err := s.store.ListProjectArtifacts(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list audio files: %w", err)
	}
	t := &SharedTrack{
		ID:          p.ID,
		Title:       p.Title,
		StyleID:     p.StyleID,
		CustomStyle: p.CustomStyle,
		CreatedAt:   p.CreatedAt,
		AudioFiles:  make([]SharedAudio, 0, len(arts)),
	}
	for _, a := range arts {
		t.AudioFiles = append(t.AudioFiles, SharedAudio{
			ID:            a.ID,
			FileURL:       a.FileURL,
			StreamURL:     a.StreamURL,
			ImageURL:      a.ImageURL,
			VideoURL:      a.VideoURL,
			Duration:      a.Duration,
			VersionNumber: a.VersionNumber,
		})
	}
	return t, nil
}
