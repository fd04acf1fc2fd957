// Package notify tells users their generation finished, by email or Web Push.
// Delivery is best effort: failures are reported to the caller for logging
// and never affect the job.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bimzik/backend/internal/models"
)

var ErrUnknownChannel = errors.New("notify: unknown channel")

// Message is the channel-neutral notification payload.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Sender delivers one message to one destination.
type Sender interface {
	Send(ctx context.Context, destination string, m Message) error
}

type Service struct {
	prefs       PrefStore
	senders     map[string]Sender
	frontendURL string
	log         *slog.Logger
}

// NewService wires the senders by channel name. A nil sender leaves the
// channel disabled.
func NewService(prefs PrefStore, senders map[string]Sender, frontendURL string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	active := make(map[string]Sender, len(senders))
	for ch, s := range senders {
		if s != nil {
			active[ch] = s
		}
	}
	return &Service{prefs: prefs, senders: active, frontendURL: strings.TrimRight(frontendURL, "/"), log: log}
}

// Subscribe records where to notify userID when jobID finishes.
func (s *Service) Subscribe(ctx context.Context, userID, jobID uuid.UUID, channel, destination string) (*models.NotificationPreference, error) {
	if _, ok := s.senders[channel]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	p := &models.NotificationPreference{
		ID:          uuid.New(),
		JobID:       jobID,
		UserID:      userID,
		Channel:     channel,
		Destination: destination,
	}
	if err := s.prefs.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("save preference: %w", err)
	}
	return p, nil
}

// NotifyCompletion delivers the completion message to every pending
// preference of the job.
func (s *Service) NotifyCompletion(ctx context.Context, job *models.GenerationJob, project *models.Project, artifacts []*models.AudioArtifact) error {
	prefs, err := s.prefs.ForJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	msg := s.completionMessage(project, artifacts)
	var errs []error
	for _, p := range prefs {
		if p.Notified {
			continue
		}
		if ok := s.notify(ctx, p, msg); !ok {
			errs = append(errs, fmt.Errorf("%s notification for job %s failed", p.Channel, job.ID))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) notify(ctx context.Context, p *models.NotificationPreference, msg Message) bool {
	sender, ok := s.senders[p.Channel]
	if !ok {
		s.log.Warn("notification channel disabled", "channel", p.Channel, "job_id", p.JobID)
		return false
	}
	if err := sender.Send(ctx, p.Destination, msg); err != nil {
		s.log.Warn("notification delivery failed", "channel", p.Channel, "job_id", p.JobID, "error", err)
		return false
	}
	if err := s.prefs.MarkNotified(ctx, p.ID); err != nil {
		s.log.Warn("mark notified failed", "preference_id", p.ID, "error", err)
	}
	s.log.Info("notification sent", "channel", p.Channel, "job_id", p.JobID, "user_id", p.UserID)
	return true
}

func (s *Service) completionMessage(project *models.Project, artifacts []*models.AudioArtifact) Message {
	title := "Your song is ready"
	if project != nil && project.Title != "" {
		title = fmt.Sprintf("%q is ready", project.Title)
	}
	body := "Your generation has finished."
	if n := len(artifacts); n > 1 {
		body = fmt.Sprintf("%d versions of your song are ready to listen to.", n)
	}
	m := Message{Title: title, Body: body}
	if s.frontendURL != "" && project != nil {
		m.URL = s.frontendURL + "/projects/" + project.ID.String()
	}
	return m
}
