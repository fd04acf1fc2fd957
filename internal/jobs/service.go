package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bimzik/backend/internal/execution"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/models"
	"github.com/bimzik/backend/internal/suno"
)

// EnqueueMusicFunc schedules a generation run in tx.
type EnqueueMusicFunc func(ctx context.Context, tx pgx.Tx, args execution.GenerateMusicArgs) error

type ServiceDeps struct {
	DB           ledger.TxBeginner
	Store        Store
	Ledger       ledger.Service
	Provider     Provider
	EnqueueMusic EnqueueMusicFunc
	EnqueueVideo EnqueueVideoFunc
	VideoCost    int
	LyricsPoll   PollPolicy
	Sleep        Sleeper
	Logger       *slog.Logger
}

// Service is the request-facing side of generation: it creates jobs, answers
// status queries and charges for on-demand videos and lyrics.
type Service struct {
	db           ledger.TxBeginner
	store        Store
	ledger       ledger.Service
	provider     Provider
	enqueueMusic EnqueueMusicFunc
	enqueueVideo EnqueueVideoFunc
	videoCost    int
	lyricsPoll   PollPolicy
	sleep        Sleeper
	log          *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	s := &Service{
		db:           d.DB,
		store:        d.Store,
		ledger:       d.Ledger,
		provider:     d.Provider,
		enqueueMusic: d.EnqueueMusic,
		enqueueVideo: d.EnqueueVideo,
		videoCost:    d.VideoCost,
		lyricsPoll:   d.LyricsPoll,
		sleep:        d.Sleep,
		log:          d.Logger,
	}
	if s.videoCost <= 0 {
		s.videoCost = 1
	}
	if s.lyricsPoll.MaxAttempts == 0 {
		s.lyricsPoll = PollPolicy{Initial: 2 * time.Second, Multiplier: 1, Max: 2 * time.Second, MaxAttempts: 20}
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// StartGeneration reserves the project's cost and queues a job for it. The
// reservation, the job row, the project status and the queue insert commit
// together, so a failure leaves nothing behind to refund.
func (s *Service) StartGeneration(ctx context.Context, userID, projectID uuid.UUID) (*models.GenerationJob, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrProjectNotFound
	}
	if p.Status == models.ProjectGenerating {
		return nil, ErrGenerationInProgress
	}
	if p.Mode == models.ModeText && p.Lyrics == "" {
		return nil, ErrLyricsRequired
	}

	job := &models.GenerationJob{
		ID:          uuid.New(),
		ProjectID:   p.ID,
		UserID:      userID,
		Status:      models.JobQueued,
		CreditsCost: CreditsCost(p),
		Metadata: models.Metadata{
			models.MetaStyleID:  p.StyleID,
			models.MetaLanguage: p.Language,
		},
	}
	err = ledger.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := s.ledger.Reserve(ctx, tx, userID, job.CreditsCost, ledger.Memo{JobID: &job.ID}); err != nil {
			return err
		}
		if err := s.store.InsertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		ok, err := s.store.MarkProjectGenerating(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("mark project generating: %w", err)
		}
		if !ok {
			return ErrGenerationInProgress
		}
		return s.enqueueMusic(ctx, tx, execution.GenerateMusicArgs{JobID: job.ID, ProjectID: p.ID})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("generation queued", "job_id", job.ID, "project_id", p.ID, "credits_cost", job.CreditsCost)
	return job, nil
}

// GetJob returns the caller's job. Another user's job reads as not found.
func (s *Service) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Artifacts lists the files a job produced.
func (s *Service) Artifacts(ctx context.Context, userID, jobID uuid.UUID) ([]*models.AudioArtifact, error) {
	if _, err := s.GetJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	return s.store.ListArtifacts(ctx, jobID)
}

// RequestVideo charges for and queues a video of one artifact of a completed
// job. Nothing is charged when no provider audio id can be found.
func (s *Service) RequestVideo(ctx context.Context, userID, artifactID uuid.UUID) (*models.GenerationJob, error) {
	art, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	job, err := s.GetJob(ctx, userID, art.JobID)
	if errors.Is(err, ErrJobNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobCompleted {
		return nil, ErrJobNotCompleted
	}
	if ResolveAudioID(art) == "" {
		return nil, ErrNoAudioID
	}

	err = ledger.InTx(ctx, s.db, func(tx pgx.Tx) error {
		ok, err := s.store.StartVideo(ctx, tx, job.ID)
		if err != nil {
			return fmt.Errorf("start video: %w", err)
		}
		if !ok {
			return ErrVideoInProgress
		}
		memo := ledger.Memo{JobID: &job.ID, Metadata: models.Metadata{models.MetaAction: "video"}}
		if _, err := s.ledger.Debit(ctx, tx, userID, s.videoCost, false, memo); err != nil {
			return err
		}
		return s.enqueueVideo(ctx, tx, execution.GenerateVideoArgs{
			JobID:          job.ID,
			ArtifactID:     art.ID,
			ChargedCredits: s.videoCost,
		})
	})
	if err != nil {
		return nil, err
	}
	vs := models.VideoProcessing
	job.VideoStatus = &vs
	s.log.Info("video queued", "job_id", job.ID, "artifact_id", art.ID, "charged", s.videoCost)
	return job, nil
}

type LyricsRequest struct {
	Description string
	Style       string
	Language    string
}

type LyricsResult struct {
	Lyrics     string   `json:"lyrics"`
	Title      string   `json:"title,omitempty"`
	Candidates []string `json:"candidates"`
}

const lyricsCost = 1

// GenerateLyrics drafts lyrics for one credit, taken directly from the
// balance. The credit is returned when the provider fails or times out.
func (s *Service) GenerateLyrics(ctx context.Context, userID uuid.UUID, req LyricsRequest) (*LyricsResult, error) {
	memo := ledger.Memo{Metadata: models.Metadata{models.MetaAction: "lyrics"}}
	err := ledger.InTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := s.ledger.Debit(ctx, tx, userID, lyricsCost, false, memo)
		return err
	})
	if err != nil {
		return nil, err
	}

	res, reason, err := s.draftLyrics(ctx, req)
	if err == nil {
		return res, nil
	}
	refundCtx := context.WithoutCancel(ctx)
	rerr := ledger.InTx(refundCtx, s.db, func(tx pgx.Tx) error {
		_, err := s.ledger.RefundDirect(refundCtx, tx, userID, lyricsCost, reason, memo)
		return err
	})
	if rerr != nil {
		s.log.Error("lyrics refund failed", "user_id", userID, "error", rerr)
	}
	return nil, err
}

func (s *Service) draftLyrics(ctx context.Context, req LyricsRequest) (*LyricsResult, string, error) {
	prompt := req.Description
	if req.Style != "" {
		prompt += ". Style: " + req.Style
	}
	if req.Language != "" {
		prompt += ". Language: " + req.Language
	}
	taskID, err := s.provider.SubmitLyrics(ctx, prompt)
	if err != nil {
		return nil, reasonLyricsFailed, err
	}

	b := s.lyricsPoll.newBackOff()
	for attempt := 1; attempt <= s.lyricsPoll.MaxAttempts; attempt++ {
		if err := s.sleep(ctx, b.NextBackOff()); err != nil {
			return nil, reasonLyricsFailed, err
		}
		st, err := s.provider.GetLyricsStatus(ctx, taskID)
		if err != nil {
			s.log.Warn("lyrics poll failed", "task_id", taskID, "attempt", attempt, "error", err)
			continue
		}
		switch st.State {
		case suno.StateCompleted:
			if len(st.Texts) == 0 {
				return nil, reasonLyricsFailed, fmt.Errorf("%w: empty lyrics result", suno.ErrProvider)
			}
			res := &LyricsResult{Lyrics: st.Texts[0], Candidates: st.Texts}
			if len(st.Titles) > 0 {
				res.Title = st.Titles[0]
			}
			return res, "", nil
		case suno.StateFailed:
			return nil, reasonLyricsFailed, fmt.Errorf("%w: %s", suno.ErrProvider, st.Error)
		}
	}
	return nil, reasonTimeout, ErrProviderTimeout
}
