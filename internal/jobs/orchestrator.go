package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bimzik/backend/internal/execution"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/models"
	"github.com/bimzik/backend/internal/suno"
)

const defaultDuration = 180

// Provider is the generation service the orchestrator drives.
type Provider interface {
	SubmitGeneration(ctx context.Context, req suno.GenerateRequest) (string, error)
	GetStatus(ctx context.Context, taskID string) (*suno.Status, error)
	SubmitVideo(ctx context.Context, taskID, audioID, author, domain string) (string, error)
	GetVideoStatus(ctx context.Context, videoTaskID string) (*suno.VideoStatus, error)
	SubmitLyrics(ctx context.Context, prompt string) (string, error)
	GetLyricsStatus(ctx context.Context, taskID string) (*suno.LyricsStatus, error)
}

// Notifier is told about completed jobs. Errors are logged only.
type Notifier interface {
	NotifyCompletion(ctx context.Context, job *models.GenerationJob, project *models.Project, artifacts []*models.AudioArtifact) error
}

// Mirror copies a provider-hosted file somewhere durable and returns its URL.
type Mirror interface {
	Mirror(ctx context.Context, sourceURL string) (string, error)
}

// EnqueueVideoFunc schedules a video run in tx.
type EnqueueVideoFunc func(ctx context.Context, tx pgx.Tx, args execution.GenerateVideoArgs) error

type VideoConfig struct {
	Author string
	Domain string
	Cost   int
	Poll   PollPolicy
}

type OrchestratorDeps struct {
	DB           ledger.TxBeginner
	Store        Store
	Ledger       ledger.Service
	Provider     Provider
	Notifier     Notifier
	Mirror       Mirror
	EnqueueVideo EnqueueVideoFunc
	Poll         PollPolicy
	Video        VideoConfig
	Sleep        Sleeper
	Logger       *slog.Logger
}

// Orchestrator drives generation jobs from queued to a terminal status and
// settles their reservation exactly once on the way.
type Orchestrator struct {
	db           ledger.TxBeginner
	store        Store
	ledger       ledger.Service
	provider     Provider
	notifier     Notifier
	mirror       Mirror
	enqueueVideo EnqueueVideoFunc
	poll         PollPolicy
	video        VideoConfig
	sleep        Sleeper
	log          *slog.Logger
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		db:           d.DB,
		store:        d.Store,
		ledger:       d.Ledger,
		provider:     d.Provider,
		notifier:     d.Notifier,
		mirror:       d.Mirror,
		enqueueVideo: d.EnqueueVideo,
		poll:         d.Poll,
		video:        d.Video,
		sleep:        d.Sleep,
		log:          d.Logger,
	}
	if o.poll.MaxAttempts == 0 {
		o.poll = DefaultPollPolicy()
	}
	if o.video.Poll.MaxAttempts == 0 {
		o.video.Poll = o.poll
		o.video.Poll.MaxAttempts = 20
	}
	if o.video.Cost == 0 {
		o.video.Cost = 1
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

var errAlreadyTerminal = errors.New("jobs: job already terminal")

// RunGeneration processes one queued job. It returns nil once the job is
// terminal, including when it failed; an error means settlement could not
// be recorded and the job was left for the stale report.
func (o *Orchestrator) RunGeneration(ctx context.Context, jobID uuid.UUID) (err error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != models.JobQueued {
		o.log.Info("skipping job not in queued status", "job_id", jobID, "status", job.Status)
		return nil
	}
	claimed, err := o.store.ClaimJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		return nil
	}
	job.Status = models.JobProcessing
	job.ProviderJobID = nil

	defer func() {
		if r := recover(); r != nil {
			err = o.abort(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := o.drive(ctx, job); err != nil {
		return o.abort(ctx, job, err)
	}
	return nil
}

func (o *Orchestrator) drive(ctx context.Context, job *models.GenerationJob) error {
	project, err := o.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	req := suno.GenerateRequest{
		Lyrics:      project.Lyrics,
		StyleID:     project.StyleID,
		CustomStyle: project.CustomStyle,
		Language:    project.Language,
		Title:       project.Title,
	}
	if project.SeedAudio != nil {
		req.SeedAudio = *project.SeedAudio
	}
	taskID, err := o.provider.SubmitGeneration(ctx, req)
	if err != nil {
		o.log.Warn("generation submit failed", "job_id", job.ID, "error", err)
		return o.fail(ctx, job, err.Error())
	}
	if err := o.store.SetProviderJobID(ctx, job.ID, taskID); err != nil {
		return fmt.Errorf("save provider job id: %w", err)
	}
	job.ProviderJobID = &taskID

	b := o.poll.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= o.poll.MaxAttempts; attempt++ {
		if err := o.sleep(ctx, b.NextBackOff()); err != nil {
			return err
		}
		st, err := o.provider.GetStatus(ctx, taskID)
		if err != nil {
			lastErr = err
			o.log.Warn("generation poll failed", "job_id", job.ID, "attempt", attempt, "error", err)
			continue
		}
		lastErr = nil
		switch st.State {
		case suno.StateCompleted:
			return o.complete(ctx, job, project, st.Clips)
		case suno.StateFailed:
			return o.fail(ctx, job, reasonGenerationFailed+": "+st.Error)
		}
	}
	if lastErr != nil {
		return o.fail(ctx, job, lastErr.Error())
	}
	o.log.Warn("generation timed out", "job_id", job.ID, "attempts", o.poll.MaxAttempts)
	return o.fail(ctx, job, reasonTimeout)
}

// fail marks the job failed and releases its reservation in one transaction.
// A job that already left processing is left alone.
func (o *Orchestrator) fail(ctx context.Context, job *models.GenerationJob, message string) error {
	err := ledger.InTx(ctx, o.db, func(tx pgx.Tx) error {
		ok, err := o.store.FailJob(ctx, tx, job.ID, message)
		if err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		if !ok {
			return errAlreadyTerminal
		}
		if _, err := o.ledger.Refund(ctx, tx, job.UserID, job.CreditsCost, message, ledger.Memo{JobID: &job.ID}); err != nil {
			return fmt.Errorf("refund reservation: %w", err)
		}
		return o.store.SetProjectStatus(ctx, tx, job.ProjectID, models.ProjectFailed)
	})
	if errors.Is(err, errAlreadyTerminal) {
		return nil
	}
	if err != nil {
		return err
	}
	job.Status = models.JobFailed
	job.ErrorMessage = &message
	o.log.Info("generation job failed", "job_id", job.ID, "reason", message, "refunded", job.CreditsCost)
	return nil
}

// abort is the last resort for an unexpected error: it tries to fail the job
// and refund once more, detached from a possibly cancelled context.
func (o *Orchestrator) abort(ctx context.Context, job *models.GenerationJob, cause error) error {
	ctx = context.WithoutCancel(ctx)
	o.log.Error("generation job aborted", "job_id", job.ID, "error", cause)
	if err := o.fail(ctx, job, reasonWorkerError+": "+cause.Error()); err != nil {
		o.log.Error("refund after abort failed, job left in processing",
			"job_id", job.ID, "credits_cost", job.CreditsCost, "error", err)
		return fmt.Errorf("abort job %s: %w", job.ID, err)
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, job *models.GenerationJob, project *models.Project, clips []suno.Clip) error {
	arts := make([]*models.AudioArtifact, 0, len(clips))
	for _, c := range clips {
		a := &models.AudioArtifact{
			ID:              uuid.New(),
			ProjectID:       job.ProjectID,
			JobID:           job.ID,
			FileURL:         c.AudioURL,
			StreamURL:       c.StreamURL,
			ImageURL:        c.ImageURL,
			Duration:        int(c.Duration),
			ProviderAudioID: c.ID,
		}
		if a.Duration <= 0 {
			a.Duration = defaultDuration
		}
		if o.mirror != nil && c.AudioURL != "" {
			if u, err := o.mirror.Mirror(ctx, c.AudioURL); err != nil {
				o.log.Warn("mirror audio failed, keeping provider url", "job_id", job.ID, "error", err)
			} else {
				a.FileURL = u
			}
		}
		arts = append(arts, a)
	}

	err := ledger.InTx(ctx, o.db, func(tx pgx.Tx) error {
		ok, err := o.store.CompleteJob(ctx, tx, job.ID)
		if err != nil {
			return fmt.Errorf("mark job completed: %w", err)
		}
		if !ok {
			return errAlreadyTerminal
		}
		if err := o.store.InsertArtifacts(ctx, tx, arts); err != nil {
			return err
		}
		memo := ledger.Memo{JobID: &job.ID}
		if job.ProviderJobID != nil {
			memo.Metadata = models.Metadata{models.MetaProviderJobID: *job.ProviderJobID}
		}
		if _, err := o.ledger.Debit(ctx, tx, job.UserID, job.CreditsCost, true, memo); err != nil {
			return fmt.Errorf("debit reservation: %w", err)
		}
		return o.store.SetProjectStatus(ctx, tx, job.ProjectID, models.ProjectCompleted)
	})
	if errors.Is(err, errAlreadyTerminal) {
		return nil
	}
	if err != nil {
		return err
	}
	job.Status = models.JobCompleted
	o.log.Info("generation job completed", "job_id", job.ID, "artifacts", len(arts), "debited", job.CreditsCost)

	if project.AutoVideo && len(arts) > 0 {
		o.startAutoVideo(ctx, job, arts[0])
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyCompletion(ctx, job, project, arts); err != nil {
			o.log.Warn("notify completion failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// startAutoVideo schedules the video bundled with the generation. Failures
// are logged and never touch the completed job.
func (o *Orchestrator) startAutoVideo(ctx context.Context, job *models.GenerationJob, first *models.AudioArtifact) {
	if ResolveAudioID(first) == "" || o.enqueueVideo == nil {
		return
	}
	err := ledger.InTx(ctx, o.db, func(tx pgx.Tx) error {
		ok, err := o.store.StartVideo(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrVideoInProgress
		}
		return o.enqueueVideo(ctx, tx, execution.GenerateVideoArgs{JobID: job.ID, ArtifactID: first.ID})
	})
	if err != nil {
		o.log.Warn("auto video not started", "job_id", job.ID, "error", err)
	}
}
