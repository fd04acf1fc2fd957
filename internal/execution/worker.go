package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/bimzik/backend/internal/models"
)

// QueueGeneration holds the long-polling provider jobs so they cannot starve
// the default queue.
const QueueGeneration = "generation"

type GenerateMusicArgs struct {
	JobID     uuid.UUID `json:"job_id"`
	ProjectID uuid.UUID `json:"project_id"`
}

func (GenerateMusicArgs) Kind() string { return "generate_music" }

// InsertOpts disables retries: a second run would resubmit to the provider
// after credits were already settled by the first.
func (GenerateMusicArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1, Queue: QueueGeneration}
}

// GenerateVideoArgs drives one derive-video run. ChargedCredits is the direct
// debit taken up front, zero when the video is bundled with the generation.
type GenerateVideoArgs struct {
	JobID          uuid.UUID `json:"job_id"`
	ArtifactID     uuid.UUID `json:"artifact_id"`
	ChargedCredits int       `json:"charged_credits"`
}

func (GenerateVideoArgs) Kind() string { return "generate_video" }

func (GenerateVideoArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1, Queue: QueueGeneration}
}

type StaleJobsArgs struct{}

func (StaleJobsArgs) Kind() string { return "stale_job_report" }

// MusicRunner drives one generation job to a terminal state.
type MusicRunner interface {
	RunGeneration(ctx context.Context, jobID uuid.UUID) error
}

// VideoRunner drives one derive-video run.
type VideoRunner interface {
	RunVideo(ctx context.Context, args GenerateVideoArgs) error
}

type GenerateMusicWorker struct {
	river.WorkerDefaults[GenerateMusicArgs]
	runner  MusicRunner
	timeout time.Duration
}

// NewGenerateMusicWorker builds the worker. timeout must exceed the worst-case
// polling budget or river cancels the job context mid-poll.
func NewGenerateMusicWorker(runner MusicRunner, timeout time.Duration) *GenerateMusicWorker {
	return &GenerateMusicWorker{runner: runner, timeout: timeout}
}

func (w *GenerateMusicWorker) Timeout(*river.Job[GenerateMusicArgs]) time.Duration {
	return w.timeout
}

func (w *GenerateMusicWorker) Work(ctx context.Context, job *river.Job[GenerateMusicArgs]) error {
	return w.runner.RunGeneration(ctx, job.Args.JobID)
}

type GenerateVideoWorker struct {
	river.WorkerDefaults[GenerateVideoArgs]
	runner  VideoRunner
	timeout time.Duration
}

func NewGenerateVideoWorker(runner VideoRunner, timeout time.Duration) *GenerateVideoWorker {
	return &GenerateVideoWorker{runner: runner, timeout: timeout}
}

func (w *GenerateVideoWorker) Timeout(*river.Job[GenerateVideoArgs]) time.Duration {
	return w.timeout
}

func (w *GenerateVideoWorker) Work(ctx context.Context, job *river.Job[GenerateVideoArgs]) error {
	return w.runner.RunVideo(ctx, job.Args)
}

// StaleJobLister finds jobs stuck in a non-terminal status.
type StaleJobLister interface {
	ListStale(ctx context.Context, olderThan time.Time) ([]*models.GenerationJob, error)
}

// StaleJobsWorker reports jobs that never reached a terminal status. It only
// logs: settling them needs a human or a separate sweep.
type StaleJobsWorker struct {
	river.WorkerDefaults[StaleJobsArgs]
	lister StaleJobLister
	after  time.Duration
	log    *slog.Logger
	now    func() time.Time
}

func NewStaleJobsWorker(lister StaleJobLister, after time.Duration, log *slog.Logger) *StaleJobsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &StaleJobsWorker{lister: lister, after: after, log: log, now: time.Now}
}

func (w *StaleJobsWorker) Work(ctx context.Context, _ *river.Job[StaleJobsArgs]) error {
	stale, err := w.lister.ListStale(ctx, w.now().Add(-w.after))
	if err != nil {
		return err
	}
	for _, j := range stale {
		w.log.Warn("generation job stuck",
			"job_id", j.ID, "user_id", j.UserID, "status", j.Status,
			"credits_cost", j.CreditsCost, "created_at", j.CreatedAt)
	}
	if len(stale) > 0 {
		w.log.Warn("stale generation jobs found", "count", len(stale))
	}
	return nil
}
