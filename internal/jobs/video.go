package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bimzik/backend/internal/execution"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/models"
	"github.com/bimzik/backend/internal/suno"
)

var errVideoSettled = errors.New("jobs: video already settled")

// RunVideo derives a clip for one artifact. The parent job is never
// touched: a video failure only moves video_status and returns any direct
// charge.
func (o *Orchestrator) RunVideo(ctx context.Context, args execution.GenerateVideoArgs) (err error) {
	job, err := o.store.GetJob(ctx, args.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = o.failVideo(context.WithoutCancel(ctx), job, args, fmt.Sprintf("%s: panic: %v", reasonWorkerError, r))
		}
	}()
	if err := o.driveVideo(ctx, job, args); err != nil {
		o.log.Error("video run aborted", "job_id", job.ID, "error", err)
		return o.failVideo(context.WithoutCancel(ctx), job, args, reasonWorkerError+": "+err.Error())
	}
	return nil
}

func (o *Orchestrator) driveVideo(ctx context.Context, job *models.GenerationJob, args execution.GenerateVideoArgs) error {
	art, err := o.store.GetArtifact(ctx, args.ArtifactID)
	if err != nil {
		return fmt.Errorf("load artifact: %w", err)
	}
	audioID := ResolveAudioID(art)
	if audioID == "" || job.ProviderJobID == nil {
		return o.failVideo(ctx, job, args, ErrNoAudioID.Error())
	}

	videoTaskID, err := o.provider.SubmitVideo(ctx, *job.ProviderJobID, audioID, o.video.Author, o.video.Domain)
	if err != nil {
		o.log.Warn("video submit failed", "job_id", job.ID, "error", err)
		return o.failVideo(ctx, job, args, err.Error())
	}

	b := o.video.Poll.newBackOff()
	for attempt := 1; attempt <= o.video.Poll.MaxAttempts; attempt++ {
		if err := o.sleep(ctx, b.NextBackOff()); err != nil {
			return err
		}
		st, err := o.provider.GetVideoStatus(ctx, videoTaskID)
		if err != nil {
			o.log.Warn("video poll failed", "job_id", job.ID, "attempt", attempt, "error", err)
			continue
		}
		switch st.State {
		case suno.StateCompleted:
			return o.finishVideo(ctx, job, args, st.VideoURL)
		case suno.StateFailed:
			return o.failVideo(ctx, job, args, reasonVideoFailed+": "+st.Error)
		}
	}
	return o.failVideo(ctx, job, args, reasonTimeout)
}

func (o *Orchestrator) finishVideo(ctx context.Context, job *models.GenerationJob, args execution.GenerateVideoArgs, videoURL string) error {
	err := ledger.InTx(ctx, o.db, func(tx pgx.Tx) error {
		ok, err := o.store.FinishVideo(ctx, tx, job.ID, models.VideoCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return errVideoSettled
		}
		return o.store.SetArtifactVideo(ctx, tx, args.ArtifactID, videoURL)
	})
	if errors.Is(err, errVideoSettled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	o.log.Info("video completed", "job_id", job.ID, "artifact_id", args.ArtifactID)
	return nil
}

// failVideo marks the video failed and, when it was charged up front,
// returns the credits in the same transaction.
func (o *Orchestrator) failVideo(ctx context.Context, job *models.GenerationJob, args execution.GenerateVideoArgs, reason string) error {
	err := ledger.InTx(ctx, o.db, func(tx pgx.Tx) error {
		ok, err := o.store.FinishVideo(ctx, tx, job.ID, models.VideoFailed)
		if err != nil {
			return err
		}
		if !ok {
			return errVideoSettled
		}
		if args.ChargedCredits <= 0 {
			return nil
		}
		memo := ledger.Memo{JobID: &job.ID, Metadata: models.Metadata{models.MetaAction: "video"}}
		_, err = o.ledger.RefundDirect(ctx, tx, job.UserID, args.ChargedCredits, reason, memo)
		return err
	})
	if errors.Is(err, errVideoSettled) {
		return nil
	}
	if err != nil {
		o.log.Error("video refund failed", "job_id", job.ID, "credits", args.ChargedCredits, "error", err)
		return fmt.Errorf("fail video: %w", err)
	}
	o.log.Info("video failed", "job_id", job.ID, "reason", reason, "refunded", args.ChargedCredits)
	return nil
}
