package execution

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/bimzik/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type fakeLister struct {
	jobs   []*models.GenerationJob
	err    error
	cutoff time.Time
}

func (f *fakeLister) ListStale(_ context.Context, olderThan time.Time) ([]*models.GenerationJob, error) {
	f.cutoff = olderThan
	return f.jobs, f.err
}

type fakeRunner struct {
	musicID uuid.UUID
	video   GenerateVideoArgs
	err     error
}

func (f *fakeRunner) RunGeneration(_ context.Context, jobID uuid.UUID) error {
	f.musicID = jobID
	return f.err
}

func (f *fakeRunner) RunVideo(_ context.Context, args GenerateVideoArgs) error {
	f.video = args
	return f.err
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestStaleJobsWorker_LogsEachJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{jobs: []*models.GenerationJob{
		{ID: uuid.New(), Status: models.JobProcessing, CreditsCost: 4},
		{ID: uuid.New(), Status: models.JobQueued, CreditsCost: 3},
	}}
	var buf bytes.Buffer
	w := NewStaleJobsWorker(lister, time.Hour, slog.New(slog.NewJSONHandler(&buf, nil)))
	w.now = func() time.Time { return now }

	if err := w.Work(context.Background(), &river.Job[StaleJobsArgs]{}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if !lister.cutoff.Equal(now.Add(-time.Hour)) {
		t.Errorf("cutoff = %v, want %v", lister.cutoff, now.Add(-time.Hour))
	}
	out := buf.String()
	if got := strings.Count(out, "generation job stuck"); got != 2 {
		t.Errorf("stuck lines = %d, want 2", got)
	}
	if !strings.Contains(out, `"count":2`) {
		t.Errorf("summary line missing: %s", out)
	}
}

func TestStaleJobsWorker_Quiet(t *testing.T) {
	var buf bytes.Buffer
	w := NewStaleJobsWorker(&fakeLister{}, time.Hour, slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := w.Work(context.Background(), &river.Job[StaleJobsArgs]{}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}

func TestStaleJobsWorker_ListError(t *testing.T) {
	boom := errors.New("db down")
	w := NewStaleJobsWorker(&fakeLister{err: boom}, time.Hour, nil)
	if err := w.Work(context.Background(), &river.Job[StaleJobsArgs]{}); !errors.Is(err, boom) {
		t.Errorf("expected list error, got %v", err)
	}
}

func TestGenerateWorkers_Delegate(t *testing.T) {
	r := &fakeRunner{}
	jobID := uuid.New()

	mw := NewGenerateMusicWorker(r, 5*time.Minute)
	if err := mw.Work(context.Background(), &river.Job[GenerateMusicArgs]{Args: GenerateMusicArgs{JobID: jobID}}); err != nil {
		t.Fatal(err)
	}
	if r.musicID != jobID {
		t.Errorf("music runner got %s", r.musicID)
	}
	if mw.Timeout(nil) != 5*time.Minute {
		t.Errorf("timeout = %v", mw.Timeout(nil))
	}

	args := GenerateVideoArgs{JobID: jobID, ArtifactID: uuid.New(), ChargedCredits: 1}
	vw := NewGenerateVideoWorker(r, time.Minute)
	if err := vw.Work(context.Background(), &river.Job[GenerateVideoArgs]{Args: args}); err != nil {
		t.Fatal(err)
	}
	if r.video != args {
		t.Errorf("video runner got %+v", r.video)
	}
}

func TestInsertOpts_NoRetry(t *testing.T) {
	for _, opts := range []river.InsertOpts{GenerateMusicArgs{}.InsertOpts(), GenerateVideoArgs{}.InsertOpts()} {
		if opts.MaxAttempts != 1 || opts.Queue != QueueGeneration {
			t.Errorf("unexpected insert opts %+v", opts)
		}
	}
}
