package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bimzik/backend/internal/execution"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/ledger/ledgertest"
	"github.com/bimzik/backend/internal/models"
	"github.com/bimzik/backend/internal/suno"
)

// ---------------------------------------------------------------------------
// In-memory Store
// ---------------------------------------------------------------------------

type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.GenerationJob
	projects  map[uuid.UUID]*models.Project
	artifacts map[uuid.UUID]*models.AudioArtifact
	order     []uuid.UUID
	projOrder []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[uuid.UUID]*models.GenerationJob),
		projects:  make(map[uuid.UUID]*models.Project),
		artifacts: make(map[uuid.UUID]*models.AudioArtifact),
	}
}

var _ Store = (*memStore)(nil)

func (m *memStore) addProject(p *models.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if _, ok := m.projects[p.ID]; !ok {
		m.projOrder = append(m.projOrder, p.ID)
	}
	m.projects[p.ID] = &cp
}

func (m *memStore) addJob(j *models.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
}

func (m *memStore) addArtifact(a *models.AudioArtifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.artifacts[a.ID] = &cp
	m.order = append(m.order, a.ID)
}

func (m *memStore) job(id uuid.UUID) models.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) project(id uuid.UUID) models.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.projects[id]
}

func (m *memStore) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetArtifact(_ context.Context, id uuid.UUID) (*models.AudioArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListArtifacts(_ context.Context, jobID uuid.UUID) ([]*models.AudioArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AudioArtifact
	for _, id := range m.order {
		if a := m.artifacts[id]; a.JobID == jobID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) InsertProject(_ context.Context, p *models.Project) error {
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.addProject(p)
	return nil
}

func (m *memStore) ListProjects(_ context.Context, userID uuid.UUID) ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Project
	for i := len(m.projOrder) - 1; i >= 0; i-- {
		if p := m.projects[m.projOrder[i]]; p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListProjectArtifacts(_ context.Context, projectID uuid.UUID) ([]*models.AudioArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AudioArtifact
	for _, id := range m.order {
		if a := m.artifacts[id]; a.ProjectID == projectID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (m *memStore) ListStale(_ context.Context, olderThan time.Time) ([]*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationJob
	for _, j := range m.jobs {
		if !j.Status.Terminal() && j.CreatedAt.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// undo registers fn to run, under the store lock, if tx rolls back.
func (m *memStore) undo(tx pgx.Tx, fn func()) {
	ledgertest.OnRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		fn()
	})
}

func (m *memStore) InsertJob(_ context.Context, tx pgx.Tx, j *models.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	cp.CreatedAt = time.Now()
	m.jobs[j.ID] = &cp
	m.undo(tx, func() { delete(m.jobs, j.ID) })
	return nil
}

func (m *memStore) MarkProjectGenerating(_ context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.Status == models.ProjectGenerating {
		return false, nil
	}
	prev := p.Status
	p.Status = models.ProjectGenerating
	m.undo(tx, func() { p.Status = prev })
	return true, nil
}

func (m *memStore) SetProjectStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		prev := p.Status
		p.Status = status
		m.undo(tx, func() { p.Status = prev })
	}
	return nil
}

func (m *memStore) ClaimJob(_ context.Context, id uuid.UUID) (bool, error) {
	return m.transition(nil, id, models.JobQueued, models.JobProcessing, func(j *models.GenerationJob) {
		j.ProviderJobID = nil
	}), nil
}

func (m *memStore) SetProviderJobID(_ context.Context, id uuid.UUID, providerJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.ProviderJobID = &providerJobID
	j.Metadata = j.Metadata.With(models.MetaProviderJobID, providerJobID)
	return nil
}

func (m *memStore) CompleteJob(_ context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	return m.transition(tx, id, models.JobProcessing, models.JobCompleted, func(j *models.GenerationJob) {
		now := time.Now()
		j.CompletedAt = &now
	}), nil
}

func (m *memStore) FailJob(_ context.Context, tx pgx.Tx, id uuid.UUID, message string) (bool, error) {
	return m.transition(tx, id, models.JobProcessing, models.JobFailed, func(j *models.GenerationJob) {
		j.ErrorMessage = &message
	}), nil
}

func (m *memStore) transition(tx pgx.Tx, id uuid.UUID, from, to models.JobStatus, mut func(*models.GenerationJob)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != from {
		return false
	}
	prev := *j
	j.Status = to
	mut(j)
	m.undo(tx, func() { *j = prev })
	return true
}

func (m *memStore) InsertArtifacts(_ context.Context, tx pgx.Tx, arts []*models.AudioArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range arts {
		top := 0
		for _, ex := range m.artifacts {
			if ex.ProjectID == a.ProjectID && ex.VersionNumber > top {
				top = ex.VersionNumber
			}
		}
		a.VersionNumber = top + 1
		cp := *a
		m.artifacts[a.ID] = &cp
		m.order = append(m.order, a.ID)
		id := a.ID
		m.undo(tx, func() { m.dropArtifact(id) })
	}
	return nil
}

func (m *memStore) dropArtifact(id uuid.UUID) {
	delete(m.artifacts, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *memStore) artifactCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.artifacts)
}

func (m *memStore) StartVideo(_ context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != models.JobCompleted {
		return false, nil
	}
	if j.VideoStatus != nil && *j.VideoStatus == models.VideoProcessing {
		return false, nil
	}
	prev := j.VideoStatus
	vs := models.VideoProcessing
	j.VideoStatus = &vs
	m.undo(tx, func() { j.VideoStatus = prev })
	return true, nil
}

func (m *memStore) FinishVideo(_ context.Context, tx pgx.Tx, jobID uuid.UUID, status models.VideoStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.VideoStatus == nil || *j.VideoStatus != models.VideoProcessing {
		return false, nil
	}
	prev := j.VideoStatus
	j.VideoStatus = &status
	m.undo(tx, func() { j.VideoStatus = prev })
	return true, nil
}

func (m *memStore) SetArtifactVideo(_ context.Context, tx pgx.Tx, artifactID uuid.UUID, videoURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[artifactID]
	if !ok {
		return ErrArtifactNotFound
	}
	prev := a.VideoURL
	a.VideoURL = &videoURL
	m.undo(tx, func() { a.VideoURL = prev })
	return nil
}

// ---------------------------------------------------------------------------
// Scripted provider
// ---------------------------------------------------------------------------

// pollStep is one scripted GetStatus answer: an error or a status.
type pollStep struct {
	status *suno.Status
	err    error
}

type fakeProvider struct {
	mu sync.Mutex

	submitErr error
	polls     []pollStep
	pollCalls int
	panicOn   int

	videoSubmitErr error
	videoPolls     []*suno.VideoStatus
	videoCalls     int
	videoSubmits   int

	lyricsSubmitErr error
	lyricsPolls     []*suno.LyricsStatus
	lyricsCalls     int
	lastPrompt      string
}

var errNetwork = errors.New("connection reset")

func (f *fakeProvider) SubmitGeneration(context.Context, suno.GenerateRequest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "task-1", nil
}

func (f *fakeProvider) GetStatus(context.Context, string) (*suno.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if f.panicOn != 0 && f.pollCalls == f.panicOn {
		panic("provider exploded")
	}
	if f.pollCalls > len(f.polls) {
		return &suno.Status{State: suno.StatePending}, nil
	}
	step := f.polls[f.pollCalls-1]
	return step.status, step.err
}

func (f *fakeProvider) SubmitVideo(context.Context, string, string, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoSubmits++
	if f.videoSubmitErr != nil {
		return "", f.videoSubmitErr
	}
	return "video-1", nil
}

func (f *fakeProvider) GetVideoStatus(context.Context, string) (*suno.VideoStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoCalls++
	if f.videoCalls > len(f.videoPolls) {
		return &suno.VideoStatus{State: suno.StatePending}, nil
	}
	return f.videoPolls[f.videoCalls-1], nil
}

func (f *fakeProvider) SubmitLyrics(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	if f.lyricsSubmitErr != nil {
		return "", f.lyricsSubmitErr
	}
	return "lyrics-1", nil
}

func (f *fakeProvider) GetLyricsStatus(context.Context, string) (*suno.LyricsStatus, error) {
	f.lyricsCalls++
	if f.lyricsCalls > len(f.lyricsPolls) {
		return &suno.LyricsStatus{State: suno.StatePending}, nil
	}
	return f.lyricsPolls[f.lyricsCalls-1], nil
}

func completedStatus(clips ...suno.Clip) pollStep {
	return pollStep{status: &suno.Status{State: suno.StateCompleted, Clips: clips}}
}

func pendingStatus() pollStep {
	return pollStep{status: &suno.Status{State: suno.StatePending}}
}

// debitFailingLedger fails every Debit and passes the rest through.
type debitFailingLedger struct {
	ledger.Service
	err error
}

func (l debitFailingLedger) Debit(context.Context, pgx.Tx, uuid.UUID, int, bool, ledger.Memo) (*models.Account, error) {
	return nil, l.err
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	store    *memStore
	ledger   ledger.Service
	accounts *ledgertest.Store
	provider *fakeProvider
	user     uuid.UUID
	project  *models.Project

	videosQueued []execution.GenerateVideoArgs
	musicQueued  []execution.GenerateMusicArgs
	enqueueErr   error
}

func newFixture(balance int) *fixture {
	f := &fixture{
		store:    newMemStore(),
		provider: &fakeProvider{},
		user:     uuid.New(),
	}
	f.accounts = ledgertest.NewStore(&models.Account{ID: f.user, Balance: balance})
	f.ledger = ledger.NewService(f.accounts, nil)
	f.project = &models.Project{
		ID:      uuid.New(),
		UserID:  f.user,
		Title:   "Night Drive",
		Lyrics:  "la la la",
		StyleID: "afrobeat",
		Mode:    models.ModeText,
		Status:  models.ProjectDraft,
	}
	f.store.addProject(f.project)
	return f
}

func (f *fixture) enqueueVideo(_ context.Context, _ pgx.Tx, args execution.GenerateVideoArgs) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.videosQueued = append(f.videosQueued, args)
	return nil
}

func (f *fixture) enqueueMusic(_ context.Context, _ pgx.Tx, args execution.GenerateMusicArgs) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.musicQueued = append(f.musicQueued, args)
	return nil
}

func (f *fixture) orchestrator(poll PollPolicy) *Orchestrator {
	return NewOrchestrator(OrchestratorDeps{
		DB:           ledgertest.DB{},
		Store:        f.store,
		Ledger:       f.ledger,
		Provider:     f.provider,
		EnqueueVideo: f.enqueueVideo,
		Poll:         poll,
		Video:        VideoConfig{Poll: PollPolicy{Initial: time.Second, Multiplier: 1, Max: time.Second, MaxAttempts: 3}},
		Sleep:        noSleep,
	})
}

func (f *fixture) service() *Service {
	return NewService(ServiceDeps{
		DB:           ledgertest.DB{},
		Store:        f.store,
		Ledger:       f.ledger,
		Provider:     f.provider,
		EnqueueMusic: f.enqueueMusic,
		EnqueueVideo: f.enqueueVideo,
		VideoCost:    1,
		LyricsPoll:   PollPolicy{Initial: time.Second, Multiplier: 1, Max: time.Second, MaxAttempts: 3},
		Sleep:        noSleep,
	})
}

// queuedJob reserves cost for a new queued job the way StartGeneration does.
func (f *fixture) queuedJob(cost int) *models.GenerationJob {
	j := &models.GenerationJob{
		ID:          uuid.New(),
		ProjectID:   f.project.ID,
		UserID:      f.user,
		Status:      models.JobQueued,
		CreditsCost: cost,
	}
	if _, err := f.ledger.Reserve(context.Background(), ledgertest.NewTx(), f.user, cost, ledger.Memo{JobID: &j.ID}); err != nil {
		panic(err)
	}
	f.store.addJob(j)
	return j
}

func (f *fixture) account() *models.Account { return f.accounts.Snapshot(f.user) }

// settlements counts the debit and refund entries that settle a job's
// reservation. Video entries carry the job id too and are excluded.
func (f *fixture) settlements(jobID uuid.UUID) (debits, refunds []*models.LedgerEntry) {
	for _, e := range f.accounts.Entries(jobID) {
		if e.Metadata.Get(models.MetaAction) == "video" {
			continue
		}
		switch e.Kind {
		case models.EntryDebit:
			debits = append(debits, e)
		case models.EntryRefund:
			refunds = append(refunds, e)
		}
	}
	return debits, refunds
}

var testPoll = PollPolicy{Initial: time.Second, Multiplier: 1, Max: time.Second, MaxAttempts: 5}
