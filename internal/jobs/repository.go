package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bimzik/backend/internal/models"
)

// Store is the job, project and artifact persistence. Every status change is
// a conditional UPDATE that reports whether it matched, so a second writer
// racing on the same row sees false instead of overwriting.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetArtifact(ctx context.Context, id uuid.UUID) (*models.AudioArtifact, error)
	ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]*models.AudioArtifact, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]*models.GenerationJob, error)

	InsertProject(ctx context.Context, p *models.Project) error
	// ListProjects returns the user's projects, newest first.
	ListProjects(ctx context.Context, userID uuid.UUID) ([]*models.Project, error)
	// ListProjectArtifacts returns every audio file of a project by version.
	ListProjectArtifacts(ctx context.Context, projectID uuid.UUID) ([]*models.AudioArtifact, error)

	InsertJob(ctx context.Context, tx pgx.Tx, j *models.GenerationJob) error
	MarkProjectGenerating(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (bool, error)
	SetProjectStatus(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, status string) error

	// ClaimJob moves queued -> processing and clears provider_job_id.
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	SetProviderJobID(ctx context.Context, id uuid.UUID, providerJobID string) error
	// CompleteJob and FailJob only match a processing job.
	CompleteJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	FailJob(ctx context.Context, tx pgx.Tx, id uuid.UUID, message string) (bool, error)
	// InsertArtifacts assigns version numbers after the project's current maximum.
	InsertArtifacts(ctx context.Context, tx pgx.Tx, arts []*models.AudioArtifact) error

	// StartVideo sets video_status to processing unless a video is already running.
	StartVideo(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error)
	// FinishVideo moves video_status from processing to status.
	FinishVideo(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status models.VideoStatus) (bool, error)
	SetArtifactVideo(ctx context.Context, tx pgx.Tx, artifactID uuid.UUID, videoURL string) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const jobColumns = `id, project_id, user_id, status, credits_cost, provider_job_id, error_message,
	video_status, metadata, created_at, completed_at`

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var (
		j           models.GenerationJob
		status      string
		videoStatus *string
		meta        []byte
	)
	err := row.Scan(&j.ID, &j.ProjectID, &j.UserID, &status, &j.CreditsCost, &j.ProviderJobID, &j.ErrorMessage,
		&videoStatus, &meta, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if videoStatus != nil {
		vs := models.VideoStatus(*videoStatus)
		j.VideoStatus = &vs
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &j, nil
}

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

const projectColumns = `id, user_id, title, COALESCE(lyrics_final, ''), COALESCE(context_input, ''),
	COALESCE(style_id, ''), COALESCE(custom_style, ''), COALESCE(language, 'en'), mode, audio_url,
	auto_video, status, created_at, updated_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Lyrics, &p.ContextInput,
		&p.StyleID, &p.CustomStyle, &p.Language, &p.Mode, &p.SeedAudio,
		&p.AutoVideo, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	return p, err
}

func (r *Repository) InsertProject(ctx context.Context, p *models.Project) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO projects (id, user_id, title, lyrics_final, context_input, style_id, custom_style,
			language, mode, audio_url, auto_video, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.Title, p.Lyrics, p.ContextInput, p.StyleID, p.CustomStyle,
		p.Language, p.Mode, p.SeedAudio, p.AutoVideo, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *Repository) ListProjects(ctx context.Context, userID uuid.UUID) ([]*models.Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const artifactColumns = `id, project_id, job_id, file_url, COALESCE(stream_url, ''), COALESCE(image_url, ''),
	video_url, duration, version_number, COALESCE(provider_audio_id, ''), created_at`

func scanArtifact(row pgx.Row) (*models.AudioArtifact, error) {
	var a models.AudioArtifact
	err := row.Scan(&a.ID, &a.ProjectID, &a.JobID, &a.FileURL, &a.StreamURL, &a.ImageURL,
		&a.VideoURL, &a.Duration, &a.VersionNumber, &a.ProviderAudioID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) GetArtifact(ctx context.Context, id uuid.UUID) (*models.AudioArtifact, error) {
	a, err := scanArtifact(r.pool.QueryRow(ctx, `SELECT `+artifactColumns+` FROM audio_files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	return a, err
}

func (r *Repository) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]*models.AudioArtifact, error) {
	return r.queryArtifacts(ctx, `
		SELECT `+artifactColumns+` FROM audio_files WHERE job_id = $1 ORDER BY version_number
	`, jobID)
}

func (r *Repository) queryArtifacts(ctx context.Context, sql string, args ...any) ([]*models.AudioArtifact, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AudioArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) ListProjectArtifacts(ctx context.Context, projectID uuid.UUID) ([]*models.AudioArtifact, error) {
	return r.queryArtifacts(ctx, `
		SELECT `+artifactColumns+` FROM audio_files WHERE project_id = $1 ORDER BY version_number
	`, projectID)
}

func (r *Repository) ListStale(ctx context.Context, olderThan time.Time) ([]*models.GenerationJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE status IN ('queued', 'processing') AND created_at < $1
		ORDER BY created_at
		LIMIT 500
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *Repository) InsertJob(ctx context.Context, tx pgx.Tx, j *models.GenerationJob) error {
	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	return tx.QueryRow(ctx, `
		INSERT INTO generation_jobs (id, project_id, user_id, status, credits_cost, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, j.ID, j.ProjectID, j.UserID, string(j.Status), j.CreditsCost, meta).Scan(&j.CreatedAt)
}

func (r *Repository) MarkProjectGenerating(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE projects SET status = 'generating', updated_at = now()
		WHERE id = $1 AND status <> 'generating'
	`, projectID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) SetProjectStatus(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`, projectID, status)
	return err
}

func (r *Repository) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs SET status = 'processing', provider_job_id = NULL
		WHERE id = $1 AND status = 'queued'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) SetProviderJobID(ctx context.Context, id uuid.UUID, providerJobID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET provider_job_id = $2, metadata = metadata || jsonb_build_object('provider_job_id', $2::text)
		WHERE id = $1
	`, id, providerJobID)
	return err
}

func (r *Repository) CompleteJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generation_jobs SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) FailJob(ctx context.Context, tx pgx.Tx, id uuid.UUID, message string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generation_jobs SET status = 'failed', error_message = $2, completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) InsertArtifacts(ctx context.Context, tx pgx.Tx, arts []*models.AudioArtifact) error {
	if len(arts) == 0 {
		return nil
	}
	projectID := arts[0].ProjectID
	// Lock the project row so concurrent inserts cannot pick the same versions.
	if _, err := tx.Exec(ctx, `SELECT 1 FROM projects WHERE id = $1 FOR UPDATE`, projectID); err != nil {
		return fmt.Errorf("lock project: %w", err)
	}
	var maxVersion int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_number), 0) FROM audio_files WHERE project_id = $1
	`, projectID).Scan(&maxVersion); err != nil {
		return fmt.Errorf("max version: %w", err)
	}
	for i, a := range arts {
		a.VersionNumber = maxVersion + i + 1
		err := tx.QueryRow(ctx, `
			INSERT INTO audio_files (id, project_id, job_id, file_path, file_url, stream_url, image_url,
				duration, version_number, provider_audio_id)
			VALUES ($1, $2, $3, $4, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, NULLIF($9, ''))
			RETURNING created_at
		`, a.ID, a.ProjectID, a.JobID, a.FileURL, a.StreamURL, a.ImageURL, a.Duration, a.VersionNumber, a.ProviderAudioID).
			Scan(&a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert audio file %d: %w", a.VersionNumber, err)
		}
	}
	return nil
}

func (r *Repository) StartVideo(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generation_jobs SET video_status = 'processing'
		WHERE id = $1 AND status = 'completed' AND video_status IS DISTINCT FROM 'processing'
	`, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) FinishVideo(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status models.VideoStatus) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generation_jobs SET video_status = $2
		WHERE id = $1 AND video_status = 'processing'
	`, jobID, string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) SetArtifactVideo(ctx context.Context, tx pgx.Tx, artifactID uuid.UUID, videoURL string) error {
	_, err := tx.Exec(ctx, `UPDATE audio_files SET video_url = $2 WHERE id = $1`, artifactID, videoURL)
	return err
}
