package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bimzik/backend/internal/models"
)

// PrefStore persists per-job notification preferences.
type PrefStore interface {
	Upsert(ctx context.Context, p *models.NotificationPreference) error
	ForJob(ctx context.Context, jobID uuid.UUID) ([]*models.NotificationPreference, error)
	MarkNotified(ctx context.Context, id uuid.UUID) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ PrefStore = (*Repository)(nil)

// Upsert keeps one preference per job; a second subscribe replaces the
// channel and destination and re-arms delivery.
func (r *Repository) Upsert(ctx context.Context, p *models.NotificationPreference) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO notification_preferences (id, job_id, user_id, channel, destination)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE
		SET channel = EXCLUDED.channel, destination = EXCLUDED.destination, notified = false
		RETURNING id, notified, created_at
	`, p.ID, p.JobID, p.UserID, p.Channel, p.Destination).Scan(&p.ID, &p.Notified, &p.CreatedAt)
}

func (r *Repository) ForJob(ctx context.Context, jobID uuid.UUID) ([]*models.NotificationPreference, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, user_id, channel, destination, notified, created_at
		FROM notification_preferences WHERE job_id = $1
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.NotificationPreference
	for rows.Next() {
		var p models.NotificationPreference
		if err := rows.Scan(&p.ID, &p.JobID, &p.UserID, &p.Channel, &p.Destination, &p.Notified, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *Repository) MarkNotified(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE notification_preferences SET notified = true WHERE id = $1`, id)
	return err
}
