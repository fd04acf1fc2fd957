package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bimzik/backend/internal/models"
)

// Repository is the Postgres Store. Accounts live in profiles, entries in
// transactions.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const accountColumns = `id, credits, credits_reserved, total_credits_spent, total_spent_money::text, updated_at`

// Apply runs the guarded UPDATE and the entry INSERT inside tx. The guard is
// part of the WHERE clause, so concurrent mutations of one account serialize
// on the row lock and each re-evaluates the predicate.
func (r *Repository) Apply(ctx context.Context, tx pgx.Tx, m Mutation) (*models.Account, error) {
	query := `
		UPDATE profiles
		SET credits = credits + $2,
		    credits_reserved = credits_reserved + $3,
		    total_credits_spent = total_credits_spent + $4,
		    total_spent_money = total_spent_money + $5::text::numeric,
		    updated_at = now()
		WHERE id = $1`
	args := []any{m.AccountID, m.BalanceDelta, m.ReservedDelta, m.SpentDelta, m.MoneyDelta.String()}
	switch m.Guard {
	case GuardAvailable:
		query += ` AND credits - credits_reserved >= $6`
		args = append(args, m.GuardAmount)
	case GuardReserved:
		query += ` AND credits_reserved >= $6`
		args = append(args, m.GuardAmount)
	}
	query += ` RETURNING ` + accountColumns

	acc, err := scanAccount(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.guardMiss(ctx, tx, m)
	}
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if m.Entry != nil {
		if err := insertEntry(ctx, tx, m.Entry); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// guardMiss tells a missing account apart from a failed predicate.
func (r *Repository) guardMiss(ctx context.Context, tx pgx.Tx, m Mutation) error {
	var credits, reserved int
	err := tx.QueryRow(ctx, `SELECT credits, credits_reserved FROM profiles WHERE id = $1`, m.AccountID).
		Scan(&credits, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("read account: %w", err)
	}
	have := credits - reserved
	if m.Guard == GuardReserved {
		have = reserved
	}
	return &InsufficientCreditsError{Available: have, Required: m.GuardAmount}
}

func insertEntry(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, e *models.LedgerEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var price *string
	if e.Kind == models.EntryPurchase {
		s := e.Price.String()
		price = &s
	}
	err = q.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, job_id, type, amount, price, payment_provider, payment_id, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		RETURNING created_at
	`, e.ID, e.AccountID, e.JobID, string(e.Kind), e.Amount, price, e.Provider, e.ExternalID, string(e.Status), meta).
		Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *Repository) CompletePending(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, externalID string) (*models.LedgerEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'completed', payment_id = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryColumns, entryID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("complete transaction: %w", err)
	}
	return e, nil
}

func (r *Repository) FailPending(ctx context.Context, entryID uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'failed', metadata = metadata || jsonb_build_object('reason', $2::text)
		WHERE id = $1 AND status = 'pending'
	`, entryID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CreateEntry(ctx context.Context, e *models.LedgerEntry) error {
	return insertEntry(ctx, r.pool, e)
}

func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

func (r *Repository) SetEntryMeta(ctx context.Context, id uuid.UUID, key models.MetaKey, value string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET metadata = metadata || jsonb_build_object($2::text, $3::text) WHERE id = $1
	`, id, string(key), value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	acc, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM profiles WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

func (r *Repository) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const entryColumns = `id, user_id, job_id, type, amount, COALESCE(price, 0)::text,
	COALESCE(payment_provider, ''), COALESCE(payment_id, ''), status, metadata, created_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var (
		e            models.LedgerEntry
		kind, status string
		price        string
		meta         []byte
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.JobID, &kind, &e.Amount, &price,
		&e.Provider, &e.ExternalID, &status, &meta, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Kind = models.EntryKind(kind)
	e.Status = models.EntryStatus(status)
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	e.Price = p
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a     models.Account
		money string
	)
	if err := row.Scan(&a.ID, &a.Balance, &a.Reserved, &a.LifetimeSpent, &money, &a.UpdatedAt); err != nil {
		return nil, err
	}
	m, err := decimal.NewFromString(money)
	if err != nil {
		return nil, fmt.Errorf("parse total_spent_money %q: %w", money, err)
	}
	a.LifetimeMoneySpent = m
	return &a, nil
}
