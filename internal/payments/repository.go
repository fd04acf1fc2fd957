package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bimzik/backend/internal/models"
)

// PackageStore reads the credit package catalogue.
type PackageStore interface {
	ListActive(ctx context.Context) ([]*models.CreditPackage, error)
	Get(ctx context.Context, id string) (*models.CreditPackage, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ PackageStore = (*Repository)(nil)

const packageColumns = `id, name, credits, price::text, currency, COALESCE(features, '{}'), is_active, is_popular`

func scanPackage(row pgx.Row) (*models.CreditPackage, error) {
	var (
		p     models.CreditPackage
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Credits, &price, &p.Currency, &p.Features, &p.IsActive, &p.IsPopular); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	p.Price = d
	return &p, nil
}

func (r *Repository) ListActive(ctx context.Context) ([]*models.CreditPackage, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+packageColumns+` FROM credit_packages WHERE is_active ORDER BY price`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CreditPackage
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (*models.CreditPackage, error) {
	p, err := scanPackage(r.pool.QueryRow(ctx, `SELECT `+packageColumns+` FROM credit_packages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	return p, err
}
