package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"securepay/backend/internal/payment/domain"
	"securepay/backend/internal/storage"
)

const paymentColumns = `id, owner_id, amount, currency, reference_id, status, created_at, updated_at, version`

// PostgresRepository implements Repository on the payments table.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns a payment repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, timeout: timeout}
}

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Create inserts p; the reference_id unique constraint surfaces as storage.ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Payment) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OwnerID, p.Amount, p.Currency, p.ReferenceID, string(p.Status), p.CreatedAt, p.UpdatedAt, p.Version)
	return storage.Classify(err)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByReference(ctx context.Context, referenceID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference_id = $1`, referenceID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*domain.Payment, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.Classify(err)
	}
	return p, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Payment, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, storage.Classify(err)
	}
	defer rows.Close()
	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, storage.Classify(err)
		}
		out = append(out, p)
	}
	return out, storage.Classify(rows.Err())
}

// Update is a compare-and-set on version: exactly one of several writers holding the same version wins.
func (r *PostgresRepository) Update(ctx context.Context, next *domain.Payment, expectedVersion int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $3, updated_at = $4, version = $5
		WHERE id = $1 AND version = $2`,
		next.ID, expectedVersion, string(next.Status), next.UpdatedAt, next.Version)
	if err != nil {
		return storage.Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Classify(err)
	}
	if n != 1 {
		return storage.ErrVersionConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Amount, &p.Currency, &p.ReferenceID, &status,
		&p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err != nil {
		return nil, err
	}
	p.Status = domain.Status(status)
	return &p, nil
}
