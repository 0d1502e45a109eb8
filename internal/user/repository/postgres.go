package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"securepay/backend/internal/storage"
	"securepay/backend/internal/user/domain"
)

// PostgresRepository implements Repository on the users table.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, timeout: timeout}
}

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// GetByID returns the user for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT id, username, password_hash, role, created_at FROM users WHERE id = $1`, id)
}

// GetByUsername returns the user for username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1`, username)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*domain.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var (
		u    domain.User
		role string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.Classify(err)
	}
	u.Role = domain.Role(role)
	return &u, nil
}

// Create inserts the user; the username unique constraint surfaces as storage.ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, string(u.Role), u.CreatedAt)
	return storage.Classify(err)
}
