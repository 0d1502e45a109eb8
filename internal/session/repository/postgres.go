package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"securepay/backend/internal/session/domain"
	"securepay/backend/internal/storage"
)

const sessionColumns = `id, user_id, token_id, refresh_token_hash, active, device_name, user_agent, ip_address,
	created_at, expires_at, invalidated_at, version`

// PostgresRepository implements Repository on the sessions and refresh_tokens tables.
type PostgresRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
// timeout bounds every statement; zero means no bound beyond the caller's context.
func NewPostgresRepository(db *sql.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, timeout: timeout}
}

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Create inserts the session and its first refresh-token record in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session, rt *domain.RefreshToken) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, s.TokenID, s.RefreshTokenHash, s.Active, s.Device.Name, s.Device.UserAgent, s.Device.IPAddress,
		s.CreatedAt, s.ExpiresAt, timeToNullTime(s.InvalidatedAt), s.Version)
	if err != nil {
		return storage.Classify(err)
	}
	if err := insertRefreshToken(ctx, tx, rt); err != nil {
		return err
	}
	return storage.Classify(tx.Commit())
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

// GetByTokenID returns the session bound to tokenID, or nil if not found.
func (r *PostgresRepository) GetByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_id = $1`, tokenID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Session, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.Classify(err)
	}
	return s, nil
}

// GetRefreshToken returns the refresh-token record for hash, or nil if the value was never issued.
func (r *PostgresRepository) GetRefreshToken(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var (
		rt     domain.RefreshToken
		usedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, session_id, user_id, used, issued_at, used_at
		FROM refresh_tokens WHERE token_hash = $1`, hash).
		Scan(&rt.Hash, &rt.SessionID, &rt.UserID, &rt.Used, &rt.IssuedAt, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.Classify(err)
	}
	rt.UsedAt = nullTimeToPtr(usedAt)
	return &rt, nil
}

// ListActiveByUser returns the user's active sessions, oldest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND active
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, storage.Classify(err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storage.Classify(err)
		}
		out = append(out, s)
	}
	return out, storage.Classify(rows.Err())
}

// Update writes next only if the stored version still equals expectedVersion.
func (r *PostgresRepository) Update(ctx context.Context, next *domain.Session, expectedVersion int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return updateSession(ctx, r.db, next, expectedVersion)
}

// Rotate swaps the session's refresh token in one transaction: the session row is updated on its version,
// the consumed record is marked used only if still unused, and the issued record is inserted.
func (r *PostgresRepository) Rotate(ctx context.Context, next *domain.Session, expectedVersion int64, consumedHash string, issued *domain.RefreshToken, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateSession(ctx, tx, next, expectedVersion); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET used = TRUE, used_at = $2
		WHERE token_hash = $1 AND NOT used`, consumedHash, now)
	if err != nil {
		return storage.Classify(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storage.Classify(err)
	} else if n != 1 {
		return storage.ErrVersionConflict
	}
	if err := insertRefreshToken(ctx, tx, issued); err != nil {
		return err
	}
	return storage.Classify(tx.Commit())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateSession(ctx context.Context, db execer, next *domain.Session, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $3, active = $4, expires_at = $5, invalidated_at = $6, version = $7
		WHERE id = $1 AND version = $2`,
		next.ID, expectedVersion, next.RefreshTokenHash, next.Active, next.ExpiresAt,
		timeToNullTime(next.InvalidatedAt), next.Version)
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

func insertRefreshToken(ctx context.Context, db execer, rt *domain.RefreshToken) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, session_id, user_id, used, issued_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rt.Hash, rt.SessionID, rt.UserID, rt.Used, rt.IssuedAt, timeToNullTime(rt.UsedAt))
	return storage.Classify(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s             domain.Session
		invalidatedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.TokenID, &s.RefreshTokenHash, &s.Active,
		&s.Device.Name, &s.Device.UserAgent, &s.Device.IPAddress,
		&s.CreatedAt, &s.ExpiresAt, &invalidatedAt, &s.Version)
	if err != nil {
		return nil, err
	}
	s.InvalidatedAt = nullTimeToPtr(invalidatedAt)
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
