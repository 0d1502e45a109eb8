// Package service implements the session lifecycle: creation, lookup, refresh-token rotation with reuse
// detection, and single or whole-account revocation. All writes are optimistic conditional writes.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"securepay/backend/internal/security"
	"securepay/backend/internal/session/domain"
	"securepay/backend/internal/session/repository"
	"securepay/backend/internal/storage"
)

// MaxAttempts bounds the read-modify-write cycle of every mutation.
const MaxAttempts = 3

// maxRefreshTokenLen rejects pathological inputs before hashing.
const maxRefreshTokenLen = 4096

var (
	// ErrInvalidRefreshToken is returned when the refresh token matches no valid session.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReuseDetected is returned when an already-rotated refresh token is presented again.
	// Every active session of the owning user has been revoked by the time it is returned.
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrConcurrentModification is returned when conditional writes keep losing to concurrent writers.
	// The whole operation may be retried by the caller.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrSessionNotFound is returned by Invalidate when no session carries the token id.
	ErrSessionNotFound = errors.New("session not found")
)

// ReuseDetectedError identifies the account whose refresh token was replayed.
type ReuseDetectedError struct {
	UserID    string
	SessionID string
}

func (e *ReuseDetectedError) Error() string {
	return fmt.Sprintf("%s: session %s", ErrRefreshTokenReuseDetected, e.SessionID)
}

func (e *ReuseDetectedError) Unwrap() error { return ErrRefreshTokenReuseDetected }

// Store is the session store consumed by login, refresh, logout, and the authentication gateway.
type Store struct {
	repo    repository.Repository
	now     func() time.Time
	log     *zap.Logger
	metrics storeMetrics
}

type storeMetrics struct {
	rotations metric.Int64Counter
	reuse     metric.Int64Counter
	conflicts metric.Int64Counter
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore returns a Store persisting through repo. Metrics go to the global OTel meter provider.
func NewStore(repo repository.Repository, opts ...Option) *Store {
	s := &Store{repo: repo, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	meter := otel.Meter("securepay/session")
	s.metrics.rotations, _ = meter.Int64Counter("session.rotations", metric.WithDescription("Successful refresh-token rotations"))
	s.metrics.reuse, _ = meter.Int64Counter("session.reuse_detected", metric.WithDescription("Replayed refresh tokens"))
	s.metrics.conflicts, _ = meter.Int64Counter("session.cas_conflicts", metric.WithDescription("Lost conditional writes"))
	return s
}

// Create opens an active session for userID bound to refreshToken, expiring after ttl.
// A fresh token id is generated for the access tokens of this session.
func (s *Store) Create(ctx context.Context, userID, refreshToken string, ttl time.Duration, device domain.DeviceMeta) (*domain.Session, error) {
	if userID == "" || refreshToken == "" {
		return nil, fmt.Errorf("create session: user id and refresh token are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("create session: ttl must be positive, got %s", ttl)
	}
	tokenID, err := security.NewTokenID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	hash := security.HashRefreshToken(refreshToken)
	sess := &domain.Session{
		ID:               uuid.New().String(),
		UserID:           userID,
		TokenID:          tokenID,
		Device:           device,
		Active:           true,
		RefreshTokenHash: hash,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
		Version:          1,
	}
	rt := &domain.RefreshToken{Hash: hash, SessionID: sess.ID, UserID: userID, IssuedAt: now}
	if err := s.repo.Create(ctx, sess, rt); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// LookupByTokenID returns the session bound to tokenID, or nil when none exists. Validity is the caller's call.
func (s *Store) LookupByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	if tokenID == "" {
		return nil, nil
	}
	return s.repo.GetByTokenID(ctx, tokenID)
}

// ListActive returns the user's currently valid sessions.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	list, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := list[:0]
	for _, sess := range list {
		if sess.IsValid(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Rotate consumes refreshToken and replaces it with a new one valid for ttl.
// Returns the updated session and the new plaintext refresh token.
//
// A refresh token that was already consumed is a replay: every active session of the owner is revoked
// and ErrRefreshTokenReuseDetected is returned. Of two concurrent rotations of the same token exactly one
// wins the conditional write; the loser re-reads, sees the token consumed, and takes the replay path.
func (s *Store) Rotate(ctx context.Context, refreshToken string, ttl time.Duration) (*domain.Session, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > maxRefreshTokenLen {
		return nil, "", ErrInvalidRefreshToken
	}
	if ttl <= 0 {
		return nil, "", fmt.Errorf("rotate: ttl must be positive, got %s", ttl)
	}
	hash := security.HashRefreshToken(refreshToken)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		rt, err := s.repo.GetRefreshToken(ctx, hash)
		if err != nil {
			return nil, "", err
		}
		if rt == nil {
			return nil, "", ErrInvalidRefreshToken
		}
		sess, err := s.repo.GetByID(ctx, rt.SessionID)
		if err != nil {
			return nil, "", err
		}
		now := s.now().UTC()
		if !sess.IsValid(now) {
			return nil, "", ErrInvalidRefreshToken
		}
		if rt.Used || !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
			return nil, "", s.handleReuse(ctx, sess)
		}

		plain, newHash, err := security.NewRefreshToken()
		if err != nil {
			return nil, "", err
		}
		next := sess.Clone()
		next.RefreshTokenHash = newHash
		next.ExpiresAt = now.Add(ttl)
		next.Version = sess.Version + 1
		issued := &domain.RefreshToken{Hash: newHash, SessionID: sess.ID, UserID: sess.UserID, IssuedAt: now}

		err = s.repo.Rotate(ctx, next, sess.Version, hash, issued, now)
		if storage.IsTransient(err) {
			s.metrics.conflicts.Add(ctx, 1)
			s.log.Debug("session rotate lost conditional write", zap.String("session_id", sess.ID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("rotate session: %w", err)
		}
		s.metrics.rotations.Add(ctx, 1)
		return next, plain, nil
	}
	return nil, "", ErrConcurrentModification
}

// handleReuse revokes every session of the compromised account. The revocation is mandatory, so a storage
// failure is returned alongside ErrRefreshTokenReuseDetected rather than swallowed.
func (s *Store) handleReuse(ctx context.Context, sess *domain.Session) error {
	s.metrics.reuse.Add(ctx, 1)
	s.log.Warn("refresh token reuse detected; revoking all sessions",
		zap.String("user_id", sess.UserID), zap.String("session_id", sess.ID))
	reuse := &ReuseDetectedError{UserID: sess.UserID, SessionID: sess.ID}
	if _, err := s.InvalidateAll(ctx, sess.UserID); err != nil {
		return errors.Join(reuse, err)
	}
	return reuse
}

// Invalidate deactivates the session bound to tokenID. Invalidating an inactive session is a no-op.
func (s *Store) Invalidate(ctx context.Context, tokenID string) error {
	sess, err := s.repo.GetByTokenID(ctx, tokenID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	return s.invalidate(ctx, sess)
}

// InvalidateAll deactivates every active session of userID and returns how many it deactivated.
func (s *Store) InvalidateAll(ctx context.Context, userID string) (int, error) {
	list, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range list {
		if err := s.invalidate(ctx, sess); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// invalidate writes the inactive version of sess, re-reading by id after each lost conditional write.
func (s *Store) invalidate(ctx context.Context, sess *domain.Session) error {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if !sess.Active {
			return nil
		}
		err := s.repo.Update(ctx, sess.Invalidated(s.now().UTC()), sess.Version)
		if err == nil {
			return nil
		}
		if !storage.IsTransient(err) {
			return fmt.Errorf("invalidate session: %w", err)
		}
		s.metrics.conflicts.Add(ctx, 1)
		if sess, err = s.repo.GetByID(ctx, sess.ID); err != nil {
			return err
		}
		if sess == nil {
			return ErrSessionNotFound
		}
	}
	return ErrConcurrentModification
}
