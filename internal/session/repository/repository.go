package repository

import (
	"context"
	"time"

	"securepay/backend/internal/session/domain"
)

// Repository defines persistence for sessions and their refresh-token records.
//
// Every mutation is a conditional write keyed on the session version read by the caller: it either lands
// fully or returns storage.ErrVersionConflict and changes nothing. Reads return (nil, nil) for missing rows.
type Repository interface {
	// Create persists a new session together with its first refresh-token record.
	Create(ctx context.Context, s *domain.Session, rt *domain.RefreshToken) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByTokenID(ctx context.Context, tokenID string) (*domain.Session, error)
	GetRefreshToken(ctx context.Context, hash string) (*domain.RefreshToken, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Update replaces the session with next if the stored version equals expectedVersion.
	Update(ctx context.Context, next *domain.Session, expectedVersion int64) error
	// Rotate replaces the session with next if the stored version equals expectedVersion and the
	// consumed refresh record is still unused; it marks that record used at now and stores issued.
	Rotate(ctx context.Context, next *domain.Session, expectedVersion int64, consumedHash string, issued *domain.RefreshToken, now time.Time) error
}
