package repository

import (
	"context"

	"securepay/backend/internal/user/domain"
)

// Repository defines persistence for users. Reads return (nil, nil) for missing rows.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	// Create inserts u; a taken username yields storage.ErrDuplicate.
	Create(ctx context.Context, u *domain.User) error
}
