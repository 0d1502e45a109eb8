package repository

import (
	"context"

	"securepay/backend/internal/payment/domain"
)

// Repository defines persistence for payments. Reads return (nil, nil) for missing rows.
type Repository interface {
	// Create inserts p. A second payment with the same ReferenceID yields storage.ErrDuplicate.
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByReference(ctx context.Context, referenceID string) (*domain.Payment, error)
	// ListByOwner returns the owner's payments, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Payment, error)
	// Update replaces the payment with next if the stored version equals expectedVersion,
	// otherwise it returns storage.ErrVersionConflict and changes nothing.
	Update(ctx context.Context, next *domain.Payment, expectedVersion int64) error
}
