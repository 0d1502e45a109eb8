package repository

import (
	"context"
	"sort"
	"sync"

	"securepay/backend/internal/payment/domain"
	"securepay/backend/internal/storage"
)

// MemoryRepository is an in-process Repository with the same uniqueness and conditional-write rules
// as PostgresRepository.
type MemoryRepository struct {
	mu    sync.Mutex
	byID  map[string]*domain.Payment
	byRef map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[string]*domain.Payment),
		byRef: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return storage.Classify(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRef[p.ReferenceID]; ok {
		return storage.ErrDuplicate
	}
	if _, ok := r.byID[p.ID]; ok {
		return storage.ErrDuplicate
	}
	r.byID[p.ID] = p.Clone()
	r.byRef[p.ReferenceID] = p.ID
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetByReference(ctx context.Context, referenceID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRef[referenceID]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Payment
	for _, p := range r.byID {
		if p.OwnerID == ownerID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, next *domain.Payment, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return storage.Classify(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[next.ID]
	if !ok || cur.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	r.byID[next.ID] = next.Clone()
	return nil
}
