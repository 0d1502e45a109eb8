package repository

import (
	"context"
	"sync"

	"securepay/backend/internal/storage"
	"securepay/backend/internal/user/domain"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu         sync.Mutex
	byID       map[string]*domain.User
	byUsername map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User), byUsername: make(map[string]string)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	id, ok := r.byUsername[username]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return storage.Classify(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUsername[u.Username]; ok {
		return storage.ErrDuplicate
	}
	c := *u
	r.byID[u.ID] = &c
	r.byUsername[u.Username] = u.ID
	return nil
}
