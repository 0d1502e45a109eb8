package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"securepay/backend/internal/session/domain"
	"securepay/backend/internal/storage"
)

// MemoryRepository is an in-process Repository. It honours the same conditional-write contract as
// PostgresRepository and is used for local runs without DATABASE_URL and in tests.
type MemoryRepository struct {
	mu        sync.Mutex
	byID      map[string]*domain.Session
	byTokenID map[string]string
	refresh   map[string]*domain.RefreshToken
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:      make(map[string]*domain.Session),
		byTokenID: make(map[string]string),
		refresh:   make(map[string]*domain.RefreshToken),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session, rt *domain.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return storage.Classify(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; ok {
		return fmt.Errorf("%w: session id", storage.ErrDuplicate)
	}
	if _, ok := r.byTokenID[s.TokenID]; ok {
		return fmt.Errorf("%w: token id", storage.ErrDuplicate)
	}
	if _, ok := r.refresh[rt.Hash]; ok {
		return fmt.Errorf("%w: refresh token", storage.ErrDuplicate)
	}
	r.byID[s.ID] = s.Clone()
	r.byTokenID[s.TokenID] = s.ID
	rtCopy := *rt
	r.refresh[rt.Hash] = &rtCopy
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byTokenID[tokenID]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetRefreshToken(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.refresh[hash]
	if !ok {
		return nil, nil
	}
	c := *rt
	return &c, nil
}

func (r *MemoryRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.byID {
		if s.UserID == userID && s.Active {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, next *domain.Session, expectedVersion int64) error {
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

func (r *MemoryRepository) Rotate(ctx context.Context, next *domain.Session, expectedVersion int64, consumedHash string, issued *domain.RefreshToken, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return storage.Classify(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[next.ID]
	if !ok || cur.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	consumed, ok := r.refresh[consumedHash]
	if !ok || consumed.Used {
		return storage.ErrVersionConflict
	}
	if _, dup := r.refresh[issued.Hash]; dup {
		return fmt.Errorf("%w: refresh token", storage.ErrDuplicate)
	}
	consumed.Used = true
	consumed.UsedAt = &now
	issuedCopy := *issued
	r.refresh[issued.Hash] = &issuedCopy
	r.byID[next.ID] = next.Clone()
	return nil
}
