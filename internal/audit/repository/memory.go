package repository

import (
	"context"
	"sync"

	"securepay/backend/internal/audit/domain"
)

// MemoryRepository keeps audit entries in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *a
	r.mu.Lock()
	r.entries = append(r.entries, &c)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	skipped := int32(0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && int32(len(out)) >= limit {
			break
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}
