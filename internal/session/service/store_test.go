package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"securepay/backend/internal/security"
	"securepay/backend/internal/session/domain"
	"securepay/backend/internal/session/repository"
	"securepay/backend/internal/storage"
)

const testTTL = time.Hour

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *repository.MemoryRepository, *testClock) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewStore(repo, WithClock(clock.Now)), repo, clock
}

func createSession(t *testing.T, s *Store, userID string) (*domain.Session, string) {
	t.Helper()
	refresh, _, err := security.NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	sess, err := s.Create(context.Background(), userID, refresh, testTTL, domain.DeviceMeta{Name: "laptop"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess, refresh
}

func TestStore_CreateAndLookup(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	sess, _ := createSession(t, s, "u1")
	if sess.ID == "" || sess.TokenID == "" {
		t.Fatal("session id and token id must be generated")
	}
	if !sess.Active || sess.Version != 1 || !sess.ExpiresAt.Equal(clock.Now().Add(testTTL)) {
		t.Errorf("unexpected new session: %+v", sess)
	}
	got, err := s.LookupByTokenID(ctx, sess.TokenID)
	if err != nil {
		t.Fatalf("LookupByTokenID: %v", err)
	}
	if got == nil || got.ID != sess.ID || got.UserID != "u1" {
		t.Fatalf("LookupByTokenID = %+v, want session %s", got, sess.ID)
	}
	if got, _ := s.LookupByTokenID(ctx, "missing"); got != nil {
		t.Errorf("LookupByTokenID(missing) = %+v, want nil", got)
	}
}

func TestStore_CreateValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, "", "r", testTTL, domain.DeviceMeta{}); err == nil {
		t.Error("empty user id should fail")
	}
	if _, err := s.Create(ctx, "u1", "r", 0, domain.DeviceMeta{}); err == nil {
		t.Error("zero ttl should fail")
	}
}

func TestStore_Rotate(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	sess, refresh := createSession(t, s, "u1")

	clock.Advance(10 * time.Minute)
	rotated, newRefresh, err := s.Rotate(ctx, refresh, testTTL)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newRefresh == "" || newRefresh == refresh {
		t.Fatal("Rotate must return a new refresh token")
	}
	if rotated.ID != sess.ID || rotated.TokenID != sess.TokenID {
		t.Error("rotation keeps the session and its token id")
	}
	if rotated.Version != sess.Version+1 {
		t.Errorf("Version = %d, want %d", rotated.Version, sess.Version+1)
	}
	if !rotated.ExpiresAt.Equal(clock.Now().Add(testTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", rotated.ExpiresAt, clock.Now().Add(testTTL))
	}
	if _, _, err := s.Rotate(ctx, newRefresh, testTTL); err != nil {
		t.Fatalf("second rotation with the new token: %v", err)
	}
}

func TestStore_RotateReuseRevokesAllSessions(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	first, refresh := createSession(t, s, "u1")
	second, _ := createSession(t, s, "u1")
	other, _ := createSession(t, s, "u2")

	if _, _, err := s.Rotate(ctx, refresh, testTTL); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	_, _, err := s.Rotate(ctx, refresh, testTTL)
	if !errors.Is(err, ErrRefreshTokenReuseDetected) {
		t.Fatalf("replayed token: want ErrRefreshTokenReuseDetected, got %v", err)
	}
	var reuse *ReuseDetectedError
	if !errors.As(err, &reuse) || reuse.UserID != "u1" || reuse.SessionID != first.ID {
		t.Errorf("reuse error = %#v, want user u1 session %s", err, first.ID)
	}
	for _, tokenID := range []string{first.TokenID, second.TokenID} {
		got, _ := s.LookupByTokenID(ctx, tokenID)
		if got.Active || got.InvalidatedAt == nil {
			t.Errorf("session %s should be revoked after reuse", got.ID)
		}
	}
	if got, _ := s.LookupByTokenID(ctx, other.TokenID); !got.Active {
		t.Error("another user's session must stay active")
	}
}

func TestStore_RotateInvalidToken(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	_, refresh := createSession(t, s, "u1")

	for _, tok := range []string{"", "   ", "never-issued"} {
		if _, _, err := s.Rotate(ctx, tok, testTTL); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Errorf("Rotate(%q): want ErrInvalidRefreshToken, got %v", tok, err)
		}
	}
	clock.Advance(testTTL)
	if _, _, err := s.Rotate(ctx, refresh, testTTL); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("expired session: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestStore_RotateAfterLogout(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess, refresh := createSession(t, s, "u1")
	if err := s.Invalidate(ctx, sess.TokenID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, _, err := s.Rotate(ctx, refresh, testTTL); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("logged-out session: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestStore_ConcurrentRotateExactlyOneWins(t *testing.T) {
	for round := 0; round < 20; round++ {
		s, _, _ := newTestStore(t)
		ctx := context.Background()
		_, refresh := createSession(t, s, "u1")

		const callers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			rejected  int
		)
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, _, err := s.Rotate(ctx, refresh, testTTL)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrRefreshTokenReuseDetected), errors.Is(err, ErrInvalidRefreshToken):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()
		if successes != 1 {
			t.Fatalf("round %d: %d successful rotations, want exactly 1", round, successes)
		}
		if rejected != callers-1 {
			t.Fatalf("round %d: %d rejections, want %d", round, rejected, callers-1)
		}
	}
}

func TestStore_InvalidateAndInvalidateAll(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	a, _ := createSession(t, s, "u1")
	b, _ := createSession(t, s, "u1")
	c, _ := createSession(t, s, "u1")

	if err := s.Invalidate(ctx, a.TokenID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := s.Invalidate(ctx, a.TokenID); err != nil {
		t.Fatalf("Invalidate twice should be a no-op, got %v", err)
	}
	if err := s.Invalidate(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Invalidate(missing): want ErrSessionNotFound, got %v", err)
	}
	active, err := s.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActive = %d sessions, want 2", len(active))
	}
	n, err := s.InvalidateAll(ctx, "u1")
	if err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if n != 2 {
		t.Errorf("InvalidateAll revoked %d, want 2", n)
	}
	for _, tokenID := range []string{b.TokenID, c.TokenID} {
		got, _ := s.LookupByTokenID(ctx, tokenID)
		if got.Active {
			t.Errorf("session %s still active", got.ID)
		}
	}
}

// conflictRepo loses every conditional write.
type conflictRepo struct {
	*repository.MemoryRepository
}

func (r conflictRepo) Rotate(context.Context, *domain.Session, int64, string, *domain.RefreshToken, time.Time) error {
	return storage.ErrVersionConflict
}

func (r conflictRepo) Update(context.Context, *domain.Session, int64) error {
	return storage.ErrVersionConflict
}

func TestStore_ConflictsExhausted(t *testing.T) {
	mem := repository.NewMemoryRepository()
	seed := NewStore(mem)
	_, refresh := createSession(t, seed, "u1")
	sess, _ := mem.ListActiveByUser(context.Background(), "u1")

	s := NewStore(conflictRepo{mem})
	if _, _, err := s.Rotate(context.Background(), refresh, testTTL); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Rotate: want ErrConcurrentModification, got %v", err)
	}
	if err := s.Invalidate(context.Background(), sess[0].TokenID); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Invalidate: want ErrConcurrentModification, got %v", err)
	}
}

func TestStore_StorageUnavailable(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	refresh, _, _ := security.NewRefreshToken()
	_, err := s.Create(ctx, "u1", refresh, testTTL, domain.DeviceMeta{})
	if !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Errorf("Create with expired deadline: want ErrStorageUnavailable, got %v", err)
	}
}

func TestStore_ListActiveSkipsExpired(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	createSession(t, s, "u1")
	clock.Advance(testTTL / 2)
	fresh, _ := createSession(t, s, "u1")
	clock.Advance(testTTL/2 + time.Minute)

	active, err := s.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Fatalf("ListActive = %+v, want only %s", active, fresh.ID)
	}
}
