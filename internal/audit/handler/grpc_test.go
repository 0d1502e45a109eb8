package handler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"securepay/backend/internal/audit/domain"
	auditrepo "securepay/backend/internal/audit/repository"
	identitydomain "securepay/backend/internal/identity/domain"
	"securepay/backend/internal/server/interceptors"
)

func seed(t *testing.T, repo *auditrepo.MemoryRepository, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.Create(context.Background(), &domain.AuditLog{
			ID: fmt.Sprintf("%s-%d", userID, i), UserID: userID, Action: "login", Resource: "session",
			IP: "127.0.0.1", CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
}

func TestListAuditLogs_OwnEntriesOnly(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	seed(t, repo, "alice", 3)
	seed(t, repo, "bob", 2)
	srv := NewServer(repo)
	ctx := interceptors.WithIdentity(context.Background(), &identitydomain.Identity{UserID: "alice"})

	resp, err := srv.ListAuditLogs(ctx, &ListAuditLogsRequest{})
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(resp.Logs) != 3 {
		t.Fatalf("len = %d, want 3", len(resp.Logs))
	}
	if resp.Logs[0].ID != "alice-2" {
		t.Errorf("first = %q, want newest alice-2", resp.Logs[0].ID)
	}

	resp, err = srv.ListAuditLogs(ctx, &ListAuditLogsRequest{PageSize: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListAuditLogs page: %v", err)
	}
	if len(resp.Logs) != 1 || resp.Logs[0].ID != "alice-1" {
		t.Errorf("page = %+v", resp.Logs)
	}
}

func TestListAuditLogs_Errors(t *testing.T) {
	if _, err := NewServer(nil).ListAuditLogs(context.Background(), &ListAuditLogsRequest{}); status.Code(err) != codes.Unimplemented {
		t.Errorf("nil repo code = %v", status.Code(err))
	}
	srv := NewServer(auditrepo.NewMemoryRepository())
	if _, err := srv.ListAuditLogs(context.Background(), &ListAuditLogsRequest{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("anonymous code = %v", status.Code(err))
	}
}
