// Package handler exposes a user's own audit trail over gRPC.
package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	auditrepo "securepay/backend/internal/audit/repository"
	"securepay/backend/internal/server/interceptors"
	"securepay/backend/internal/server/rpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "securepay.audit.v1.AuditService"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type ListAuditLogsRequest struct {
	PageSize int32 `json:"page_size,omitempty"`
	Offset   int32 `json:"offset,omitempty"`
}

type AuditLog struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListAuditLogsResponse struct {
	Logs []*AuditLog `json:"logs"`
}

// AuditServiceServer is the server API of securepay.audit.v1.AuditService.
type AuditServiceServer interface {
	ListAuditLogs(context.Context, *ListAuditLogsRequest) (*ListAuditLogsResponse, error)
}

// ServiceDesc describes AuditService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "ListAuditLogs", AuditServiceServer.ListAuditLogs),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "securepay/audit/v1/audit.proto",
}

// Server implements AuditServiceServer.
type Server struct {
	repo auditrepo.Repository
}

// NewServer returns a new Audit gRPC server. If repo is nil, ListAuditLogs returns Unimplemented.
func NewServer(repo auditrepo.Repository) *Server {
	return &Server{repo: repo}
}

// ListAuditLogs returns the caller's audit entries, newest first.
func (s *Server) ListAuditLogs(ctx context.Context, req *ListAuditLogsRequest) (*ListAuditLogsResponse, error) {
	if s.repo == nil {
		return nil, status.Error(codes.Unimplemented, "method ListAuditLogs not implemented")
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	limit := req.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	list, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to list audit logs")
	}
	out := make([]*AuditLog, 0, len(list))
	for _, a := range list {
		out = append(out, &AuditLog{
			ID: a.ID, Action: a.Action, Resource: a.Resource, IP: a.IP, Metadata: a.Metadata, CreatedAt: a.CreatedAt,
		})
	}
	return &ListAuditLogsResponse{Logs: out}, nil
}
