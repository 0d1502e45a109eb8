// Package handler serves the standard gRPC health protocol backed by readiness checks.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds each dependency probe so a hung database cannot hang the probe.
const checkTimeout = 2 * time.Second

// Pinger checks connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the policy engine can evaluate (e.g. the OPA authorizer).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements grpc.health.v1.Health. Check probes the dependencies on every call and
// publishes the result to Watch subscribers.
type Server struct {
	*health.Server
	pinger Pinger
	policy PolicyChecker
	log    *zap.Logger
}

// NewServer returns a health server. pinger and policy may be nil; nil dependencies are skipped.
func NewServer(pinger Pinger, policy PolicyChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Server: health.NewServer(), pinger: pinger, policy: policy, log: log}
}

// Check returns SERVING when every configured dependency answers, NOT_SERVING otherwise.
// A failing dependency is reported in the status, never as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	st := s.Ready(ctx)
	s.Server.SetServingStatus(req.GetService(), st)
	return &healthpb.HealthCheckResponse{Status: st}, nil
}

// Ready runs the readiness probes.
func (s *Server) Ready(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if s.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.pinger.PingContext(pctx)
		cancel()
		if err != nil {
			s.log.Warn("health: database ping failed", zap.Error(err))
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.policy != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.policy.HealthCheck(pctx)
		cancel()
		if err != nil {
			s.log.Warn("health: policy engine check failed", zap.Error(err))
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}
