package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"securepay/backend/internal/audit"
	audithandler "securepay/backend/internal/audit/handler"
	auditrepo "securepay/backend/internal/audit/repository"
	healthhandler "securepay/backend/internal/health/handler"
	identityhandler "securepay/backend/internal/identity/handler"
	paymenthandler "securepay/backend/internal/payment/handler"
	"securepay/backend/internal/server/interceptors"
	"securepay/backend/internal/telemetry"
)

// Deps holds the service dependencies for gRPC handlers and interceptors.
type Deps struct {
	// Auth backs AuthService. If nil, auth RPCs return Unimplemented.
	Auth identityhandler.AuthService
	// Authenticator validates Bearer tokens for every protected RPC. Required by NewGRPCServer.
	Authenticator interceptors.Authenticator
	// Ledger backs PaymentService. If nil, payment RPCs return Unimplemented.
	Ledger paymenthandler.Ledger
	// AuditRepo backs AuditService. If nil, ListAuditLogs returns Unimplemented.
	AuditRepo auditrepo.Repository
	// AuditLogger records one entry per authenticated RPC. If nil, RPCs are not audited.
	AuditLogger audit.AuditLogger
	// Events receives one grpc_request event per RPC. If nil, no request events are emitted.
	Events telemetry.EventEmitter
	// HealthPinger is used by the health service for readiness (e.g. *sql.DB). If nil, the DB probe is skipped.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by the health service for readiness (e.g. OPA authorizer). If nil, the policy probe is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
	Log                 *zap.Logger
}

// healthMethods are the grpc.health.v1 methods; they are public and neither audited nor emitted.
var healthMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// PublicMethods returns the set of full method names callable without a Bearer token.
func PublicMethods() map[string]bool {
	m := make(map[string]bool)
	for _, name := range identityhandler.PublicMethods {
		m[name] = true
	}
	for _, name := range healthMethods {
		m[name] = true
	}
	return m
}

func skipMethods() map[string]bool {
	m := make(map[string]bool)
	for _, name := range healthMethods {
		m[name] = true
	}
	return m
}

// NewGRPCServer returns a gRPC server with OTel instrumentation, the auth, audit, and telemetry
// interceptor chain, and every service registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	skip := skipMethods()
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(deps.Authenticator, PublicMethods()),
			interceptors.AuditUnary(deps.AuditLogger, skip),
			interceptors.TelemetryUnary(deps.Events, skip),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - securepay.auth.v1.AuthService       → internal/identity/handler
//   - securepay.payment.v1.PaymentService → internal/payment/handler
//   - securepay.audit.v1.AuditService     → internal/audit/handler
//   - grpc.health.v1.Health               → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	s.RegisterService(&identityhandler.ServiceDesc, identityhandler.NewAuthServer(deps.Auth))
	s.RegisterService(&paymenthandler.ServiceDesc, paymenthandler.NewServer(deps.Ledger))
	s.RegisterService(&audithandler.ServiceDesc, audithandler.NewServer(deps.AuditRepo))
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker, deps.Log))
}
