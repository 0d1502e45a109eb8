package interceptors

import (
	"context"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	identitydomain "securepay/backend/internal/identity/domain"
)

type auditEntry struct {
	userID, action, resource, metadata string
}

// recordingAuditLogger implements audit.AuditLogger for interceptor tests.
type recordingAuditLogger struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAuditLogger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{userID, action, resource, metadata})
}

func authenticatedCtx() context.Context {
	return WithIdentity(context.Background(), &identitydomain.Identity{UserID: "user-1", SessionID: "session-1", TokenID: "jti-1"})
}

func TestAuditUnary_SkipMethod(t *testing.T) {
	logger := &recordingAuditLogger{}
	interceptor := AuditUnary(logger, map[string]bool{"/grpc.health.v1.Health/Check": true})
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "success", nil }

	resp, err := interceptor(authenticatedCtx(), "request", &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	if err != nil || resp != "success" {
		t.Fatalf("interceptor = %v, %v", resp, err)
	}
	if len(logger.entries) != 0 {
		t.Errorf("audit entries = %d, want 0", len(logger.entries))
	}
}

func TestAuditUnary_AuthenticatedRequest(t *testing.T) {
	logger := &recordingAuditLogger{}
	interceptor := AuditUnary(logger, nil)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "success", nil }

	_, err := interceptor(authenticatedCtx(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/securepay.payment.v1.PaymentService/CapturePayment",
	}, handler)
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(logger.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(logger.entries))
	}
	got := logger.entries[0]
	want := auditEntry{"user-1", "capture", "payment", `{"status_code":"OK"}`}
	if got != want {
		t.Errorf("entry = %+v, want %+v", got, want)
	}
}

func TestAuditUnary_UnauthenticatedRequest(t *testing.T) {
	logger := &recordingAuditLogger{}
	interceptor := AuditUnary(logger, nil)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "success", nil }

	if _, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/securepay.auth.v1.AuthService/Login",
	}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(logger.entries) != 0 {
		t.Errorf("audit entries = %d, want 0", len(logger.entries))
	}
}

func TestAuditUnary_HandlerError(t *testing.T) {
	logger := &recordingAuditLogger{}
	interceptor := AuditUnary(logger, nil)
	handlerErr := status.Error(codes.NotFound, "payment not found")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return nil, handlerErr }

	_, err := interceptor(authenticatedCtx(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/securepay.payment.v1.PaymentService/GetPayment",
	}, handler)
	if err != handlerErr {
		t.Errorf("error = %v, want %v", err, handlerErr)
	}
	if len(logger.entries) != 1 || logger.entries[0].metadata != `{"status_code":"NotFound"}` {
		t.Errorf("entries = %+v", logger.entries)
	}
}

func TestAuditUnary_NilLogger(t *testing.T) {
	interceptor := AuditUnary(nil, nil)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "success", nil }
	resp, err := interceptor(authenticatedCtx(), "request", &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}, handler)
	if err != nil || resp != "success" {
		t.Errorf("interceptor = %v, %v", resp, err)
	}
}

func TestClientIP(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 12345}
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"x-forwarded-for", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "10.0.0.1")), "10.0.0.1"},
		{"x-forwarded-for list", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "10.0.0.1, 10.0.0.2")), "10.0.0.1"},
		{"x-real-ip", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "10.0.0.3")), "10.0.0.3"},
		{"precedence", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "10.0.0.1", "x-real-ip", "10.0.0.3")), "10.0.0.1"},
		{"whitespace", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "  10.0.0.1  ")), "10.0.0.1"},
		{"peer", peer.NewContext(context.Background(), &peer.Peer{Addr: tcp}), "192.168.1.1"},
		{"unknown", context.Background(), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientIP(tt.ctx); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("user-agent", "grpc-go/1.78"))
	if got := UserAgent(ctx); got != "grpc-go/1.78" {
		t.Errorf("UserAgent = %q", got)
	}
	if got := UserAgent(context.Background()); got != "" {
		t.Errorf("UserAgent without metadata = %q", got)
	}
}
