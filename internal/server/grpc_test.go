package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"securepay/backend/internal/audit"
	audithandler "securepay/backend/internal/audit/handler"
	auditrepo "securepay/backend/internal/audit/repository"
	identityhandler "securepay/backend/internal/identity/handler"
	identityservice "securepay/backend/internal/identity/service"
	paymenthandler "securepay/backend/internal/payment/handler"
	paymentrepo "securepay/backend/internal/payment/repository"
	paymentservice "securepay/backend/internal/payment/service"
	"securepay/backend/internal/security"
	"securepay/backend/internal/server/rpc"
	sessionrepo "securepay/backend/internal/session/repository"
	sessionservice "securepay/backend/internal/session/service"
	userrepo "securepay/backend/internal/user/repository"
)

const testPassword = "Correct-Horse-42"

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_NilDependencies(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{})

	want := []string{
		identityhandler.ServiceName,
		paymenthandler.ServiceName,
		audithandler.ServiceName,
		"grpc.health.v1.Health",
	}
	if len(reg.services) != len(want) {
		t.Fatalf("registered %v, want %v", reg.services, want)
	}
	for i := range want {
		if reg.services[i] != want[i] {
			t.Errorf("service[%d] = %q, want %q", i, reg.services[i], want[i])
		}
	}
}

func TestPublicMethods(t *testing.T) {
	pm := PublicMethods()
	for _, m := range []string{
		"/securepay.auth.v1.AuthService/Login",
		"/securepay.auth.v1.AuthService/Register",
		"/securepay.auth.v1.AuthService/Refresh",
		"/grpc.health.v1.Health/Check",
	} {
		if !pm[m] {
			t.Errorf("%s should be public", m)
		}
	}
	for _, m := range []string{
		"/securepay.auth.v1.AuthService/Logout",
		"/securepay.auth.v1.AuthService/LogoutAll",
		"/securepay.payment.v1.PaymentService/GetPayment",
	} {
		if pm[m] {
			t.Errorf("%s should be protected", m)
		}
	}
}

// client dials an in-process server wired with in-memory stores.
type client struct {
	conn  *grpc.ClientConn
	audit *auditrepo.MemoryRepository
}

func newTestClient(t *testing.T) *client {
	t.Helper()
	codec := security.NewTestCodec(nil)
	store := sessionservice.NewStore(sessionrepo.NewMemoryRepository())
	gateway := identityservice.NewGateway(codec, store, nil)
	audits := auditrepo.NewMemoryRepository()
	auditLogger := audit.NewLogger(audits, nil, nil)
	users := userrepo.NewMemoryRepository()
	auth, err := identityservice.NewAuthService(users, store, codec,
		security.NewHasher(bcrypt.MinCost), gateway,
		identityservice.Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour},
		identityservice.WithAuditLogger(auditLogger))
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	ledger := paymentservice.NewLedger(paymentrepo.NewMemoryRepository(),
		paymentservice.WithUsers(users), paymentservice.WithAuditLogger(auditLogger))

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(Deps{
		Auth:          auth,
		Authenticator: gateway,
		Ledger:        ledger,
		AuditRepo:     audits,
		AuditLogger:   auditLogger,
	})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, audit: audits}
}

func (c *client) call(token, service, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	return rpc.Invoke(ctx, c.conn, rpc.FullMethod(service, method), in, out)
}

func (c *client) login(t *testing.T, username string) *identityhandler.TokenResponse {
	t.Helper()
	var reg identityhandler.RegisterResponse
	err := c.call("", identityhandler.ServiceName, "Register",
		&identityhandler.RegisterRequest{Username: username, Password: testPassword}, &reg)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		t.Fatalf("Register: %v", err)
	}
	var tokens identityhandler.TokenResponse
	if err := c.call("", identityhandler.ServiceName, "Login",
		&identityhandler.LoginRequest{Username: username, Password: testPassword, DeviceName: "test"}, &tokens); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return &tokens
}

func TestGRPC_PaymentFlowOverWire(t *testing.T) {
	c := newTestClient(t)
	tokens := c.login(t, "alice")

	var created paymenthandler.PaymentResponse
	err := c.call(tokens.AccessToken, paymenthandler.ServiceName, "CreatePayment", &paymenthandler.CreatePaymentRequest{
		Amount: decimal.RequireFromString("12.3400"), Currency: "EUR", ReferenceID: "inv-1",
	}, &created)
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if !created.Payment.Amount.Equal(decimal.RequireFromString("12.34")) || created.Payment.Status != "CREATED" {
		t.Fatalf("created = %+v", created.Payment)
	}

	var authorized paymenthandler.PaymentResponse
	if err := c.call(tokens.AccessToken, paymenthandler.ServiceName, "AuthorizePayment",
		&paymenthandler.PaymentRequest{PaymentID: created.Payment.ID}, &authorized); err != nil {
		t.Fatalf("AuthorizePayment: %v", err)
	}
	if authorized.Payment.Status != "AUTHORIZED" || authorized.Payment.Version != 2 {
		t.Errorf("authorized = %+v", authorized.Payment)
	}

	var again paymenthandler.PaymentResponse
	err = c.call(tokens.AccessToken, paymenthandler.ServiceName, "AuthorizePayment",
		&paymenthandler.PaymentRequest{PaymentID: created.Payment.ID}, &again)
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("second authorize code = %v, want FailedPrecondition", status.Code(err))
	}

	other := c.login(t, "mallory")
	var stolen paymenthandler.PaymentResponse
	err = c.call(other.AccessToken, paymenthandler.ServiceName, "CapturePayment",
		&paymenthandler.PaymentRequest{PaymentID: created.Payment.ID}, &stolen)
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("foreign capture code = %v, want PermissionDenied", status.Code(err))
	}

	var captured, refunded paymenthandler.PaymentResponse
	if err := c.call(tokens.AccessToken, paymenthandler.ServiceName, "CapturePayment",
		&paymenthandler.PaymentRequest{PaymentID: created.Payment.ID}, &captured); err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	err = c.call(tokens.AccessToken, paymenthandler.ServiceName, "RefundPayment",
		&paymenthandler.PaymentRequest{PaymentID: created.Payment.ID}, &refunded)
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("refund by non-admin owner code = %v, want PermissionDenied", status.Code(err))
	}

	var logs audithandler.ListAuditLogsResponse
	if err := c.call(tokens.AccessToken, audithandler.ServiceName, "ListAuditLogs", &audithandler.ListAuditLogsRequest{}, &logs); err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs.Logs) == 0 {
		t.Error("expected audit entries for alice")
	}
}

func TestGRPC_LogoutRevokesImmediately(t *testing.T) {
	c := newTestClient(t)
	tokens := c.login(t, "bob")

	var list paymenthandler.ListPaymentsResponse
	if err := c.call(tokens.AccessToken, paymenthandler.ServiceName, "ListPayments", &paymenthandler.ListPaymentsRequest{}, &list); err != nil {
		t.Fatalf("ListPayments before logout: %v", err)
	}
	if err := c.call(tokens.AccessToken, identityhandler.ServiceName, "Logout", &identityhandler.LogoutRequest{}, &identityhandler.LogoutResponse{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	err := c.call(tokens.AccessToken, paymenthandler.ServiceName, "ListPayments", &paymenthandler.ListPaymentsRequest{}, &list)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("after logout code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestGRPC_RefreshReuseRevokesAllSessions(t *testing.T) {
	c := newTestClient(t)
	first := c.login(t, "carol")
	second := c.login(t, "carol")

	var rotated identityhandler.TokenResponse
	if err := c.call("", identityhandler.ServiceName, "Refresh", &identityhandler.RefreshRequest{RefreshToken: first.RefreshToken}, &rotated); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	var replay identityhandler.TokenResponse
	err := c.call("", identityhandler.ServiceName, "Refresh", &identityhandler.RefreshRequest{RefreshToken: first.RefreshToken}, &replay)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("replay code = %v, want Unauthenticated", status.Code(err))
	}
	for _, tok := range []string{rotated.AccessToken, second.AccessToken} {
		var list paymenthandler.ListPaymentsResponse
		err := c.call(tok, paymenthandler.ServiceName, "ListPayments", &paymenthandler.ListPaymentsRequest{}, &list)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("session survived reuse detection: code = %v", status.Code(err))
		}
	}
}

func TestGRPC_ProtectedWithoutToken(t *testing.T) {
	c := newTestClient(t)
	var list paymenthandler.ListPaymentsResponse
	err := c.call("", paymenthandler.ServiceName, "ListPayments", &paymenthandler.ListPaymentsRequest{}, &list)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestGRPC_HealthIsPublic(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}
