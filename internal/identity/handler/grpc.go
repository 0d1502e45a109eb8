// Package handler exposes the auth service over gRPC.
package handler

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	identityservice "securepay/backend/internal/identity/service"
	"securepay/backend/internal/server/interceptors"
	"securepay/backend/internal/server/rpc"
	sessiondomain "securepay/backend/internal/session/domain"
	sessionservice "securepay/backend/internal/session/service"
	"securepay/backend/internal/storage"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "securepay.auth.v1.AuthService"

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

// TokenResponse is returned by Login and Refresh.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest is empty: the session is the one the Bearer token belongs to.
type LogoutRequest struct{}

type LogoutResponse struct{}

type LogoutAllResponse struct {
	Revoked int `json:"revoked"`
}

type ListSessionsRequest struct{}

// Session describes one signed-in device of the caller.
type Session struct {
	SessionID  string    `json:"session_id"`
	DeviceName string    `json:"device_name,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

type ListSessionsResponse struct {
	Sessions []*Session `json:"sessions"`
}

// AuthService is the auth service the handler delegates to.
type AuthService interface {
	Register(ctx context.Context, username, password string) (string, error)
	Login(ctx context.Context, username, password string, device sessiondomain.DeviceMeta) (*identityservice.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*identityservice.Tokens, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, accessToken string) (int, error)
	ListSessions(ctx context.Context, accessToken string) ([]*sessiondomain.Session, error)
}

// AuthServiceServer is the server API of securepay.auth.v1.AuthService.
type AuthServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	LogoutAll(context.Context, *LogoutRequest) (*LogoutAllResponse, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
}

// ServiceDesc describes AuthService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "Register", AuthServiceServer.Register),
		rpc.Unary(ServiceName, "Login", AuthServiceServer.Login),
		rpc.Unary(ServiceName, "Refresh", AuthServiceServer.Refresh),
		rpc.Unary(ServiceName, "Logout", AuthServiceServer.Logout),
		rpc.Unary(ServiceName, "LogoutAll", AuthServiceServer.LogoutAll),
		rpc.Unary(ServiceName, "ListSessions", AuthServiceServer.ListSessions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "securepay/auth/v1/auth.proto",
}

// PublicMethods are the AuthService methods callable without a Bearer token.
var PublicMethods = []string{
	rpc.FullMethod(ServiceName, "Register"),
	rpc.FullMethod(ServiceName, "Login"),
	rpc.FullMethod(ServiceName, "Refresh"),
}

// AuthServer implements AuthServiceServer for register, login, refresh, and logout.
type AuthServer struct {
	auth AuthService
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, every method returns Unimplemented.
func NewAuthServer(auth AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

// Register creates a user account.
func (s *AuthServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Register not implemented")
	}
	userID, err := s.auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return &RegisterResponse{UserID: userID}, nil
}

// Login authenticates the user and opens a session on the calling device.
func (s *AuthServer) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	if req.Username == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "username and password are required")
	}
	device := sessiondomain.DeviceMeta{
		Name:      req.DeviceName,
		UserAgent: interceptors.UserAgent(ctx),
		IPAddress: interceptors.ClientIP(ctx),
	}
	tokens, err := s.auth.Login(ctx, req.Username, req.Password, device)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return toTokenResponse(tokens), nil
}

// Refresh rotates the refresh token and issues a new access token.
func (s *AuthServer) Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh_token is required")
	}
	tokens, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return toTokenResponse(tokens), nil
}

// Logout invalidates the session of the calling access token.
func (s *AuthServer) Logout(ctx context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	if err := s.auth.Logout(ctx, interceptors.GetBearer(ctx)); err != nil {
		return nil, authErrToStatus(err)
	}
	return &LogoutResponse{}, nil
}

// LogoutAll invalidates every active session of the calling user.
func (s *AuthServer) LogoutAll(ctx context.Context, _ *LogoutRequest) (*LogoutAllResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method LogoutAll not implemented")
	}
	n, err := s.auth.LogoutAll(ctx, interceptors.GetBearer(ctx))
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return &LogoutAllResponse{Revoked: n}, nil
}

// ListSessions lists the caller's active sessions; Current marks the one making the call.
func (s *AuthServer) ListSessions(ctx context.Context, _ *ListSessionsRequest) (*ListSessionsResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
	}
	list, err := s.auth.ListSessions(ctx, interceptors.GetBearer(ctx))
	if err != nil {
		return nil, authErrToStatus(err)
	}
	current, _ := interceptors.GetSessionID(ctx)
	out := make([]*Session, 0, len(list))
	for _, sess := range list {
		out = append(out, &Session{
			SessionID:  sess.ID,
			DeviceName: sess.Device.Name,
			UserAgent:  sess.Device.UserAgent,
			IPAddress:  sess.Device.IPAddress,
			CreatedAt:  sess.CreatedAt,
			ExpiresAt:  sess.ExpiresAt,
			Current:    sess.ID == current,
		})
	}
	return &ListSessionsResponse{Sessions: out}, nil
}

func toTokenResponse(t *identityservice.Tokens) *TokenResponse {
	return &TokenResponse{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
		UserID:           t.UserID,
		SessionID:        t.SessionID,
	}
}

// authErrToStatus maps auth service errors to gRPC status. Unknown errors become Internal
// so storage details never leak to the caller.
func authErrToStatus(err error) error {
	switch {
	case errors.Is(err, identityservice.ErrInvalidRegistration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, identityservice.ErrUsernameTaken):
		return status.Error(codes.AlreadyExists, "username already taken")
	case errors.Is(err, identityservice.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, identityservice.ErrRefreshTokenReuseDetected):
		return status.Error(codes.Unauthenticated, "refresh token reuse detected; all sessions revoked")
	case errors.Is(err, identityservice.ErrInvalidRefreshToken):
		return status.Error(codes.Unauthenticated, "invalid refresh token")
	case errors.Is(err, identityservice.ErrInvalidToken), errors.Is(err, identityservice.ErrSessionRevoked):
		return status.Error(codes.Unauthenticated, "missing or invalid authorization")
	case errors.Is(err, sessionservice.ErrConcurrentModification):
		return status.Error(codes.Aborted, "concurrent modification; retry")
	case errors.Is(err, storage.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, "storage unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
