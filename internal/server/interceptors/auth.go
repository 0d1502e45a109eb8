package interceptors

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	identitydomain "securepay/backend/internal/identity/domain"
	"securepay/backend/internal/storage"
)

const bearerPrefix = "bearer "

// Authenticator resolves an access token to the identity behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*identitydomain.Identity, error)
}

// AuthUnary returns a unary server interceptor that authenticates the Bearer (access) token
// from gRPC metadata and sets user_id, session_id, token_id in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. AuthService Register, Login, Refresh; Health Check).
//
// Every protected call goes through auth, so a revoked session is rejected on its next request.
func AuthUnary(auth Authenticator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := extractBearer(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		id, err := auth.Authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, storage.ErrStorageUnavailable) {
				return nil, status.Error(codes.Unavailable, "session store unavailable")
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		ctx = WithIdentity(ctx, id)
		ctx = withBearer(ctx, token)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
