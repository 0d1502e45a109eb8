package interceptors

import (
	"context"

	identitydomain "securepay/backend/internal/identity/domain"
)

type contextKey struct{ name string }

var (
	userIDKey    = contextKey{"user_id"}
	sessionIDKey = contextKey{"session_id"}
	tokenIDKey   = contextKey{"token_id"}
	bearerKey    = contextKey{"bearer"}
)

// WithIdentity returns a context carrying the authenticated user_id, session_id, and token_id.
// Handlers read them via GetUserID, GetSessionID, GetTokenID.
func WithIdentity(ctx context.Context, id *identitydomain.Identity) context.Context {
	if id == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, userIDKey, id.UserID)
	ctx = context.WithValue(ctx, sessionIDKey, id.SessionID)
	ctx = context.WithValue(ctx, tokenIDKey, id.TokenID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}

// GetTokenID returns the token_id from context and true if set; otherwise "", false.
func GetTokenID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenIDKey).(string)
	return v, ok
}

// withBearer stores the raw access token so handlers that must re-present it (logout) can read it.
func withBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

// GetBearer returns the access token the request was authenticated with, or the raw
// Authorization bearer from metadata when the call went through no auth interceptor.
func GetBearer(ctx context.Context) string {
	if v, ok := ctx.Value(bearerKey).(string); ok {
		return v
	}
	return extractBearer(ctx)
}
