package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	identitydomain "securepay/backend/internal/identity/domain"
	"securepay/backend/internal/security"
	sessiondomain "securepay/backend/internal/session/domain"
)

var (
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrSessionRevoked is returned when a verified token's session is gone, inactive, or expired.
	ErrSessionRevoked = errors.New("session revoked")
)

// SessionLookup resolves an access token's token id to its backing session.
type SessionLookup interface {
	LookupByTokenID(ctx context.Context, tokenID string) (*sessiondomain.Session, error)
}

// Gateway authenticates access tokens. Every call consults the session store, so a revocation takes
// effect on the very next request.
type Gateway struct {
	codec    *security.Codec
	sessions SessionLookup
	now      func() time.Time
	log      *zap.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayClock overrides the time source used for session expiry.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// NewGateway returns a Gateway verifying tokens with codec and sessions with sessions.
func NewGateway(codec *security.Codec, sessions SessionLookup, log *zap.Logger, opts ...GatewayOption) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{codec: codec, sessions: sessions, now: time.Now, log: log}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate verifies accessToken and its session and returns the caller's identity.
// Storage failures are returned as-is so that an outage is not reported as a revocation.
func (g *Gateway) Authenticate(ctx context.Context, accessToken string) (*identitydomain.Identity, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	claims, err := g.codec.Verify(accessToken)
	if err != nil {
		g.log.Debug("access token rejected", zap.Error(err))
		return nil, ErrInvalidToken
	}
	sess, err := g.sessions.LookupByTokenID(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}
	if !sess.IsValid(g.now()) || sess.UserID != claims.Subject {
		return nil, ErrSessionRevoked
	}
	return &identitydomain.Identity{UserID: claims.Subject, SessionID: sess.ID, TokenID: claims.TokenID}, nil
}
