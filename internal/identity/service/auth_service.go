// Package service implements login, token refresh, logout, and access-token authentication.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"securepay/backend/internal/audit"
	auditdomain "securepay/backend/internal/audit/domain"
	"securepay/backend/internal/security"
	sessiondomain "securepay/backend/internal/session/domain"
	sessionservice "securepay/backend/internal/session/service"
	"securepay/backend/internal/storage"
	"securepay/backend/internal/telemetry"
	eventdomain "securepay/backend/internal/telemetry/domain"
	userdomain "securepay/backend/internal/user/domain"
)

// Sentinel errors for auth service; handler maps them to gRPC codes.
var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRegistration wraps every username or password policy violation.
	ErrInvalidRegistration = errors.New("invalid registration")

	// The session store's rotation errors, re-exported for callers of Refresh.
	ErrInvalidRefreshToken       = sessionservice.ErrInvalidRefreshToken
	ErrRefreshTokenReuseDetected = sessionservice.ErrRefreshTokenReuseDetected
)

// Tokens is the outcome of Login and Refresh.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	SessionID        string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// PasswordHasher hashes new passwords and verifies presented ones.
type PasswordHasher interface {
	security.PasswordVerifier
	Hash(password []byte) (string, error)
}

// SessionStore is the part of the session store used by the auth service.
type SessionStore interface {
	Create(ctx context.Context, userID, refreshToken string, ttl time.Duration, device sessiondomain.DeviceMeta) (*sessiondomain.Session, error)
	Rotate(ctx context.Context, refreshToken string, ttl time.Duration) (*sessiondomain.Session, string, error)
	Invalidate(ctx context.Context, tokenID string) error
	InvalidateAll(ctx context.Context, userID string) (int, error)
	ListActive(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// Config holds token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthService implements register, login, refresh, logout, and logout-all.
type AuthService struct {
	users    UserRepo
	sessions SessionStore
	codec    *security.Codec
	hasher   PasswordHasher
	gateway  *Gateway
	cfg      Config
	// dummyHash is verified against when the username is unknown, so both failures cost one bcrypt compare.
	dummyHash string
	log       *zap.Logger
	audit     audit.AuditLogger
	events    telemetry.EventEmitter
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithLogger sets the logger; the default discards.
func WithLogger(l *zap.Logger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAuditLogger records security events (failed logins, reuse, logout).
func WithAuditLogger(a audit.AuditLogger) Option {
	return func(s *AuthService) { s.audit = a }
}

// WithEventEmitter publishes auth domain events.
func WithEventEmitter(e telemetry.EventEmitter) Option {
	return func(s *AuthService) { s.events = e }
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(users UserRepo, sessions SessionStore, codec *security.Codec, hasher PasswordHasher, gateway *Gateway, cfg Config, opts ...Option) (*AuthService, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("auth service: token lifetimes must be positive (access %s, refresh %s)", cfg.AccessTTL, cfg.RefreshTTL)
	}
	dummy, err := hasher.Hash([]byte(uuid.New().String()))
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	s := &AuthService{
		users:     users,
		sessions:  sessions,
		codec:     codec,
		hasher:    hasher,
		gateway:   gateway,
		cfg:       cfg,
		dummyHash: dummy,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a user account with the given username and password and returns its id.
func (s *AuthService) Register(ctx context.Context, username, password string) (string, error) {
	username = userdomain.NormalizeUsername(username)
	if err := validatePassword(password); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return "", err
	}
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hashed,
		Role:         userdomain.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := user.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return "", ErrUsernameTaken
		}
		return "", err
	}
	s.auditEvent(ctx, user.ID, auditdomain.ActionRegister, auditdomain.ResourceUser, "")
	return user.ID, nil
}

// Login checks the credentials, opens a session for the device, and returns a token pair.
// An unknown username and a wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username, password string, device sessiondomain.DeviceMeta) (*Tokens, error) {
	username = userdomain.NormalizeUsername(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.Verify(password, s.dummyHash)
		s.loginFailed(ctx, "", username)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.loginFailed(ctx, user.ID, username)
		return nil, ErrInvalidCredentials
	}
	refresh, _, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, user.ID, refresh, s.cfg.RefreshTTL, device)
	if err != nil {
		return nil, err
	}
	tokens, err := s.issue(sess, refresh)
	if err != nil {
		return nil, err
	}
	s.auditEvent(ctx, user.ID, auditdomain.ActionLogin, auditdomain.ResourceSession, sessionMeta(sess.ID))
	s.emit(eventdomain.TypeLoginSucceeded, user.ID, sess.ID)
	return tokens, nil
}

// Refresh rotates refreshToken and returns a new token pair for the same session.
// A replayed refresh token revokes every session of its owner and yields ErrRefreshTokenReuseDetected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	sess, newRefresh, err := s.sessions.Rotate(ctx, refreshToken, s.cfg.RefreshTTL)
	if err != nil {
		var reuse *sessionservice.ReuseDetectedError
		if errors.As(err, &reuse) {
			s.log.Warn("refresh token replay; all sessions of the owner revoked",
				zap.String("user_id", reuse.UserID), zap.String("session_id", reuse.SessionID))
			s.auditEvent(ctx, reuse.UserID, auditdomain.ActionReuseDetected, auditdomain.ResourceSession, sessionMeta(reuse.SessionID))
			s.emit(eventdomain.TypeRefreshReuse, reuse.UserID, reuse.SessionID)
		}
		return nil, err
	}
	return s.issue(sess, newRefresh)
}

// Logout ends the session behind accessToken.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	id, err := s.gateway.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Invalidate(ctx, id.TokenID); err != nil {
		if errors.Is(err, sessionservice.ErrSessionNotFound) {
			return ErrSessionRevoked
		}
		return err
	}
	s.auditEvent(ctx, id.UserID, auditdomain.ActionLogout, auditdomain.ResourceSession, sessionMeta(id.SessionID))
	s.emit(eventdomain.TypeLogout, id.UserID, id.SessionID)
	return nil
}

// LogoutAll ends every active session of the user behind accessToken, including its own.
func (s *AuthService) LogoutAll(ctx context.Context, accessToken string) (int, error) {
	id, err := s.gateway.Authenticate(ctx, accessToken)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.InvalidateAll(ctx, id.UserID)
	if err != nil {
		return n, err
	}
	s.auditEvent(ctx, id.UserID, auditdomain.ActionLogoutAll, auditdomain.ResourceSession, audit.Metadata(map[string]int{"revoked": n}))
	s.emit(eventdomain.TypeLogoutAll, id.UserID, id.SessionID)
	return n, nil
}

// ListSessions returns the active sessions of the user behind accessToken, one per signed-in device.
func (s *AuthService) ListSessions(ctx context.Context, accessToken string) ([]*sessiondomain.Session, error) {
	id, err := s.gateway.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return s.sessions.ListActive(ctx, id.UserID)
}

func (s *AuthService) issue(sess *sessiondomain.Session, refresh string) (*Tokens, error) {
	access, exp, err := s.codec.Issue(sess.UserID, sess.TokenID, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	return &Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  exp,
		RefreshExpiresAt: sess.ExpiresAt,
		UserID:           sess.UserID,
		SessionID:        sess.ID,
	}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID, username string) {
	s.log.Info("login failed", zap.String("username", username))
	s.auditEvent(ctx, userID, auditdomain.ActionLoginFailure, auditdomain.ResourceUser, audit.Metadata(map[string]string{"username": username}))
	s.emit(eventdomain.TypeLoginFailed, userID, "")
}

func sessionMeta(sessionID string) string {
	return audit.Metadata(map[string]string{"session_id": sessionID})
}

func (s *AuthService) auditEvent(ctx context.Context, userID, action, resource, metadata string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, resource, metadata)
	}
}

func (s *AuthService) emit(eventType, userID, sessionID string) {
	if s.events == nil {
		return
	}
	ev := eventdomain.NewEvent(eventType, eventdomain.SourceAuthService)
	ev.UserID = userID
	ev.SessionID = sessionID
	telemetry.EmitAsync(s.events, ev)
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	if len(password) > 72 {
		return errors.New("password must be at most 72 bytes")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return errors.New("password must contain at least one uppercase letter")
	case !hasLower:
		return errors.New("password must contain at least one lowercase letter")
	case !hasNumber:
		return errors.New("password must contain at least one number")
	case !hasSymbol:
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
