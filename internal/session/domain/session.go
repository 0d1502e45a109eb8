package domain

import "time"

// Session is a login on one device. It is never deleted; revocation flips Active and stamps InvalidatedAt.
type Session struct {
	ID       string
	UserID   string
	TokenID  string // jti embedded in every access token issued for this session
	Device   DeviceMeta
	Active   bool
	// RefreshTokenHash is the SHA-256 hex of the current refresh token. Retired values live in RefreshToken records.
	RefreshTokenHash string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	InvalidatedAt    *time.Time // nil while active
	Version          int64
}

// DeviceMeta describes the client that opened the session.
type DeviceMeta struct {
	Name      string
	UserAgent string
	IPAddress string
}

// RefreshToken records one refresh value ever issued to a session. Used is set when the value is
// consumed by rotation; presenting a used value again is a replay.
type RefreshToken struct {
	Hash      string
	SessionID string
	UserID    string
	Used      bool
	IssuedAt  time.Time
	UsedAt    *time.Time
}

// IsValid reports whether the session is active and unexpired at now.
func (s *Session) IsValid(now time.Time) bool {
	return s != nil && s.Active && s.ExpiresAt.After(now)
}

// Clone returns a copy safe to mutate independently of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.InvalidatedAt != nil {
		t := *s.InvalidatedAt
		c.InvalidatedAt = &t
	}
	return &c
}

// Invalidated returns the next version of s with Active cleared and InvalidatedAt stamped at now.
func (s *Session) Invalidated(now time.Time) *Session {
	next := s.Clone()
	next.Active = false
	next.InvalidatedAt = &now
	next.Version = s.Version + 1
	return next
}
