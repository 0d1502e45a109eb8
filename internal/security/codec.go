// Package security holds the token codec, password hashing, and refresh-token helpers.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the minimum HMAC key length accepted by NewCodec.
const MinSecretLen = 32

var (
	// ErrInvalidToken is returned when a token is malformed, tampered with, or expired.
	ErrInvalidToken = errors.New("invalid token")

	// ErrWeakSecret is returned by NewCodec when the key is shorter than MinSecretLen.
	ErrWeakSecret = errors.New("token secret too short")
)

// Claims is the verified content of an access token.
type Claims struct {
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies compact HS256 tokens. It is stateless apart from the key,
// which is fixed for the life of the process.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for issued-at and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec returns a Codec keyed by secret. issuer is set on every token and required on verify when non-empty.
func NewCodec(secret []byte, issuer string, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject bound to tokenID, valid for ttl from now.
// Returns the compact token and its expiry.
func (c *Codec) Issue(subject, tokenID string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" || tokenID == "" {
		return "", time.Time{}, fmt.Errorf("issue token: subject and token id are required")
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("issue token: ttl must be positive, got %s", ttl)
	}
	now := c.now().UTC()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	claims := jwt.RegisteredClaims{
		ID:        tokenID,
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt.Time, nil
}

// Verify checks the signature, structure, and expiry of token and returns its claims.
// Every failure wraps ErrInvalidToken. Verify has no side effects.
func (c *Codec) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	var rc jwt.RegisteredClaims
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &rc, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || rc.Subject == "" || rc.ID == "" || rc.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	// expiresAt <= now is expired.
	if !rc.ExpiresAt.Time.After(c.now()) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	claims := &Claims{
		Subject:   rc.Subject,
		TokenID:   rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Time
	}
	return claims, nil
}
