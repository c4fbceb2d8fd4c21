// Package session issues and verifies the signed tokens carried in the
// login cookie.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLen is the shortest accepted HMAC secret in bytes.
const MinSecretLen = 32

const issuer = "webserver"

var (
	// ErrSecretTooShort is returned by NewIssuer.
	ErrSecretTooShort = errors.New("session: secret must be at least 32 bytes")

	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("session: invalid token")
)

// Issuer signs HS256 tokens whose subject is a user ID.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an issuer. ttl <= 0 defaults to 24 hours.
func NewIssuer(secret []byte, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	i := &Issuer{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a signed token for userID.
func (i *Issuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("session: empty user id")
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm, issuer and expiry of token and
// returns its user ID. Failures wrap ErrInvalidToken and the jwt cause,
// so errors.Is(err, jwt.ErrTokenExpired) works.
func (i *Issuer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
