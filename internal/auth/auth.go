// Package auth issues and verifies the bearer tokens used by the API.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/mathwhiz/internal/model"
)

// ErrInvalidToken is returned for malformed, expired, forged or revoked
// tokens.
var ErrInvalidToken = errors.New("invalid token")

// MinSecretLen is the shortest HS256 secret NewIssuer accepts.
const MinSecretLen = 32

const issuerName = "mathwhiz"

// Revocations reports whether a token ID was revoked by a logout.
type Revocations interface {
	IsTokenRevoked(jti string) (bool, error)
}

// Claims are the claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	Role model.UserRole `json:"role"`
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}
	return id, nil
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret  []byte
	ttl     time.Duration
	revoked Revocations
	now     func() time.Time
}

// NewIssuer returns an Issuer. revoked may be nil when logout is not
// supported.
func NewIssuer(secret string, ttl time.Duration, revoked Revocations) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d characters", MinSecretLen)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, revoked: revoked, now: time.Now}, nil
}

// Issue creates a signed token for u.
func (i *Issuer) Issue(u *model.User) (string, *Claims, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    issuerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: u.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses token and checks its signature, expiry, issuer and
// revocation status.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing token ID", ErrInvalidToken)
	}

	if i.revoked != nil {
		revoked, err := i.revoked.IsTokenRevoked(claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
		}
	}
	return claims, nil
}
