package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. Every minted JWT carries exactly one, and consumers must
// check it: an access token presented to the refresh endpoint (or vice
// versa) is rejected even though the signature is valid.
const (
	PurposeAccess  = "access"
	PurposeRefresh = "refresh"
)

// Claims extends JWT registered claims with the token purpose.
// The JSON key is "type" for compatibility with existing mobile clients.
type Claims struct {
	jwt.RegisteredClaims
	Purpose string `json:"type"`
}

// RemainingTTL returns the time until the token expires, or zero if it has
// already expired or carries no expiry.
func (c *Claims) RemainingTTL() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := time.Until(c.ExpiresAt.Time)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TokenCodec mints and decodes purpose-tagged HS256 JWTs. Access tokens
// are validated by signature only (no DB hit); refresh tokens additionally
// check the revocation ledger at the service layer.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenCodec creates a codec with the given signing secret and TTLs.
func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// MintAccess creates a signed short-lived access token for a user.
func (c *TokenCodec) MintAccess(userID string) (string, error) {
	raw, _, err := c.mint(userID, PurposeAccess, c.accessTTL)
	return raw, err
}

// MintRefresh creates a signed refresh token for a user and returns its
// expiry so the caller can persist a matching ledger row.
func (c *TokenCodec) MintRefresh(userID string) (raw string, expiresAt time.Time, err error) {
	return c.mint(userID, PurposeRefresh, c.refreshTTL)
}

func (c *TokenCodec) mint(subject, purpose string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Purpose: purpose,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing %s token: %w", purpose, err)
	}
	return signed, expiresAt, nil
}

// Decode validates signature and expiry and returns the claims.
// Expired tokens surface ErrTokenExpired; every other failure (bad
// signature, malformed, wrong algorithm, missing fields) collapses to
// ErrTokenInvalid so callers can't leak parser detail to clients.
func (c *TokenCodec) Decode(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Purpose == "" {
		return nil, fmt.Errorf("%w: missing purpose", ErrTokenInvalid)
	}

	return claims, nil
}
