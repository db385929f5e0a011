// Package auth issues and validates the bearer tokens of the admin API.
package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"replica/internal/core/apperror"
)

// Scopes granted to operators.
const (
	ScopeRead  = "tasks:read"
	ScopeWrite = "tasks:write"
)

// Config holds token settings.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// DefaultConfig returns the default token settings for secret.
func DefaultConfig(secret string) Config {
	return Config{
		Secret: secret,
		Issuer: "replica",
		TTL:    24 * time.Hour,
	}
}

// Claims are the claims of an admin token.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// Allows reports whether the token grants scope. Write implies read.
func (c *Claims) Allows(scope string) bool {
	if slices.Contains(c.Scopes, scope) {
		return true
	}
	return scope == ScopeRead && slices.Contains(c.Scopes, ScopeWrite)
}

// TokenService signs and verifies HS256 tokens.
type TokenService struct {
	config Config
	now    func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(config Config) *TokenService {
	return &TokenService{config: config, now: time.Now}
}

// Issue signs a token for subject.
func (s *TokenService) Issue(subject string, scopes []string) (string, time.Time, error) {
	if s.config.Secret == "" {
		return "", time.Time{}, apperror.NewConfig("token secret is not configured")
	}
	now := s.now()
	expiresAt := now.Add(s.config.TTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims. Failures are UNAUTHORIZED errors.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, apperror.NewUnauthorized("invalid token").WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperror.NewUnauthorized("invalid token claims")
	}
	return claims, nil
}
