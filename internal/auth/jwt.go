// Package auth provides an optional bearer-token validation path for
// tokens minted outside the Pairing Manager (e.g. by an operator's own
// identity provider). The Pairing Manager's own tokens never pass through
// here; they are validated by their salted-hash store directly.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDisabled is returned by every method when no secret was configured.
var ErrDisabled = errors.New("jwt auth disabled: no secret configured")

// Claims is the subject carried by a validated token.
type Claims struct {
	Subject string `json:"sub"`
	Label   string `json:"label,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 bearer tokens.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds a Service. An empty secret disables the service;
// every method then returns ErrDisabled.
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether a secret was configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Generate issues a signed token for subject, valid for the service's
// configured expiry (no expiry if zero).
func (s *Service) Generate(subject, label string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}

	claims := Claims{
		Subject: subject,
		Label:   label,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a token, returning its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
