package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/slotbook/internal/domain"
)

const (
	tokenIssuer   = "slotbook"
	tokenAudience = "booking-cancel"
)

// TokenSigner issues and verifies HS256 cancel tokens. A token names one
// booking and expires when the booking starts.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner returns a signer, or nil when secret is empty.
func NewTokenSigner(secret string) *TokenSigner {
	if secret == "" {
		return nil
	}
	return &TokenSigner{secret: []byte(secret), now: time.Now}
}

// Issue returns a cancel token for b.
func (s *TokenSigner) Issue(b *domain.Booking) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		Subject:   b.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(b.StartAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks token and returns the booking id it was issued for.
func (s *TokenSigner) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidCancelToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidCancelToken
	}
	return claims.Subject, nil
}
