package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/fintrack-auth/internal/models"
)

// ErrInvalidAccessToken is the only verification failure callers can observe.
var ErrInvalidAccessToken = errors.New("invalid access token")

// TokenCodec issues and verifies HS256 access tokens. It holds no secrets; the
// key is passed on every call.
type TokenCodec struct {
	issuer   string
	audience []string
	clock    Clock
}

// NewTokenCodec constructs a codec bound to an issuer and audience.
func NewTokenCodec(issuer string, audience []string, clock Clock) *TokenCodec {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenCodec{issuer: issuer, audience: audience, clock: clock}
}

// Issue signs a new access token for subjectID valid for ttl.
func (c *TokenCodec) Issue(subjectID, email string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if len(secret) == 0 {
		return "", time.Time{}, ErrSigningKeyUnavailable
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("invalid access token ttl %s", ttl)
	}

	issuedAt := c.clock.Now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	claims := &models.AccessClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   subjectID,
			Audience:  c.audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses tokenString and returns its claims. Every failure, including
// a bad signature, expiry, wrong algorithm or malformed input, yields
// ErrInvalidAccessToken.
func (c *TokenCodec) Verify(tokenString string, secret []byte) (*models.AccessClaims, error) {
	if tokenString == "" || len(secret) == 0 {
		return nil, ErrInvalidAccessToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.clock.Now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		opts = append(opts, jwt.WithAudience(c.audience[0]))
	}

	claims := &models.AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidAccessToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}
