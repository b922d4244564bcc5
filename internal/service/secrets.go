package service

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/fintrack-auth/pkg/config"
)

// ErrSigningKeyUnavailable is returned when no signing key can be produced.
var ErrSigningKeyUnavailable = errors.New("signing key unavailable")

// SecretsProvider supplies the access token signing material and policy.
type SecretsProvider interface {
	SigningKey(ctx context.Context) ([]byte, error)
	Issuer() string
	Audience() []string
	AccessTokenTTL() time.Duration
}

// StaticSecrets serves secrets loaded once from configuration.
type StaticSecrets struct {
	key      []byte
	issuer   string
	audience []string
	ttl      time.Duration
}

// NewStaticSecrets builds a provider from the JWT configuration block.
func NewStaticSecrets(cfg config.JWTConfig) *StaticSecrets {
	return &StaticSecrets{
		key:      []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
	}
}

func (s *StaticSecrets) SigningKey(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.key) == 0 {
		return nil, ErrSigningKeyUnavailable
	}
	return s.key, nil
}

func (s *StaticSecrets) Issuer() string                { return s.issuer }
func (s *StaticSecrets) Audience() []string            { return s.audience }
func (s *StaticSecrets) AccessTokenTTL() time.Duration { return s.ttl }
