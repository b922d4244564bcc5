package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/pkg/config"
)

var testSecret = []byte("test-secret-key-with-enough-entropy")

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func TestTokenCodecRoundTrip(t *testing.T) {
	clock := newFixedClock()
	codec := NewTokenCodec("fintrack-api", []string{"fintrack-web"}, clock)

	token, expiresAt, err := codec.Issue("user-1", "user@example.com", 15*time.Minute, testSecret)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(15*time.Minute), expiresAt)

	claims, err := codec.Verify(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "fintrack-api", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenCodecUniqueJTI(t *testing.T) {
	codec := NewTokenCodec("iss", nil, newFixedClock())
	first, _, err := codec.Issue("user-1", "a@example.com", time.Minute, testSecret)
	require.NoError(t, err)
	second, _, err := codec.Issue("user-1", "a@example.com", time.Minute, testSecret)
	require.NoError(t, err)

	c1, err := codec.Verify(first, testSecret)
	require.NoError(t, err)
	c2, err := codec.Verify(second, testSecret)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)
	assert.NotEqual(t, first, second)
}

func TestTokenCodecExpiryBoundary(t *testing.T) {
	clock := newFixedClock()
	codec := NewTokenCodec("iss", nil, clock)
	token, _, err := codec.Issue("user-1", "a@example.com", time.Minute, testSecret)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = codec.Verify(token, testSecret)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = codec.Verify(token, testSecret)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestTokenCodecRejections(t *testing.T) {
	clock := newFixedClock()
	codec := NewTokenCodec("fintrack-api", []string{"fintrack-web"}, clock)
	valid, _, err := codec.Issue("user-1", "a@example.com", time.Minute, testSecret)
	require.NoError(t, err)

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, &models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti",
			Subject:   "user-1",
			Issuer:    "fintrack-api",
			Audience:  jwt.ClaimStrings{"fintrack-web"},
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Minute)),
		},
	})
	unsigned, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, &models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti",
			Subject:   "user-1",
			Issuer:    "fintrack-api",
			Audience:  jwt.ClaimStrings{"fintrack-web"},
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Minute)),
		},
	})
	otherAlg, err := hs512.SignedString(testSecret)
	require.NoError(t, err)

	foreignIssuer, _, err := NewTokenCodec("someone-else", []string{"fintrack-web"}, clock).Issue("user-1", "a@example.com", time.Minute, testSecret)
	require.NoError(t, err)

	cases := map[string]struct {
		token  string
		secret []byte
	}{
		"wrong secret":   {token: valid, secret: []byte("another-secret")},
		"tampered":       {token: valid[:len(valid)-2] + "xx", secret: testSecret},
		"malformed":      {token: "not-a-jwt", secret: testSecret},
		"empty":          {token: "", secret: testSecret},
		"alg none":       {token: unsigned, secret: testSecret},
		"other hmac alg": {token: otherAlg, secret: testSecret},
		"foreign issuer": {token: foreignIssuer, secret: testSecret},
		"missing secret": {token: valid, secret: nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			claims, err := codec.Verify(tc.token, tc.secret)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrInvalidAccessToken)
		})
	}
}

func TestTokenCodecIssueRequiresSecret(t *testing.T) {
	codec := NewTokenCodec("iss", nil, newFixedClock())
	_, _, err := codec.Issue("user-1", "a@example.com", time.Minute, nil)
	assert.ErrorIs(t, err, ErrSigningKeyUnavailable)

	_, _, err = codec.Issue("", "a@example.com", time.Minute, testSecret)
	assert.Error(t, err)
}

func TestStaticSecrets(t *testing.T) {
	secrets := NewStaticSecrets(config.JWTConfig{Secret: "s", Issuer: "iss", Audience: []string{"aud"}, TTL: time.Minute})
	key, err := secrets.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("s"), key)
	assert.Equal(t, "iss", secrets.Issuer())
	assert.Equal(t, time.Minute, secrets.AccessTokenTTL())

	_, err = NewStaticSecrets(config.JWTConfig{}).SigningKey(context.Background())
	assert.ErrorIs(t, err, ErrSigningKeyUnavailable)
}
