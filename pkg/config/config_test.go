package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 15*time.Minute, cfg.JWT.TTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.RefreshLifetime)
	assert.Equal(t, 3*time.Second, cfg.Session.StoreTimeout)
	assert.True(t, cfg.Cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cfg.Cookie.SameSite)
	assert.Equal(t, "X-CSRF-TOKEN", cfg.Cookie.CSRFHeader)
	assert.Equal(t, []string{"fintrack-web"}, cfg.JWT.Audience)
	assert.Equal(t, 20, cfg.RateLimit.Limit)
	assert.False(t, cfg.Session.RevokeAllOnReuse)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REFRESH_TOKEN_LIFETIME", "24h")
	t.Setenv("COOKIE_SAMESITE", "Lax")
	t.Setenv("JWT_AUDIENCE", "web, mobile")
	t.Setenv("DEV_USERS", "a@example.com:secret, b@example.com:pw")
	t.Setenv("REFRESH_REUSE_REVOKE_ALL", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.JWT.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Session.RefreshLifetime)
	assert.Equal(t, http.SameSiteLaxMode, cfg.Cookie.SameSite)
	assert.Equal(t, []string{"web", "mobile"}, cfg.JWT.Audience)
	assert.Equal(t, []string{"a@example.com:secret", "b@example.com:pw"}, cfg.DevUsers)
	assert.True(t, cfg.Session.RevokeAllOnReuse)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.2"}, cfg.TrustedProxies)
}

func TestLoadFallsBackOnBadDuration(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STORE_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Session.StoreTimeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Env:         EnvProduction,
			StoreDriver: StoreDriverPostgres,
			JWT:         JWTConfig{Secret: "a-long-production-secret", TTL: 15 * time.Minute},
			Session:     SessionConfig{RefreshLifetime: 7 * 24 * time.Hour},
			Cookie:      CookieConfig{Secure: true},
		}
	}

	require.NoError(t, base().Validate())

	cases := map[string]func(c *Config){
		"unknown driver":          func(c *Config) { c.StoreDriver = "mongo" },
		"missing secret":          func(c *Config) { c.JWT.Secret = "" },
		"dev secret":              func(c *Config) { c.JWT.Secret = devSecret },
		"memory in prod":          func(c *Config) { c.StoreDriver = StoreDriverMemory },
		"insecure cookies":        func(c *Config) { c.Cookie.Secure = false },
		"zero ttl":                func(c *Config) { c.JWT.TTL = 0 },
		"access outlives refresh": func(c *Config) { c.JWT.TTL = 8 * 24 * time.Hour },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAllowsDevelopmentDefaults(t *testing.T) {
	cfg := &Config{
		Env:         EnvDevelopment,
		StoreDriver: StoreDriverMemory,
		JWT:         JWTConfig{Secret: devSecret, TTL: time.Minute},
		Session:     SessionConfig{RefreshLifetime: time.Hour},
	}
	assert.NoError(t, cfg.Validate())
}
