package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	StoreDriver string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Session   SessionConfig
	Cookie    CookieConfig
	Cleanup   CleanupConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	CORS      CORSConfig
	Log       LogConfig

	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are honoured when resolving the client IP. Empty trusts none.
	TrustedProxies []string

	// DevUsers seeds the in-memory user directory as "email:password" pairs.
	DevUsers []string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig feeds the static secrets provider used for access tokens.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
	TTL      time.Duration
}

// SessionConfig governs refresh token policy.
type SessionConfig struct {
	RefreshLifetime  time.Duration
	RefreshPepper    string
	RevokeAllOnReuse bool
	StoreTimeout     time.Duration
}

// CookieConfig controls the attributes of the session and CSRF cookies.
type CookieConfig struct {
	Secure     bool
	SameSite   http.SameSite
	Domain     string
	CSRFHeader string
}

// CleanupConfig schedules the refresh token sweeper.
type CleanupConfig struct {
	Enabled       bool
	InitialDelay  time.Duration
	Interval      time.Duration
	Retention     time.Duration
	CompactionAge time.Duration
}

// RateLimitConfig is the collective policy for the auth endpoints.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// AuditConfig sizes the asynchronous audit queue.
type AuditConfig struct {
	Workers    int
	BufferSize int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = strings.TrimRight(v.GetString("API_PREFIX"), "/")
	cfg.StoreDriver = strings.ToLower(v.GetString("STORE_DRIVER"))

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
		TTL:      parseDuration(v.GetString("ACCESS_TOKEN_TTL"), 15*time.Minute),
	}

	cfg.Session = SessionConfig{
		RefreshLifetime:  parseDuration(v.GetString("REFRESH_TOKEN_LIFETIME"), 7*24*time.Hour),
		RefreshPepper:    v.GetString("REFRESH_TOKEN_PEPPER"),
		RevokeAllOnReuse: v.GetBool("REFRESH_REUSE_REVOKE_ALL"),
		StoreTimeout:     parseDuration(v.GetString("STORE_TIMEOUT"), 3*time.Second),
	}

	cfg.Cookie = CookieConfig{
		Secure:     v.GetBool("COOKIE_SECURE"),
		SameSite:   parseSameSite(v.GetString("COOKIE_SAMESITE")),
		Domain:     v.GetString("COOKIE_DOMAIN"),
		CSRFHeader: v.GetString("CSRF_HEADER"),
	}

	cfg.Cleanup = CleanupConfig{
		Enabled:       v.GetBool("CLEANUP_ENABLED"),
		InitialDelay:  parseDuration(v.GetString("CLEANUP_INITIAL_DELAY"), time.Minute),
		Interval:      parseDuration(v.GetString("CLEANUP_INTERVAL"), 24*time.Hour),
		Retention:     parseDuration(v.GetString("CLEANUP_RETENTION"), 30*24*time.Hour),
		CompactionAge: parseDuration(v.GetString("CLEANUP_COMPACTION_AGE"), 90*24*time.Hour),
	}

	cfg.RateLimit = RateLimitConfig{
		Limit:  v.GetInt("AUTH_RATE_LIMIT"),
		Window: parseDuration(v.GetString("AUTH_RATE_WINDOW"), time.Minute),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.TrustedProxies = splitAndTrim(v.GetString("TRUSTED_PROXIES"))
	cfg.DevUsers = splitAndTrim(v.GetString("DEV_USERS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would weaken the session guarantees.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Env == EnvProduction {
		if c.JWT.Secret == "" || c.JWT.Secret == devSecret {
			return errors.New("JWT_SECRET must be set in production")
		}
		if c.StoreDriver == StoreDriverMemory {
			return errors.New("memory store driver is not allowed in production")
		}
		if !c.Cookie.Secure {
			return errors.New("COOKIE_SECURE must be enabled in production")
		}
	}
	if c.JWT.TTL <= 0 || c.Session.RefreshLifetime <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.JWT.TTL >= c.Session.RefreshLifetime {
		return errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_LIFETIME")
	}
	return nil
}

const devSecret = "dev_secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "fintrack")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devSecret)
	v.SetDefault("JWT_ISSUER", "fintrack-api")
	v.SetDefault("JWT_AUDIENCE", "fintrack-web")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")

	v.SetDefault("REFRESH_TOKEN_LIFETIME", "168h")
	v.SetDefault("REFRESH_TOKEN_PEPPER", "")
	v.SetDefault("REFRESH_REUSE_REVOKE_ALL", false)
	v.SetDefault("STORE_TIMEOUT", "3s")

	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_SAMESITE", "strict")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("CSRF_HEADER", "X-CSRF-TOKEN")

	v.SetDefault("CLEANUP_ENABLED", true)
	v.SetDefault("CLEANUP_INITIAL_DELAY", "1m")
	v.SetDefault("CLEANUP_INTERVAL", "24h")
	v.SetDefault("CLEANUP_RETENTION", "720h")
	v.SetDefault("CLEANUP_COMPACTION_AGE", "2160h")

	v.SetDefault("AUTH_RATE_LIMIT", 20)
	v.SetDefault("AUTH_RATE_WINDOW", "1m")

	v.SetDefault("AUDIT_WORKERS", 1)
	v.SetDefault("AUDIT_BUFFER", 256)

	v.SetDefault("DEV_USERS", "")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteStrictMode
	}
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
