package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/fintrack-auth/api/swagger"
	"github.com/noah-isme/fintrack-auth/internal/handler"
	"github.com/noah-isme/fintrack-auth/internal/middleware"
	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/internal/repository"
	"github.com/noah-isme/fintrack-auth/internal/service"
	"github.com/noah-isme/fintrack-auth/pkg/cache"
	"github.com/noah-isme/fintrack-auth/pkg/config"
	"github.com/noah-isme/fintrack-auth/pkg/database"
	"github.com/noah-isme/fintrack-auth/pkg/jobs"
	"github.com/noah-isme/fintrack-auth/pkg/logger"
	corsmiddleware "github.com/noah-isme/fintrack-auth/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/fintrack-auth/pkg/middleware/requestid"
	"github.com/noah-isme/fintrack-auth/pkg/tokenhash"
)

// @title FinTrack Auth API
// @version 1.0.0
// @description Cookie based session authentication with rotating refresh tokens
// @BasePath /api/v1
// @schemes https http

type tokenBackend interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	FindByID(ctx context.Context, id string) (*models.RefreshToken, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, replacement *models.RefreshToken, now time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	RevokeSession(ctx context.Context, userID, id string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	SoftDeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error)
	PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error)
	Ping(ctx context.Context) error
}

type userBackend interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type auditBackend interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type rateLimitBackend interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type backends struct {
	tokens    tokenBackend
	users     userBackend
	audit     auditBackend
	rateLimit rateLimitBackend
	checks    map[string]handler.ReadinessCheck
	closers   []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openBackends(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open backends", zap.Error(err))
	}
	defer func() {
		for _, closeFn := range store.closers {
			if err := closeFn(); err != nil {
				logr.Warn("failed to close backend", zap.Error(err))
			}
		}
	}()

	metrics := service.NewMetricsService()
	clock := service.SystemClock{}

	auditWorker := service.NewAuditWorker(store.audit, cfg.Session.StoreTimeout)
	auditQueue := jobs.NewQueue("audit", auditWorker.Handle, jobs.QueueConfig{
		Workers:      cfg.Audit.Workers,
		BufferSize:   cfg.Audit.BufferSize,
		MaxRetries:   2,
		RetryDelay:   time.Second,
		DrainTimeout: 5 * time.Second,
		Logger:       logr,
	})
	auditQueue.Start(ctx)
	defer auditQueue.Stop()
	auditSvc := service.NewAuditService(auditQueue, metrics, logr)

	refreshSvc := service.NewRefreshTokenService(store.tokens, clock, auditSvc, metrics, logr, service.RefreshTokenConfig{
		Lifetime:         cfg.Session.RefreshLifetime,
		StoreTimeout:     cfg.Session.StoreTimeout,
		RevokeAllOnReuse: cfg.Session.RevokeAllOnReuse,
	})

	credentials := service.NewCredentialService(store.users, logr)
	if cfg.Env != config.EnvProduction && len(cfg.DevUsers) > 0 {
		if err := credentials.SeedUsers(ctx, cfg.DevUsers); err != nil {
			logr.Fatal("failed to seed dev users", zap.Error(err))
		}
	}

	secrets := service.NewStaticSecrets(cfg.JWT)
	authSvc := service.NewAuthService(service.AuthDependencies{
		Identity:  credentials,
		Refresh:   refreshSvc,
		Secrets:   secrets,
		Hasher:    tokenhash.New(cfg.Session.RefreshPepper),
		Validator: validator.New(),
		Audit:     auditSvc,
		Metrics:   metrics,
		Clock:     clock,
		Logger:    logr,
	}, service.AuthConfig{IdentityTimeout: cfg.Session.StoreTimeout})

	limiter := service.NewRateLimitService(store.rateLimit, service.RateLimitPolicyAuth, cfg.RateLimit.Limit, cfg.RateLimit.Window, metrics, logr)

	if cfg.Cleanup.Enabled {
		cleanup := service.NewRefreshTokenCleanupJob(refreshSvc, metrics, logr, service.CleanupConfig{
			InitialDelay:  cfg.Cleanup.InitialDelay,
			Interval:      cfg.Cleanup.Interval,
			Retention:     cfg.Cleanup.Retention,
			CompactionAge: cfg.Cleanup.CompactionAge,
		})
		go cleanup.Start(ctx)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logr.Fatal("invalid trusted proxies", zap.Error(err))
	}
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins, cfg.Cookie.CSRFHeader))
	r.Use(middleware.Metrics(metrics))

	cookies := handler.NewCookieGateway(cfg.Cookie, cfg.APIPrefix, authSvc.AccessTokenTTL(), authSvc.RefreshTokenLifetime())
	handler.RegisterRoutes(r, handler.RouterDependencies{
		APIPrefix:   cfg.APIPrefix,
		CSRFHeader:  cfg.Cookie.CSRFHeader,
		Auth:        handler.NewAuthHandler(authSvc, cookies, logr),
		Metrics:     handler.NewMetricsHandler(metrics, store.checks),
		AuthService: authSvc,
		RateLimiter: limiter,
		MetricsSvc:  metrics,
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*backends, error) {
	b := &backends{checks: map[string]handler.ReadinessCheck{}}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logr.Warn("using in-memory session store; sessions are lost on restart")
		tokens := repository.NewMemoryRefreshTokenStore()
		b.tokens = tokens
		b.users = repository.NewMemoryUserRepository()
		b.audit = repository.NewLogAuditRepository(logr)
		b.checks["refresh_tokens"] = tokens.Ping
	default:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := database.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		tokens := repository.NewRefreshTokenRepository(db)
		b.tokens = tokens
		b.users = repository.NewUserRepository(db)
		b.audit = repository.NewAuditRepository(db)
		b.checks["postgres"] = tokens.Ping
	}

	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if client != nil {
		b.closers = append(b.closers, client.Close)
		b.rateLimit = repository.NewRedisRateLimitRepository(client)
		b.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else {
		b.rateLimit = repository.NewMemoryRateLimitRepository(nil)
	}

	return b, nil
}
