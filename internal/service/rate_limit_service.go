package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RateLimitPolicyAuth names the policy guarding the /auth endpoints.
const RateLimitPolicyAuth = "auth"

type rateLimitStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// RateLimitDecision is the outcome of one Allow call.
type RateLimitDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimitService applies a named request budget per client key.
type RateLimitService struct {
	store   rateLimitStore
	policy  string
	limit   int
	window  time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRateLimitService constructs a limiter for policy. A non-positive limit
// disables limiting.
func NewRateLimitService(store rateLimitStore, policy string, limit int, window time.Duration, metrics *MetricsService, logger *zap.Logger) *RateLimitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimitService{store: store, policy: policy, limit: limit, window: window, metrics: metrics, logger: logger}
}

// Allow charges one request to key. Store failures fail open.
func (s *RateLimitService) Allow(ctx context.Context, key string) RateLimitDecision {
	if s == nil || s.store == nil || s.limit <= 0 {
		return RateLimitDecision{Allowed: true}
	}
	allowed, retryAfter, err := s.store.Hit(ctx, s.policy+":"+key, s.limit, s.window)
	if err != nil {
		s.logger.Warn("rate limit store unavailable", zap.String("policy", s.policy), zap.Error(err))
		return RateLimitDecision{Allowed: true}
	}
	if !allowed {
		s.metrics.RecordRateLimited(s.policy)
		if retryAfter <= 0 {
			retryAfter = s.window
		}
		return RateLimitDecision{RetryAfter: retryAfter}
	}
	return RateLimitDecision{Allowed: true}
}
