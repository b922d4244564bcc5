package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type refreshTokenSweeper interface {
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
	Compact(ctx context.Context, age time.Duration) (int64, error)
}

// CleanupConfig schedules RefreshTokenCleanupJob.
type CleanupConfig struct {
	InitialDelay  time.Duration
	Interval      time.Duration
	Retention     time.Duration
	CompactionAge time.Duration
}

// CleanupResult summarises one sweep.
type CleanupResult struct {
	SoftDeleted int64
	Purged      int64
}

// RefreshTokenCleanupJob periodically sweeps dead refresh tokens.
type RefreshTokenCleanupJob struct {
	sweeper refreshTokenSweeper
	metrics *MetricsService
	logger  *zap.Logger
	cfg     CleanupConfig
}

// NewRefreshTokenCleanupJob constructs the sweeper loop.
func NewRefreshTokenCleanupJob(sweeper refreshTokenSweeper, metrics *MetricsService, logger *zap.Logger, cfg CleanupConfig) *RefreshTokenCleanupJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &RefreshTokenCleanupJob{sweeper: sweeper, metrics: metrics, logger: logger, cfg: cfg}
}

// Start blocks until ctx is cancelled, sweeping after the initial delay and
// then once per interval.
func (j *RefreshTokenCleanupJob) Start(ctx context.Context) {
	if !wait(ctx, j.cfg.InitialDelay) {
		return
	}
	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return
		}
		if !wait(ctx, j.cfg.Interval) {
			return
		}
	}
}

// RunOnce performs a single soft-delete and compaction pass. A panic in the
// store is converted into an error.
func (j *RefreshTokenCleanupJob) RunOnce(ctx context.Context) (result CleanupResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panic: %v", r)
		}
		j.finish(result, err, time.Since(start))
	}()

	result.SoftDeleted, err = j.sweeper.CleanupExpired(ctx, j.cfg.Retention)
	if err != nil {
		return result, fmt.Errorf("soft delete expired tokens: %w", err)
	}
	result.Purged, err = j.sweeper.Compact(ctx, j.cfg.CompactionAge)
	if err != nil {
		return result, fmt.Errorf("compact deleted tokens: %w", err)
	}
	return result, nil
}

func (j *RefreshTokenCleanupJob) finish(result CleanupResult, err error, elapsed time.Duration) {
	fields := []zap.Field{
		zap.Int64("soft_deleted", result.SoftDeleted),
		zap.Int64("purged", result.Purged),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		j.metrics.RecordCleanup(OutcomeError, result.SoftDeleted, result.Purged)
		j.logger.Error("refresh token cleanup failed", append(fields, zap.Error(err))...)
		return
	}
	j.metrics.RecordCleanup(OutcomeSuccess, result.SoftDeleted, result.Purged)
	j.logger.Info("refresh token cleanup completed", fields...)
}

// wait sleeps for d and reports false if ctx ended first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
