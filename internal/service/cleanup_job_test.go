package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type sweeperStub struct {
	runs     atomic.Int32
	cleanErr error
	panicMsg string
}

func (s *sweeperStub) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	s.runs.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.cleanErr != nil {
		return 0, s.cleanErr
	}
	return 2, nil
}

func (s *sweeperStub) Compact(ctx context.Context, age time.Duration) (int64, error) {
	return 1, nil
}

func TestCleanupRunOnceSweepsAndIsIdempotent(t *testing.T) {
	svc, store, clock, _ := newRefreshService(t, RefreshTokenConfig{})
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", "live", webMeta)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", "revoked", webMeta)
	require.NoError(t, err)
	_, _, err = svc.Revoke(ctx, "revoked")
	require.NoError(t, err)

	clock.Advance(31 * 24 * time.Hour)
	job := NewRefreshTokenCleanupJob(svc, NewMetricsService(), nil, CleanupConfig{Retention: 30 * 24 * time.Hour, CompactionAge: 90 * 24 * time.Hour})

	first, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.SoftDeleted)
	assert.Zero(t, first.Purged)

	second, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.SoftDeleted)

	clock.Advance(91 * 24 * time.Hour)
	third, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, third.Purged)

	_, err = store.FindByHash(ctx, "live")
	assert.Error(t, err)
}

func TestCleanupRunOnceKeepsRecentDeadTokens(t *testing.T) {
	svc, _, clock, _ := newRefreshService(t, RefreshTokenConfig{})
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", "revoked", webMeta)
	require.NoError(t, err)
	_, _, err = svc.Revoke(ctx, "revoked")
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	job := NewRefreshTokenCleanupJob(svc, nil, nil, CleanupConfig{Retention: 30 * 24 * time.Hour})
	result, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.SoftDeleted)
}

func TestCleanupRunOnceRecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	job := NewRefreshTokenCleanupJob(&sweeperStub{panicMsg: "boom"}, nil, zap.New(core), CleanupConfig{})

	_, err := job.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, logs.FilterMessage("refresh token cleanup failed").Len())
}

func TestCleanupStartContinuesAfterFailure(t *testing.T) {
	sweeper := &sweeperStub{cleanErr: errors.New("db down")}
	job := NewRefreshTokenCleanupJob(sweeper, nil, nil, CleanupConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sweeper.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup job did not stop")
	}
}

func TestCleanupStartStopsDuringInitialDelay(t *testing.T) {
	sweeper := &sweeperStub{}
	job := NewRefreshTokenCleanupJob(sweeper, nil, nil, CleanupConfig{InitialDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup job ignored cancellation")
	}
	assert.Zero(t, sweeper.runs.Load())
}
