package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/internal/repository"
	appErrors "github.com/noah-isme/fintrack-auth/pkg/errors"
)

type refreshTokenStore interface {
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
}

type auditRecorder interface {
	Record(ctx context.Context, event AuditEvent)
}

// RefreshTokenConfig is the refresh token policy.
type RefreshTokenConfig struct {
	Lifetime         time.Duration
	StoreTimeout     time.Duration
	RevokeAllOnReuse bool
}

// RefreshTokenService owns every mutation of the refresh token table.
type RefreshTokenService struct {
	store   refreshTokenStore
	clock   Clock
	audit   auditRecorder
	metrics *MetricsService
	logger  *zap.Logger
	cfg     RefreshTokenConfig
}

// NewRefreshTokenService constructs the service.
func NewRefreshTokenService(store refreshTokenStore, clock Clock, audit auditRecorder, metrics *MetricsService, logger *zap.Logger, cfg RefreshTokenConfig) *RefreshTokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 7 * 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &RefreshTokenService{store: store, clock: clock, audit: audit, metrics: metrics, logger: logger, cfg: cfg}
}

// Lifetime reports the absolute lifetime given to new tokens.
func (s *RefreshTokenService) Lifetime() time.Duration {
	return s.cfg.Lifetime
}

// Create persists a new refresh token for userID. Only the hash is stored.
func (s *RefreshTokenService) Create(ctx context.Context, userID, tokenHash string, meta models.ClientMeta) (*models.RefreshToken, error) {
	fields := map[string]string{}
	if userID == "" {
		fields["user_id"] = "required"
	}
	if tokenHash == "" {
		fields["token_hash"] = "required"
	}
	if meta.Device == "" {
		fields["device_info"] = "required"
	}
	if len(fields) > 0 {
		return nil, appErrors.Validation("invalid refresh token request", fields)
	}

	now := s.clock.Now()
	token := &models.RefreshToken{
		UserID:     userID,
		TokenHash:  tokenHash,
		DeviceInfo: meta.Device,
		UserAgent:  truncate(meta.UserAgent, 512),
		IPAddress:  meta.IP,
		ExpiresAt:  now.Add(s.cfg.Lifetime),
		CreatedAt:  now,
	}
	err := s.withStore(ctx, "create", func(ctx context.Context) error {
		return s.store.Create(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Validate returns the record for tokenHash, or nil when it is unknown,
// revoked, expired or deleted. The reasons are deliberately indistinguishable.
func (s *RefreshTokenService) Validate(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	if tokenHash == "" {
		return nil, nil
	}
	token, err := s.find(ctx, tokenHash)
	if err != nil || token == nil {
		return nil, err
	}
	if !token.IsValid(s.clock.Now()) {
		return nil, nil
	}
	return token, nil
}

// Rotate revokes the token identified by tokenHash and issues its replacement
// for the same user and device. Of concurrent callers at most one succeeds;
// the rest observe ErrInvalidRefreshToken.
func (s *RefreshTokenService) Rotate(ctx context.Context, tokenHash, newHash string, meta models.ClientMeta) (*models.RefreshToken, error) {
	if tokenHash == "" || newHash == "" {
		return nil, appErrors.ErrInvalidRefreshToken
	}
	current, err := s.find(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, appErrors.ErrInvalidRefreshToken
	}

	now := s.clock.Now()
	if !current.IsValid(now) {
		s.handleInvalidPresentation(ctx, current, meta)
		return nil, appErrors.ErrInvalidRefreshToken
	}

	userAgent := meta.UserAgent
	if userAgent == "" {
		userAgent = current.UserAgent
	}
	replacement := &models.RefreshToken{
		UserID:     current.UserID,
		TokenHash:  newHash,
		DeviceInfo: current.DeviceInfo,
		UserAgent:  truncate(userAgent, 512),
		IPAddress:  meta.IP,
		ExpiresAt:  now.Add(s.cfg.Lifetime),
		CreatedAt:  now,
	}

	err = s.withStore(ctx, "rotate", func(ctx context.Context) error {
		return s.store.Rotate(ctx, current.ID, replacement, now)
	})
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenInactive) {
			s.logger.Info("refresh rotation lost race", zap.String("session_id", current.ID))
			return nil, appErrors.ErrInvalidRefreshToken
		}
		return nil, err
	}
	return replacement, nil
}

// CheckReuse inspects an invalid presentation of tokenHash and reacts when it
// is a replay of an already rotated token.
func (s *RefreshTokenService) CheckReuse(ctx context.Context, tokenHash string, meta models.ClientMeta) {
	if tokenHash == "" {
		return
	}
	token, err := s.find(ctx, tokenHash)
	if err != nil || token == nil {
		return
	}
	s.handleInvalidPresentation(ctx, token, meta)
}

func (s *RefreshTokenService) handleInvalidPresentation(ctx context.Context, token *models.RefreshToken, meta models.ClientMeta) {
	if !token.WasRotated() {
		return
	}
	s.metrics.RecordReuseDetected()
	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", token.UserID),
		zap.String("session_id", token.ID),
		zap.String("ip", meta.IP),
	)

	details := map[string]interface{}{"replaced_by": *token.ReplacedByID}
	if successor := s.successor(ctx, *token.ReplacedByID); successor != nil {
		details["replacement_active"] = successor.IsValid(s.clock.Now())
		details["replacement_device"] = successor.DeviceInfo
	}
	if s.cfg.RevokeAllOnReuse {
		count, err := s.RevokeAllForUser(ctx, token.UserID)
		if err != nil {
			s.logger.Error("failed to revoke sessions after reuse", zap.String("user_id", token.UserID), zap.Error(err))
		} else {
			details["revoked_sessions"] = count
		}
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditEvent{
			Action:    models.AuditActionReuseDetected,
			UserID:    token.UserID,
			SessionID: token.ID,
			Meta:      meta,
			Details:   details,
		})
	}
}

// Revoke revokes the token if it exists and reports whether this call flipped
// it. Unknown or already revoked tokens are a silent no-op.
func (s *RefreshTokenService) Revoke(ctx context.Context, tokenHash string) (*models.RefreshToken, bool, error) {
	if tokenHash == "" {
		return nil, false, nil
	}
	token, err := s.find(ctx, tokenHash)
	if err != nil || token == nil {
		return nil, false, err
	}
	var changed bool
	now := s.clock.Now()
	err = s.withStore(ctx, "revoke", func(ctx context.Context) error {
		var err error
		changed, err = s.store.RevokeByHash(ctx, tokenHash, now)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return token, changed, nil
}

// RevokeAllForUser revokes every active token of userID in one unit and
// returns how many were revoked.
func (s *RefreshTokenService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, appErrors.Validation("invalid revoke request", map[string]string{"user_id": "required"})
	}
	var count int64
	now := s.clock.Now()
	err := s.withStore(ctx, "revoke_all", func(ctx context.Context) error {
		var err error
		count, err = s.store.RevokeAllForUser(ctx, userID, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RevokeSession revokes one session owned by userID. Identifiers that are
// not UUIDs cannot name a session and report not found without a store call.
func (s *RefreshTokenService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if userID == "" {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	var changed bool
	now := s.clock.Now()
	err = s.withStore(ctx, "revoke_session", func(ctx context.Context) error {
		var err error
		changed, err = s.store.RevokeSession(ctx, userID, id.String(), now)
		return err
	})
	if err != nil {
		return err
	}
	if !changed {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	return nil
}

// ListSessions returns the active sessions of userID, newest first.
func (s *RefreshTokenService) ListSessions(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	var sessions []models.RefreshToken
	now := s.clock.Now()
	err := s.withStore(ctx, "list_sessions", func(ctx context.Context) error {
		var err error
		sessions, err = s.store.ListActiveByUser(ctx, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// CleanupExpired soft-deletes revoked or expired tokens created more than
// retention ago. Running it again without new candidates changes nothing.
func (s *RefreshTokenService) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	now := s.clock.Now()
	var count int64
	err := s.withStore(ctx, "cleanup", func(ctx context.Context) error {
		var err error
		count, err = s.store.SoftDeleteExpired(ctx, now, now.Add(-retention))
		return err
	})
	return count, err
}

// Compact hard-deletes rows that were soft-deleted more than age ago.
func (s *RefreshTokenService) Compact(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, nil
	}
	now := s.clock.Now()
	var count int64
	err := s.withStore(ctx, "compact", func(ctx context.Context) error {
		var err error
		count, err = s.store.PurgeDeleted(ctx, now.Add(-age))
		return err
	})
	return count, err
}

// successor loads the token that replaced a rotated one, or nil.
func (s *RefreshTokenService) successor(ctx context.Context, id string) *models.RefreshToken {
	var token *models.RefreshToken
	err := s.withStore(ctx, "find_by_id", func(ctx context.Context) error {
		var err error
		token, err = s.store.FindByID(ctx, id)
		return err
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to load replacement token", zap.String("session_id", id), zap.Error(err))
		}
		return nil
	}
	return token
}

func (s *RefreshTokenService) find(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token *models.RefreshToken
	err := s.withStore(ctx, "find", func(ctx context.Context) error {
		var err error
		token, err = s.store.FindByHash(ctx, tokenHash)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return token, nil
}

// withStore bounds a store round-trip by the store timeout and maps a
// deadline to ErrStoreTimeout. sql.ErrNoRows and ErrRefreshTokenInactive pass
// through for the caller to interpret.
func (s *RefreshTokenService) withStore(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(opCtx)
	s.metrics.ObserveStoreOperation(operation, time.Since(start))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, repository.ErrRefreshTokenInactive):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return appErrors.WithCause(appErrors.ErrStoreTimeout, err)
	default:
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "refresh token store failure")
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
