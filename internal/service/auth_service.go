package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-auth/internal/models"
	appErrors "github.com/noah-isme/fintrack-auth/pkg/errors"
	"github.com/noah-isme/fintrack-auth/pkg/tokenhash"
)

type refreshTokenManager interface {
	Lifetime() time.Duration
	Create(ctx context.Context, userID, tokenHash string, meta models.ClientMeta) (*models.RefreshToken, error)
	Validate(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, tokenHash, newHash string, meta models.ClientMeta) (*models.RefreshToken, error)
	CheckReuse(ctx context.Context, tokenHash string, meta models.ClientMeta)
	Revoke(ctx context.Context, tokenHash string) (*models.RefreshToken, bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	ListSessions(ctx context.Context, userID string) ([]models.RefreshToken, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	// IdentityTimeout bounds calls into the identity provider.
	IdentityTimeout time.Duration
}

// AuthService issues, rotates and ends sessions.
type AuthService struct {
	identity  IdentityProvider
	refresh   refreshTokenManager
	secrets   SecretsProvider
	codec     *TokenCodec
	hasher    *tokenhash.Hasher
	validator *validator.Validate
	audit     auditRecorder
	metrics   *MetricsService
	clock     Clock
	logger    *zap.Logger
	config    AuthConfig
}

// AuthDependencies groups the collaborators of AuthService.
type AuthDependencies struct {
	Identity  IdentityProvider
	Refresh   refreshTokenManager
	Secrets   SecretsProvider
	Hasher    *tokenhash.Hasher
	Validator *validator.Validate
	Audit     auditRecorder
	Metrics   *MetricsService
	Clock     Clock
	Logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDependencies, config AuthConfig) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Hasher == nil {
		deps.Hasher = tokenhash.New("")
	}
	if config.IdentityTimeout <= 0 {
		config.IdentityTimeout = 3 * time.Second
	}
	return &AuthService{
		identity:  deps.Identity,
		refresh:   deps.Refresh,
		secrets:   deps.Secrets,
		codec:     NewTokenCodec(deps.Secrets.Issuer(), deps.Secrets.Audience(), deps.Clock),
		hasher:    deps.Hasher,
		validator: deps.Validator,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger,
		config:    config,
	}
}

// Login verifies credentials and opens a new session.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, meta models.ClientMeta) (*models.SessionTokens, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordLogin(OutcomeRejected)
		return nil, validationError("invalid login payload", err)
	}

	identity, err := s.verifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrCredentialsRejected) {
			s.metrics.RecordLogin(OutcomeRejected)
			s.record(ctx, AuditEvent{Action: models.AuditActionLoginFailed, Meta: meta})
			return nil, appErrors.ErrInvalidCredentials
		}
		s.metrics.RecordLogin(OutcomeError)
		return nil, err
	}

	tokens, err := s.openSession(ctx, identity, meta)
	if err != nil {
		s.metrics.RecordLogin(OutcomeError)
		return nil, err
	}

	s.metrics.RecordLogin(OutcomeSuccess)
	s.record(ctx, AuditEvent{Action: models.AuditActionLogin, UserID: identity.ID, SessionID: tokens.SessionID, Meta: meta})
	return tokens, nil
}

// Refresh exchanges a refresh token for a new token pair, rotating the
// presented token.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta models.ClientMeta) (*models.SessionTokens, error) {
	tokens, err := s.refreshSession(ctx, rawRefresh, meta)
	switch {
	case err == nil:
		s.metrics.RecordRefresh(OutcomeSuccess)
	case errors.Is(err, appErrors.ErrInvalidRefreshToken):
		s.metrics.RecordRefresh(OutcomeRejected)
	default:
		s.metrics.RecordRefresh(OutcomeError)
	}
	return tokens, err
}

func (s *AuthService) refreshSession(ctx context.Context, rawRefresh string, meta models.ClientMeta) (*models.SessionTokens, error) {
	if rawRefresh == "" {
		return nil, appErrors.ErrInvalidRefreshToken
	}
	presentedHash := s.hasher.Hash(rawRefresh)

	current, err := s.refresh.Validate(ctx, presentedHash)
	if err != nil {
		return nil, err
	}
	if current == nil {
		s.refresh.CheckReuse(ctx, presentedHash, meta)
		return nil, appErrors.ErrInvalidRefreshToken
	}

	identity, err := s.lookupIdentity(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			if _, _, revokeErr := s.refresh.Revoke(ctx, presentedHash); revokeErr != nil {
				s.logger.Warn("failed to revoke orphaned refresh token", zap.String("session_id", current.ID), zap.Error(revokeErr))
			}
			return nil, appErrors.ErrInvalidRefreshToken
		}
		return nil, err
	}

	// Sign before rotating so a signing outage does not consume the refresh token.
	accessToken, accessExpiresAt, err := s.issueAccessToken(ctx, identity)
	if err != nil {
		return nil, err
	}

	rawNext, err := s.hasher.Generate()
	if err != nil {
		return nil, appErrors.WithCause(appErrors.ErrTokenGeneration, err)
	}
	next, err := s.refresh.Rotate(ctx, presentedHash, s.hasher.Hash(rawNext), meta)
	if err != nil {
		return nil, err
	}

	csrfToken, err := s.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	s.record(ctx, AuditEvent{Action: models.AuditActionRefresh, UserID: identity.ID, SessionID: next.ID, Meta: meta,
		Details: map[string]interface{}{"rotated_from": current.ID}})

	return &models.SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     rawNext,
		RefreshExpiresAt: next.ExpiresAt,
		CSRFToken:        csrfToken,
		User:             models.NewUserInfo(identity),
		SessionID:        next.ID,
	}, nil
}

// Logout revokes the presented refresh token if any. Only a token this call
// actually revoked is audited. Failures are logged and never surfaced.
func (s *AuthService) Logout(ctx context.Context, rawRefresh string, meta models.ClientMeta) {
	if rawRefresh == "" {
		return
	}
	token, revoked, err := s.refresh.Revoke(ctx, s.hasher.Hash(rawRefresh))
	if err != nil {
		s.logger.Warn("logout revoke failed", zap.Error(err))
		return
	}
	if revoked {
		s.record(ctx, AuditEvent{Action: models.AuditActionLogout, UserID: token.UserID, SessionID: token.ID, Meta: meta})
	}
}

// LogoutAll revokes every session of userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, meta models.ClientMeta) (int64, error) {
	count, err := s.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.record(ctx, AuditEvent{Action: models.AuditActionLogoutAll, UserID: userID, Meta: meta,
		Details: map[string]interface{}{"revoked_sessions": count}})
	return count, nil
}

// Authenticate verifies an access token for protected routes.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.AccessClaims, error) {
	if accessToken == "" {
		return nil, appErrors.ErrUnauthorized
	}
	key, err := s.secrets.SigningKey(ctx)
	if err != nil {
		return nil, appErrors.WithCause(appErrors.ErrAuthUnavailable, err)
	}
	claims, err := s.codec.Verify(accessToken, key)
	if err != nil {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}

// CurrentUser resolves the profile of an authenticated subject.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.UserInfo, error) {
	identity, err := s.lookupIdentity(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, err
	}
	info := models.NewUserInfo(identity)
	return &info, nil
}

// ListSessions returns the active device sessions of userID.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	return s.refresh.ListSessions(ctx, userID)
}

// RevokeSession ends one device session of userID.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string, meta models.ClientMeta) error {
	if err := s.refresh.RevokeSession(ctx, userID, sessionID); err != nil {
		return err
	}
	s.record(ctx, AuditEvent{Action: models.AuditActionSessionRevoke, UserID: userID, SessionID: sessionID, Meta: meta})
	return nil
}

// NewCSRFToken returns a fresh double-submit token.
func (s *AuthService) NewCSRFToken() (string, error) {
	token, err := s.hasher.Generate()
	if err != nil {
		return "", appErrors.WithCause(appErrors.ErrTokenGeneration, err)
	}
	return token, nil
}

// AccessTokenTTL reports the lifetime of issued access tokens.
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.secrets.AccessTokenTTL()
}

// Now reports the service clock.
func (s *AuthService) Now() time.Time {
	return s.clock.Now()
}

// RefreshTokenLifetime reports the lifetime of issued refresh tokens.
func (s *AuthService) RefreshTokenLifetime() time.Duration {
	return s.refresh.Lifetime()
}

func (s *AuthService) openSession(ctx context.Context, identity models.UserIdentity, meta models.ClientMeta) (*models.SessionTokens, error) {
	accessToken, accessExpiresAt, err := s.issueAccessToken(ctx, identity)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := s.hasher.Generate()
	if err != nil {
		return nil, appErrors.WithCause(appErrors.ErrTokenGeneration, err)
	}
	if meta.Device == "" {
		meta.Device = models.DeviceUnknown
	}
	record, err := s.refresh.Create(ctx, identity.ID, s.hasher.Hash(rawRefresh), meta)
	if err != nil {
		return nil, err
	}

	csrfToken, err := s.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	return &models.SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     rawRefresh,
		RefreshExpiresAt: record.ExpiresAt,
		CSRFToken:        csrfToken,
		User:             models.NewUserInfo(identity),
		SessionID:        record.ID,
	}, nil
}

func (s *AuthService) issueAccessToken(ctx context.Context, identity models.UserIdentity) (string, time.Time, error) {
	key, err := s.secrets.SigningKey(ctx)
	if err != nil {
		return "", time.Time{}, appErrors.WithCause(appErrors.ErrTokenGeneration, err)
	}
	token, expiresAt, err := s.codec.Issue(identity.ID, identity.Email, s.secrets.AccessTokenTTL(), key)
	if err != nil {
		return "", time.Time{}, appErrors.WithCause(appErrors.ErrTokenGeneration, err)
	}
	return token, expiresAt, nil
}

func (s *AuthService) verifyCredentials(ctx context.Context, email, password string) (models.UserIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.IdentityTimeout)
	defer cancel()
	identity, err := s.identity.VerifyCredentials(ctx, email, password)
	return identity, s.identityError(ctx, err)
}

func (s *AuthService) lookupIdentity(ctx context.Context, userID string) (models.UserIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.IdentityTimeout)
	defer cancel()
	identity, err := s.identity.LookupIdentity(ctx, userID)
	return identity, s.identityError(ctx, err)
}

func (s *AuthService) identityError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCredentialsRejected), errors.Is(err, ErrIdentityNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return appErrors.WithCause(appErrors.ErrStoreTimeout, err)
	default:
		return appErrors.WithCause(appErrors.ErrAuthUnavailable, err)
	}
}

func (s *AuthService) record(ctx context.Context, event AuditEvent) {
	if s.audit != nil {
		s.audit.Record(ctx, event)
	}
}

func validationError(message string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Validation(message, nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return appErrors.Validation(message, fields)
}
