package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fintrack-auth/internal/models"
)

// ErrRefreshTokenInactive is returned by Rotate when the presented token was
// revoked, expired or deleted before the swap could be applied.
var ErrRefreshTokenInactive = errors.New("refresh token no longer active")

const refreshTokenColumns = `id, user_id, token_hash, device_info, user_agent, ip_address, expires_at, is_revoked, revoked_at, replaced_by_id, is_deleted, deleted_at, created_at, updated_at`

const insertRefreshToken = `INSERT INTO refresh_tokens (id, user_id, token_hash, device_info, user_agent, ip_address, expires_at, is_revoked, is_deleted, created_at, updated_at) VALUES (:id, :user_id, :token_hash, :device_info, :user_agent, :ip_address, :expires_at, FALSE, FALSE, :created_at, :updated_at)`

// RefreshTokenRepository persists refresh tokens in PostgreSQL.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create inserts a new refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	prepareInsert(token)
	if _, err := r.db.NamedExecContext(ctx, insertRefreshToken, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByHash returns the record for a token hash regardless of its state.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var token models.RefreshToken
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token by hash: %w", err)
	}
	return &token, nil
}

// FindByID returns a refresh token by identifier.
func (r *RefreshTokenRepository) FindByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE id = $1 LIMIT 1`
	var token models.RefreshToken
	if err := r.db.GetContext(ctx, &token, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token by id: %w", err)
	}
	return &token, nil
}

// ListActiveByUser returns the user's sessions that can still be refreshed, newest first.
func (r *RefreshTokenRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE user_id = $1 AND is_revoked = FALSE AND is_deleted = FALSE AND expires_at > $2 ORDER BY created_at DESC`
	var tokens []models.RefreshToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID, now); err != nil {
		return nil, fmt.Errorf("list active refresh tokens: %w", err)
	}
	return tokens, nil
}

// Rotate revokes oldID and inserts replacement in one transaction. The revoke is
// a compare-and-swap so concurrent rotations of the same token yield one winner.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, replacement *models.RefreshToken, now time.Time) (err error) {
	prepareInsert(replacement)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const revoke = `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2, replaced_by_id = $3, updated_at = $2 WHERE id = $1 AND is_revoked = FALSE AND is_deleted = FALSE AND expires_at > $2`
	res, err := tx.ExecContext(ctx, revoke, oldID, now, replacement.ID)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	if affected == 0 {
		return ErrRefreshTokenInactive
	}

	if _, err = tx.NamedExecContext(ctx, insertRefreshToken, replacement); err != nil {
		return fmt.Errorf("insert replacement token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}

// RevokeByHash revokes the token if it is not revoked yet and reports whether a row changed.
func (r *RefreshTokenRepository) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	const query = `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2, updated_at = $2 WHERE token_hash = $1 AND is_revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, tokenHash, now)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return affected > 0, nil
}

// RevokeSession revokes a single session owned by userID.
func (r *RefreshTokenRepository) RevokeSession(ctx context.Context, userID, id string, now time.Time) (bool, error) {
	const query = `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $3, updated_at = $3 WHERE id = $1 AND user_id = $2 AND is_revoked = FALSE AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, userID, now)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return affected > 0, nil
}

// RevokeAllForUser revokes every unrevoked token of the user atomically.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (count int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin revoke all: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2, updated_at = $2 WHERE user_id = $1 AND is_revoked = FALSE AND is_deleted = FALSE`
	res, err := tx.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	count, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit revoke all: %w", err)
	}
	return count, nil
}

// SoftDeleteExpired marks revoked or expired tokens created before createdBefore as deleted.
func (r *RefreshTokenRepository) SoftDeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET is_deleted = TRUE, deleted_at = $1, updated_at = $1 WHERE is_deleted = FALSE AND (is_revoked = TRUE OR expires_at < $1) AND created_at < $2`
	res, err := r.db.ExecContext(ctx, query, now, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("soft delete expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// PurgeDeleted removes rows soft-deleted before deletedBefore.
func (r *RefreshTokenRepository) PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE is_deleted = TRUE AND deleted_at < $1`
	res, err := r.db.ExecContext(ctx, query, deletedBefore)
	if err != nil {
		return 0, fmt.Errorf("purge deleted refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks database connectivity.
func (r *RefreshTokenRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func prepareInsert(token *models.RefreshToken) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.DeviceInfo == "" {
		token.DeviceInfo = models.DeviceUnknown
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	token.UpdatedAt = token.CreatedAt
}

var (
	errDuplicateHash = errors.New("refresh token hash already exists")
	errDuplicateID   = errors.New("refresh token id already exists")
)
