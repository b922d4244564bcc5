package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fintrack-auth/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var refreshTokenRowColumns = []string{"id", "user_id", "token_hash", "device_info", "user_agent", "ip_address", "expires_at", "is_revoked", "revoked_at", "replaced_by_id", "is_deleted", "deleted_at", "created_at", "updated_at"}

func TestRefreshTokenCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{UserID: "u1", TokenHash: "hash", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(context.Background(), token))
	assert.NotEmpty(t, token.ID)
	assert.Equal(t, models.DeviceUnknown, token.DeviceInfo)
	assert.False(t, token.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenFindByHash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(refreshTokenRowColumns).
		AddRow("t1", "u1", "hash", "web", "ua", "127.0.0.1", now.Add(time.Hour), false, nil, nil, false, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash = $1 LIMIT 1")).
		WithArgs("hash").
		WillReturnRows(rows)

	token, err := repo.FindByHash(context.Background(), "hash")
	require.NoError(t, err)
	assert.Equal(t, "u1", token.UserID)
	assert.Equal(t, models.DeviceWeb, token.DeviceInfo)
	assert.True(t, token.IsValid(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenFindByHashNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectQuery("FROM refresh_tokens WHERE token_hash").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRotateCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	replacement := &models.RefreshToken{ID: "t2", UserID: "u1", TokenHash: "new", DeviceInfo: models.DeviceWeb, ExpiresAt: now.Add(time.Hour), CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2, replaced_by_id = $3")).
		WithArgs("t1", now, "t2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Rotate(context.Background(), "t1", replacement, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRotateLosesRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET is_revoked = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "t1", &models.RefreshToken{UserID: "u1", TokenHash: "new", ExpiresAt: now.Add(time.Hour)}, now)
	assert.ErrorIs(t, err, ErrRefreshTokenInactive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRotateRollsBackFailedInsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET is_revoked = TRUE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "t1", &models.RefreshToken{UserID: "u1", TokenHash: "new", ExpiresAt: now.Add(time.Hour)}, now)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRefreshTokenInactive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRevokeByHash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("WHERE token_hash = $1 AND is_revoked = FALSE")).
		WithArgs("hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE token_hash = $1 AND is_revoked = FALSE")).
		WithArgs("hash", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.RevokeByHash(context.Background(), "hash", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.RevokeByHash(context.Background(), "hash", now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND is_revoked = FALSE AND is_deleted = FALSE")).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	count, err := repo.RevokeAllForUser(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRevokeAllRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.RevokeAllForUser(context.Background(), "u1", time.Now())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenSoftDeleteExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	cutoff := now.Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("SET is_deleted = TRUE, deleted_at = $1, updated_at = $1 WHERE is_deleted = FALSE AND (is_revoked = TRUE OR expires_at < $1) AND created_at < $2")).
		WithArgs(now, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	count, err := repo.SoftDeleteExpired(context.Background(), now, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenPurgeDeleted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	cutoff := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE is_deleted = TRUE AND deleted_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := repo.PurgeDeleted(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenListActiveByUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(refreshTokenRowColumns).
		AddRow("t2", "u1", "h2", "mobile", "ua", "10.0.0.2", now.Add(time.Hour), false, nil, nil, false, nil, now, now).
		AddRow("t1", "u1", "h1", "web", "ua", "10.0.0.1", now.Add(time.Hour), false, nil, nil, false, nil, now.Add(-time.Hour), now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND is_revoked = FALSE AND is_deleted = FALSE AND expires_at > $2 ORDER BY created_at DESC")).
		WithArgs("u1", now).
		WillReturnRows(rows)

	tokens, err := repo.ListActiveByUser(context.Background(), "u1", now)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "t2", tokens[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
