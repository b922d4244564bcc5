package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/internal/repository"
)

func TestCredentialServiceVerify(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), FullName: "User", Active: true}))
	require.NoError(t, users.Create(context.Background(), &models.User{ID: "u2", Email: "inactive@example.com", PasswordHash: string(hash), Active: false}))

	svc := NewCredentialService(users, nil)

	identity, err := svc.VerifyCredentials(context.Background(), "USER@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)

	_, err = svc.VerifyCredentials(context.Background(), "user@example.com", "wrong")
	assert.ErrorIs(t, err, ErrCredentialsRejected)
	_, err = svc.VerifyCredentials(context.Background(), "ghost@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrCredentialsRejected)
	_, err = svc.VerifyCredentials(context.Background(), "inactive@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrCredentialsRejected)

	_, err = svc.LookupIdentity(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
	found, err := svc.LookupIdentity(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", found.Email)
}

func TestCredentialServiceSeedUsers(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	svc := NewCredentialService(users, nil)

	require.NoError(t, svc.SeedUsers(context.Background(), []string{"dev@example.com:secret", "broken", ":nopass"}))

	identity, err := svc.VerifyCredentials(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "dev", identity.FullName)
}
