package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/fintrack-auth/internal/models"
)

var (
	// ErrCredentialsRejected is returned for unknown users, wrong passwords and
	// inactive accounts alike.
	ErrCredentialsRejected = errors.New("credentials rejected")
	// ErrIdentityNotFound is returned when a token subject no longer resolves.
	ErrIdentityNotFound = errors.New("identity not found")
)

// IdentityProvider verifies credentials and resolves token subjects.
type IdentityProvider interface {
	VerifyCredentials(ctx context.Context, email, password string) (models.UserIdentity, error)
	LookupIdentity(ctx context.Context, userID string) (models.UserIdentity, error)
}

type userDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// CredentialService checks bcrypt password hashes stored in the user directory.
type CredentialService struct {
	users  userDirectory
	logger *zap.Logger
	// dummyHash equalises timing between unknown users and wrong passwords.
	dummyHash []byte
}

// NewCredentialService constructs a credential verifier.
func NewCredentialService(users userDirectory, logger *zap.Logger) *CredentialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("fintrack-timing-equaliser"), bcrypt.DefaultCost)
	return &CredentialService{users: users, logger: logger, dummyHash: dummy}
}

func (s *CredentialService) VerifyCredentials(ctx context.Context, email, password string) (models.UserIdentity, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return models.UserIdentity{}, ErrCredentialsRejected
		}
		return models.UserIdentity{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.UserIdentity{}, ErrCredentialsRejected
	}
	if !user.Active {
		return models.UserIdentity{}, ErrCredentialsRejected
	}
	return user.Identity(), nil
}

func (s *CredentialService) LookupIdentity(ctx context.Context, userID string) (models.UserIdentity, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UserIdentity{}, ErrIdentityNotFound
		}
		return models.UserIdentity{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return models.UserIdentity{}, ErrIdentityNotFound
	}
	return user.Identity(), nil
}

// SeedUsers registers "email:password" pairs, skipping malformed entries and
// emails that already exist.
func (s *CredentialService) SeedUsers(ctx context.Context, pairs []string) error {
	for _, pair := range pairs {
		email, password, ok := strings.Cut(pair, ":")
		email = strings.TrimSpace(email)
		if !ok || email == "" || password == "" {
			s.logger.Warn("skipping malformed dev user entry")
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash dev user password: %w", err)
		}
		name, _, _ := strings.Cut(email, "@")
		if err := s.users.Create(ctx, &models.User{
			Email:        email,
			PasswordHash: string(hash),
			FullName:     name,
			Active:       true,
		}); err != nil {
			return fmt.Errorf("seed dev user %s: %w", email, err)
		}
		s.logger.Info("seeded dev user", zap.String("email", email))
	}
	return nil
}
