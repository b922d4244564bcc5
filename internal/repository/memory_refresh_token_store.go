package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/fintrack-auth/internal/models"
)

// MemoryRefreshTokenStore keeps refresh tokens in process memory. It backs the
// development driver and mirrors the compare-and-swap semantics of the SQL store.
type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	byID   map[string]*models.RefreshToken
	byHash map[string]string
}

// NewMemoryRefreshTokenStore creates an empty store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byID:   make(map[string]*models.RefreshToken),
		byHash: make(map[string]string),
	}
}

func (s *MemoryRefreshTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(token)
}

func (s *MemoryRefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyToken(s.byID[id]), nil
}

func (s *MemoryRefreshTokenStore) FindByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyToken(token), nil
}

func (s *MemoryRefreshTokenStore) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]models.RefreshToken, 0)
	for _, token := range s.byID {
		if token.UserID == userID && token.IsValid(now) {
			tokens = append(tokens, *copyToken(token))
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *MemoryRefreshTokenStore) Rotate(ctx context.Context, oldID string, replacement *models.RefreshToken, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepareInsert(replacement)

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[oldID]
	if !ok || !current.IsValid(now) {
		return ErrRefreshTokenInactive
	}
	if _, taken := s.byHash[replacement.TokenHash]; taken {
		return errDuplicateHash
	}
	if err := current.Revoke(now); err != nil {
		return ErrRefreshTokenInactive
	}
	replacedBy := replacement.ID
	current.ReplacedByID = &replacedBy
	return s.insertLocked(replacement)
}

func (s *MemoryRefreshTokenStore) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[tokenHash]
	if !ok {
		return false, nil
	}
	return s.byID[id].Revoke(now) == nil, nil
}

func (s *MemoryRefreshTokenStore) RevokeSession(ctx context.Context, userID, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.byID[id]
	if !ok || token.UserID != userID || token.IsDeleted {
		return false, nil
	}
	return token.Revoke(now) == nil, nil
}

func (s *MemoryRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, token := range s.byID {
		if token.UserID != userID || token.IsDeleted {
			continue
		}
		if token.Revoke(now) == nil {
			count++
		}
	}
	return count, nil
}

func (s *MemoryRefreshTokenStore) SoftDeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, token := range s.byID {
		if !(token.IsRevoked || token.ExpiresAt.Before(now)) || !token.CreatedAt.Before(createdBefore) {
			continue
		}
		if token.MarkDeleted(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryRefreshTokenStore) PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, token := range s.byID {
		if token.IsDeleted && token.DeletedAt != nil && token.DeletedAt.Before(deletedBefore) {
			delete(s.byHash, token.TokenHash)
			delete(s.byID, id)
			count++
		}
	}
	return count, nil
}

// Ping always succeeds.
func (s *MemoryRefreshTokenStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryRefreshTokenStore) insertLocked(token *models.RefreshToken) error {
	prepareInsert(token)
	if _, taken := s.byHash[token.TokenHash]; taken {
		return errDuplicateHash
	}
	if _, taken := s.byID[token.ID]; taken {
		return errDuplicateID
	}
	s.byID[token.ID] = copyToken(token)
	s.byHash[token.TokenHash] = token.ID
	return nil
}

func copyToken(token *models.RefreshToken) *models.RefreshToken {
	clone := *token
	if token.RevokedAt != nil {
		at := *token.RevokedAt
		clone.RevokedAt = &at
	}
	if token.DeletedAt != nil {
		at := *token.DeletedAt
		clone.DeletedAt = &at
	}
	if token.ReplacedByID != nil {
		id := *token.ReplacedByID
		clone.ReplacedByID = &id
	}
	return &clone
}
