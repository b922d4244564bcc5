package models

import (
	"errors"
	"strings"
	"time"
)

// ErrRefreshTokenAlreadyRevoked signals a second revocation of the same record.
var ErrRefreshTokenAlreadyRevoked = errors.New("refresh token already revoked")

// DeviceType classifies the client a refresh token was issued to.
type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
	DeviceUnknown DeviceType = "unknown"
)

// ParseDeviceType normalises a client supplied hint.
func ParseDeviceType(raw string) DeviceType {
	switch DeviceType(strings.ToLower(strings.TrimSpace(raw))) {
	case DeviceWeb:
		return DeviceWeb
	case DeviceMobile:
		return DeviceMobile
	case DeviceDesktop:
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

// RefreshToken represents a persisted refresh token session. Only the hash of
// the secret is stored.
type RefreshToken struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	TokenHash    string     `db:"token_hash" json:"-"`
	DeviceInfo   DeviceType `db:"device_info" json:"device_info"`
	UserAgent    string     `db:"user_agent" json:"user_agent"`
	IPAddress    string     `db:"ip_address" json:"ip_address"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	IsRevoked    bool       `db:"is_revoked" json:"is_revoked"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedByID *string    `db:"replaced_by_id" json:"replaced_by_id,omitempty"`
	IsDeleted    bool       `db:"is_deleted" json:"-"`
	DeletedAt    *time.Time `db:"deleted_at" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// IsValid reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsRevoked && !t.IsDeleted && now.Before(t.ExpiresAt)
}

// Revoke flips the revoked flag. Revocation is monotonic.
func (t *RefreshToken) Revoke(now time.Time) error {
	if t.IsRevoked {
		return ErrRefreshTokenAlreadyRevoked
	}
	t.IsRevoked = true
	t.RevokedAt = &now
	t.UpdatedAt = now
	return nil
}

// MarkDeleted soft-deletes the record. It reports false when already deleted.
func (t *RefreshToken) MarkDeleted(now time.Time) bool {
	if t.IsDeleted {
		return false
	}
	t.IsDeleted = true
	t.DeletedAt = &now
	t.UpdatedAt = now
	return true
}

// WasRotated reports whether the token was consumed by a rotation.
func (t *RefreshToken) WasRotated() bool {
	return t.ReplacedByID != nil && *t.ReplacedByID != ""
}
