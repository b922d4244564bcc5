package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Cookie names carrying the session credentials.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	CSRFTokenCookie    = "csrf_token"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// ClientMeta describes the client a session is issued to.
type ClientMeta struct {
	IP        string
	UserAgent string
	Device    DeviceType
}

// UserIdentity is the principal returned by credential verification.
type UserIdentity struct {
	ID       string
	Email    string
	FullName string
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// NewUserInfo projects an identity into its response shape.
func NewUserInfo(identity UserIdentity) UserInfo {
	return UserInfo{ID: identity.ID, Email: identity.Email, FullName: identity.FullName}
}

// AccessClaims represents the JWT payload for access tokens.
type AccessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionTokens is the credential set produced by login and refresh. The raw
// values are only ever handed to the cookie writer.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string
	User             UserInfo
	SessionID        string
}

// SessionResponse is the JSON body returned by login and refresh.
type SessionResponse struct {
	User             UserInfo  `json:"user"`
	SessionID        string    `json:"session_id"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	CSRFToken        string    `json:"csrf_token"`
}

// NewSessionResponse builds the response body for a freshly issued session.
func NewSessionResponse(tokens *SessionTokens, now time.Time) SessionResponse {
	return SessionResponse{
		User:             tokens.User,
		SessionID:        tokens.SessionID,
		ExpiresIn:        int64(tokens.AccessExpiresAt.Sub(now).Seconds()),
		AccessExpiresAt:  tokens.AccessExpiresAt,
		RefreshExpiresAt: tokens.RefreshExpiresAt,
		CSRFToken:        tokens.CSRFToken,
	}
}

// SessionView is one device session as listed to its owner.
type SessionView struct {
	ID         string     `json:"id"`
	DeviceInfo DeviceType `json:"device_info"`
	UserAgent  string     `json:"user_agent"`
	IPAddress  string     `json:"ip_address"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// NewSessionViews projects active refresh tokens into their listing shape.
func NewSessionViews(tokens []RefreshToken) []SessionView {
	views := make([]SessionView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, SessionView{
			ID:         t.ID,
			DeviceInfo: t.DeviceInfo,
			UserAgent:  t.UserAgent,
			IPAddress:  t.IPAddress,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
		})
	}
	return views
}
