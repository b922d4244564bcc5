package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/pkg/config"
)

// CookieGateway writes and clears the session cookies.
type CookieGateway struct {
	secure      bool
	sameSite    http.SameSite
	domain      string
	accessPath  string
	refreshPath string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// NewCookieGateway scopes the access cookie to apiPrefix and the refresh
// cookie to the auth routes below it.
func NewCookieGateway(cfg config.CookieConfig, apiPrefix string, accessTTL, refreshTTL time.Duration) *CookieGateway {
	accessPath := apiPrefix
	if accessPath == "" {
		accessPath = "/"
	}
	return &CookieGateway{
		secure:      cfg.Secure,
		sameSite:    cfg.SameSite,
		domain:      cfg.Domain,
		accessPath:  accessPath,
		refreshPath: apiPrefix + "/auth",
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

// SetSession writes all three cookies of a freshly issued session.
func (g *CookieGateway) SetSession(c *gin.Context, tokens *models.SessionTokens) {
	g.SecurityHeaders(c)
	g.set(c, models.AccessTokenCookie, tokens.AccessToken, g.accessPath, maxAge(g.accessTTL), true)
	g.set(c, models.RefreshTokenCookie, tokens.RefreshToken, g.refreshPath, maxAge(g.refreshTTL), true)
	g.SetCSRF(c, tokens.CSRFToken)
}

// SetCSRF writes the script-readable CSRF cookie.
func (g *CookieGateway) SetCSRF(c *gin.Context, token string) {
	g.set(c, models.CSRFTokenCookie, token, "/", maxAge(g.refreshTTL), false)
}

// Clear expires every session cookie.
func (g *CookieGateway) Clear(c *gin.Context) {
	g.SecurityHeaders(c)
	g.set(c, models.AccessTokenCookie, "", g.accessPath, -1, true)
	g.set(c, models.RefreshTokenCookie, "", g.refreshPath, -1, true)
	g.set(c, models.CSRFTokenCookie, "", "/", -1, false)
}

// SecurityHeaders marks the response as sensitive.
func (g *CookieGateway) SecurityHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
}

func (g *CookieGateway) set(c *gin.Context, name, value, path string, maxAge int, httpOnly bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   g.domain,
		MaxAge:   maxAge,
		Secure:   g.secure,
		HttpOnly: httpOnly,
		SameSite: g.sameSite,
	})
}

func maxAge(d time.Duration) int {
	return int(d / time.Second)
}
