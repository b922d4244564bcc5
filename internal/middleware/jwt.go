package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-auth/internal/models"
	appErrors "github.com/noah-isme/fintrack-auth/pkg/errors"
	"github.com/noah-isme/fintrack-auth/pkg/response"
)

// ContextUserKey is the gin context key storing access token claims.
const ContextUserKey = "currentUser"

type authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.AccessClaims, error)
}

// JWT protects routes by requiring a valid access token, read from the
// Authorization header or the access token cookie.
func JWT(auth authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := accessToken(c)
		if !ok {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}

		claims, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if appErr := appErrors.FromError(err); appErr.Operational() {
				_ = c.Error(err)
			}
			response.Abort(c, err)
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// Claims returns the claims stored by JWT.
func Claims(c *gin.Context) *models.AccessClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.AccessClaims)
	return claims
}

func accessToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	cookie, err := c.Cookie(models.AccessTokenCookie)
	if err != nil {
		return "", true
	}
	return cookie, true
}
