package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/internal/service"
	appErrors "github.com/noah-isme/fintrack-auth/pkg/errors"
	"github.com/noah-isme/fintrack-auth/pkg/response"
)

// CSRF enforces the double-submit token on state-changing requests. exempt
// lists route patterns, as reported by gin's FullPath, that are reachable
// without a session.
func CSRF(header string, exempt []string, metrics *service.MetricsService) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(exempt))
	for _, path := range exempt {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			c.Next()
			return
		}
		if _, ok := skip[c.FullPath()]; ok {
			c.Next()
			return
		}

		cookie, err := c.Cookie(models.CSRFTokenCookie)
		submitted := c.GetHeader(header)
		if err != nil || cookie == "" || submitted == "" ||
			subtle.ConstantTimeCompare([]byte(cookie), []byte(submitted)) != 1 {
			metrics.RecordCSRFRejection()
			response.Abort(c, appErrors.ErrCSRF)
			return
		}
		c.Next()
	}
}
