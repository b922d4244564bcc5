package middleware

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-auth/internal/service"
	appErrors "github.com/noah-isme/fintrack-auth/pkg/errors"
	"github.com/noah-isme/fintrack-auth/pkg/response"
)

// RateLimit charges each request to the client IP and rejects over-budget
// clients with 429.
func RateLimit(limiter *service.RateLimitService) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Allow(c.Request.Context(), c.ClientIP())
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			response.Abort(c, appErrors.ErrRateLimited)
			return
		}
		c.Next()
	}
}
