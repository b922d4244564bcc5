package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/fintrack-auth/internal/repository"
	"github.com/noah-isme/fintrack-auth/internal/service"
)

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	store := repository.NewMemoryRateLimitRepository(func() time.Time { return now })
	limiter := service.NewRateLimitService(store, service.RateLimitPolicyAuth, 2, time.Minute, nil, nil)

	router := gin.New()
	router.POST("/auth/login", RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "RATE_LIMITED")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
