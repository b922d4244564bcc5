package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-auth/internal/middleware"
	"github.com/noah-isme/fintrack-auth/internal/service"
)

// RouterDependencies carries everything RegisterRoutes mounts.
type RouterDependencies struct {
	APIPrefix   string
	CSRFHeader  string
	Auth        *AuthHandler
	Metrics     *MetricsHandler
	AuthService *service.AuthService
	RateLimiter *service.RateLimitService
	MetricsSvc  *service.MetricsService
}

// RegisterRoutes mounts the observability and auth endpoints on r.
func RegisterRoutes(r gin.IRouter, deps RouterDependencies) {
	r.GET("/health", deps.Metrics.Health)
	r.GET("/ready", deps.Metrics.Ready)
	r.GET("/metrics", deps.Metrics.Prometheus)

	authPrefix := deps.APIPrefix + "/auth"
	anonymous := []string{
		authPrefix + "/login",
		authPrefix + "/refresh",
		authPrefix + "/logout",
	}

	auth := r.Group(authPrefix)
	auth.Use(middleware.RateLimit(deps.RateLimiter))
	auth.Use(middleware.CSRF(deps.CSRFHeader, anonymous, deps.MetricsSvc))

	auth.POST("/login", deps.Auth.Login)
	auth.POST("/refresh", deps.Auth.Refresh)
	auth.POST("/logout", deps.Auth.Logout)
	auth.GET("/csrf", deps.Auth.CSRF)

	protected := auth.Group("")
	protected.Use(middleware.JWT(deps.AuthService))
	protected.POST("/logout-all", deps.Auth.LogoutAll)
	protected.GET("/me", deps.Auth.Me)
	protected.GET("/sessions", deps.Auth.Sessions)
	protected.DELETE("/sessions/:id", deps.Auth.RevokeSession)
}
