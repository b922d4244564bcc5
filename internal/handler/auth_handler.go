package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-auth/internal/models"
	"github.com/noah-isme/fintrack-auth/internal/service"
	appErrors "github.com/noah-isme/fintrack-auth/pkg/errors"
	"github.com/noah-isme/fintrack-auth/pkg/logger"
	"github.com/noah-isme/fintrack-auth/pkg/response"
)

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service *service.AuthService
	cookies *CookieGateway
	logger  *zap.Logger
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService, cookies *CookieGateway, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{service: svc, cookies: cookies, logger: log}
}

// Login godoc
// @Summary Sign in
// @Description Verify credentials and open a cookie session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation("invalid login payload", nil))
		return
	}

	tokens, err := h.service.Login(c.Request.Context(), req, clientMeta(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.cookies.SetSession(c, tokens)
	response.JSON(c, http.StatusOK, models.NewSessionResponse(tokens, h.service.Now()))
}

// Refresh godoc
// @Summary Rotate session
// @Description Exchange the refresh cookie for a new token pair
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, _ := c.Cookie(models.RefreshTokenCookie)

	tokens, err := h.service.Refresh(c.Request.Context(), raw, clientMeta(c))
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidRefreshToken) {
			h.cookies.Clear(c)
		}
		h.fail(c, err)
		return
	}

	h.cookies.SetSession(c, tokens)
	response.JSON(c, http.StatusOK, models.NewSessionResponse(tokens, h.service.Now()))
}

// Logout godoc
// @Summary Sign out
// @Description Revoke the presented refresh token and clear cookies
// @Tags Authentication
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	raw, _ := c.Cookie(models.RefreshTokenCookie)
	h.service.Logout(c.Request.Context(), raw, clientMeta(c))
	h.cookies.Clear(c)
	response.NoContent(c)
}

// LogoutAll godoc
// @Summary Sign out everywhere
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Param X-CSRF-TOKEN header string true "CSRF token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	count, err := h.service.LogoutAll(c.Request.Context(), claims.Subject, clientMeta(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.cookies.Clear(c)
	response.JSON(c, http.StatusOK, gin.H{"revoked": count})
}

// Me godoc
// @Summary Current user
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info, err := h.service.CurrentUser(c.Request.Context(), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info)
}

// Sessions godoc
// @Summary List active sessions
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/sessions [get]
func (h *AuthHandler) Sessions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessions, err := h.service.ListSessions(c.Request.Context(), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	views := models.NewSessionViews(sessions)
	response.JSON(c, http.StatusOK, views, map[string]interface{}{"total": len(views)})
}

// RevokeSession godoc
// @Summary Revoke one session
// @Tags Authentication
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param X-CSRF-TOKEN header string true "CSRF token"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/sessions/{id} [delete]
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.RevokeSession(c.Request.Context(), claims.Subject, c.Param("id"), clientMeta(c)); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

// CSRF godoc
// @Summary Issue CSRF token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/csrf [get]
func (h *AuthHandler) CSRF(c *gin.Context) {
	token, err := h.service.NewCSRFToken()
	if err != nil {
		h.fail(c, err)
		return
	}
	h.cookies.SecurityHeaders(c)
	h.cookies.SetCSRF(c, token)
	response.JSON(c, http.StatusOK, gin.H{"csrf_token": token})
}

func (h *AuthHandler) fail(c *gin.Context, err error) {
	if appErr := appErrors.FromError(err); appErr.Operational() {
		logger.FromContext(h.logger, c).Error("auth request failed",
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	response.Error(c, err)
}
