package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/fintrack-auth/internal/models"
	appErrors "github.com/noah-isme/fintrack-auth/pkg/errors"
)

type authenticatorStub struct {
	valid string
	err   error
	seen  []string
}

func (a *authenticatorStub) Authenticate(_ context.Context, token string) (*models.AccessClaims, error) {
	a.seen = append(a.seen, token)
	if a.err != nil {
		return nil, a.err
	}
	if token == "" || token != a.valid {
		return nil, appErrors.ErrUnauthorized
	}
	return &models.AccessClaims{Email: "user@example.com", RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}, nil
}

func newJWTRouter(auth authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", JWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).Subject)
	})
	return router
}

func TestJWTAcceptsBearerHeader(t *testing.T) {
	router := newJWTRouter(&authenticatorStub{valid: "good"})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestJWTAcceptsAccessCookie(t *testing.T) {
	router := newJWTRouter(&authenticatorStub{valid: "good"})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: models.AccessTokenCookie, Value: "good"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		cookie string
	}{
		{name: "missing"},
		{name: "malformed header", header: "Token good"},
		{name: "wrong token", header: "Bearer bad"},
		{name: "wrong cookie", cookie: "bad"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newJWTRouter(&authenticatorStub{valid: "good"})
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: models.AccessTokenCookie, Value: tc.cookie})
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
		})
	}
}

func TestJWTSecretsOutage(t *testing.T) {
	router := newJWTRouter(&authenticatorStub{err: appErrors.WithCause(appErrors.ErrAuthUnavailable, errors.New("vault sealed"))})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "vault")
}
