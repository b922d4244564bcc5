package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/fintrack-auth/internal/models"
)

func newCSRFRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CSRF("X-CSRF-TOKEN", []string{"/auth/login"}, nil))
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	router.POST("/auth/login", ok)
	router.POST("/auth/logout-all", ok)
	router.GET("/auth/me", ok)
	router.DELETE("/auth/sessions/:id", ok)
	return router
}

func TestCSRFMatrix(t *testing.T) {
	cases := []struct {
		name   string
		method string
		path   string
		cookie string
		header string
		want   int
	}{
		{name: "safe method", method: http.MethodGet, path: "/auth/me", want: http.StatusNoContent},
		{name: "exempt route", method: http.MethodPost, path: "/auth/login", want: http.StatusNoContent},
		{name: "matching tokens", method: http.MethodPost, path: "/auth/logout-all", cookie: "abc", header: "abc", want: http.StatusNoContent},
		{name: "matching tokens on delete", method: http.MethodDelete, path: "/auth/sessions/1", cookie: "abc", header: "abc", want: http.StatusNoContent},
		{name: "missing header", method: http.MethodPost, path: "/auth/logout-all", cookie: "abc", want: http.StatusForbidden},
		{name: "missing cookie", method: http.MethodPost, path: "/auth/logout-all", header: "abc", want: http.StatusForbidden},
		{name: "mismatch", method: http.MethodPost, path: "/auth/logout-all", cookie: "abc", header: "abd", want: http.StatusForbidden},
		{name: "length mismatch", method: http.MethodDelete, path: "/auth/sessions/1", cookie: "abc", header: "abcd", want: http.StatusForbidden},
	}

	router := newCSRFRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: models.CSRFTokenCookie, Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set("X-CSRF-TOKEN", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), "CSRF_VALIDATION_FAILED")
			}
		})
	}
}
