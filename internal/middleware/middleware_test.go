package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/auth"
)

func serve(t *testing.T, h echo.HandlerFunc, mw []echo.MiddlewareFunc, header string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/", h, mw...)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAndRoles(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour, nil)
	seller, err := tokens.Issue("s1", "seller")
	require.NoError(t, err)

	whoami := func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		return c.String(http.StatusOK, p.UserID+"/"+p.Role)
	}

	rec := serve(t, whoami, []echo.MiddlewareFunc{JWT(tokens, nil)}, "Bearer "+seller)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1/seller", rec.Body.String())

	rec = serve(t, whoami, []echo.MiddlewareFunc{JWT(tokens, nil)}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, whoami, []echo.MiddlewareFunc{JWT(tokens, nil)}, "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, whoami, []echo.MiddlewareFunc{JWT(tokens, nil), RequireRoles("buyer")}, "Bearer "+seller)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, whoami, []echo.MiddlewareFunc{JWT(tokens, nil), AdminGuard}, "Bearer "+seller)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestJWTRejectsInactiveAccounts(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour, nil)
	statuses := map[string]string{"active": "", "frozen": "suspended"}
	active := func(_ context.Context, userID string) error {
		st, ok := statuses[userID]
		if !ok {
			return apperr.NotFound("user", userID)
		}
		if st != "" {
			return apperr.Forbidden("account %s", st)
		}
		return nil
	}
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	mw := []echo.MiddlewareFunc{JWT(tokens, active)}

	for user, want := range map[string]int{
		"active": http.StatusOK,
		"frozen": http.StatusForbidden,
		"gone":   http.StatusUnauthorized,
	} {
		tok, err := tokens.Issue(user, "buyer")
		require.NoError(t, err)
		rec := serve(t, ok, mw, "Bearer "+tok)
		assert.Equal(t, want, rec.Code, user)
	}

	tok, err := tokens.Issue("frozen", "buyer")
	require.NoError(t, err)
	rec := serve(t, ok, mw, "Bearer "+tok)
	assert.Contains(t, rec.Body.String(), "account suspended")
}
