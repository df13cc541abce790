package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/auth"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// ActiveCheck returns an error when the account may no longer call the API.
type ActiveCheck func(ctx context.Context, userID string) error

// JWT validates the bearer token and stores the principal on the context.
// With a non-nil active check, tokens of suspended or deleted accounts stop
// working before they expire.
func JWT(tokens *auth.Tokens, active ActiveCheck) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				// websocket clients cannot set headers
				raw = c.QueryParam("token")
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization header"})
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			if active != nil {
				if err := active(c.Request().Context(), claims.UserID); err != nil {
					if apperr.KindOf(err) == apperr.KindNotFound {
						return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
					}
					return apperr.JSON(c, err)
				}
			}
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// PrincipalFrom returns the caller set by JWT.
func PrincipalFrom(c echo.Context) (Principal, bool) {
	uid, _ := c.Get(ctxUserID).(string)
	role, _ := c.Get(ctxRole).(string)
	return Principal{UserID: uid, Role: role}, uid != ""
}
