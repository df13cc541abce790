package user

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/auth"
	"github.com/sudo-init-do/wastex/internal/middleware"
)

type Handler struct {
	svc            *Service
	tokens         *auth.Tokens
	bootstrapToken string
	appURL         string
}

func NewHandler(svc *Service, tokens *auth.Tokens, bootstrapToken, appURL string) *Handler {
	return &Handler{svc: svc, tokens: tokens, bootstrapToken: bootstrapToken, appURL: strings.TrimRight(appURL, "/")}
}

func (h *Handler) issue(c echo.Context, status int, u *User) error {
	token, err := h.tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(status, echo.Map{"token": token, "user": u.Profile()})
}

// =========================
// Signup - register a buyer or seller company account
// =========================
func (h *Handler) Signup(c echo.Context) error {
	var req RegisterInput
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return h.issue(c, http.StatusCreated, u)
}

// =========================
// Login
// =========================
func (h *Handler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return apperr.JSON(c, apperr.Validation("email and password are required"))
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return h.issue(c, http.StatusOK, u)
}

// Me returns the caller's own profile.
func (h *Handler) Me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.svc.Get(c.Request().Context(), p.UserID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u.Profile())
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), p.UserID, req)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u.Profile())
}

// GetPublicProfile shows another company without contact details.
func (h *Handler) GetPublicProfile(c echo.Context) error {
	u, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u.Public())
}

// BootstrapAdmin promotes an existing account to admin when the request
// carries the configured bootstrap token. Disabled when no token is set.
func (h *Handler) BootstrapAdmin(c echo.Context) error {
	given := c.Request().Header.Get("X-Bootstrap-Token")
	if h.bootstrapToken == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.bootstrapToken)) != 1 {
		return apperr.JSON(c, apperr.Forbidden("invalid bootstrap token"))
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return apperr.JSON(c, apperr.Validation("email is required"))
	}
	u, err := h.svc.SetRoleByEmail(c.Request().Context(), req.Email, RoleAdmin)
	if err != nil {
		return apperr.JSON(c, err)
	}
	log.Warnw("admin bootstrapped", "user", u.ID)
	return c.JSON(http.StatusOK, u.Profile())
}

// ListUsers is admin only.
func (h *Handler) ListUsers(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	users, err := h.svc.List(c.Request().Context(), ListFilter{
		Role:   c.QueryParam("role"),
		Status: c.QueryParam("status"),
		Search: c.QueryParam("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return apperr.JSON(c, err)
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return c.JSON(http.StatusOK, echo.Map{"users": out})
}

func (h *Handler) VerifyCompany(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	u, err := h.svc.VerifyCompany(c.Request().Context(), p.UserID, c.Param("id"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u.Profile())
}

func (h *Handler) Suspend(c echo.Context) error {
	return h.setStatus(c, StatusSuspended)
}

func (h *Handler) Activate(c echo.Context) error {
	return h.setStatus(c, StatusActive)
}

func (h *Handler) setStatus(c echo.Context, status Status) error {
	p, _ := middleware.PrincipalFrom(c)
	if c.Param("id") == p.UserID {
		return apperr.JSON(c, apperr.Validation("admins cannot change their own status"))
	}
	u, err := h.svc.SetStatus(c.Request().Context(), c.Param("id"), status)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u.Profile())
}

const resetTTL = 30 * time.Minute

// POST /auth/password/request
// Always answers with the same message to avoid user enumeration.
func (h *Handler) RequestPasswordReset(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err == nil && req.Email != "" {
		err := h.svc.RequestPasswordReset(c.Request().Context(), req.Email, func(u *User) (string, error) {
			token, err := h.tokens.IssueReset(u.ID, resetTTL)
			if err != nil {
				return "", err
			}
			return h.appURL + "/reset-password?token=" + url.QueryEscape(token), nil
		})
		if err != nil {
			log.Warnw("password reset request", "error", err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "If the email exists, a reset link has been sent."})
}

// POST /auth/password/reset
func (h *Handler) ResetPassword(c echo.Context) error {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return apperr.JSON(c, apperr.Validation("token and password are required"))
	}
	claims, err := h.tokens.ParseReset(req.Token)
	if err != nil {
		return apperr.JSON(c, apperr.New(apperr.KindAuthorization, apperr.CodeForbidden, "invalid or expired reset token"))
	}
	if err := h.svc.ResetPassword(c.Request().Context(), claims.UserID, req.Password); err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password updated."})
}
