package alerts

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/raulk/clock"

	"github.com/sudo-init-do/wastex/internal/middleware"
	"github.com/sudo-init-do/wastex/internal/store"
)

type Handler struct {
	notifications *store.Collection[Notification]
	clk           clock.Clock
}

func NewHandler(b store.Backend, clk clock.Clock) *Handler {
	return &Handler{notifications: store.NewCollection[Notification](b, NotificationSpec), clk: clk}
}

// ListNotifications returns current user's notifications, newest first
func (h *Handler) ListNotifications(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	q := store.Query{Where: store.Filter{"userId": p.UserID}, Limit: 100}
	if c.QueryParam("unread") == "true" {
		q.Where["readAt"] = nil
	}
	items, err := h.notifications.Find(c.Request().Context(), q)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load notifications"})
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": items})
}

// MarkNotificationRead marks specific notification as read
func (h *Handler) MarkNotificationRead(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	n, err := h.notifications.Get(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && n.UserID != p.UserID) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "notification not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load notification"})
	}
	if n.ReadAt != nil {
		return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
	}
	now := h.clk.Now().UTC()
	n.ReadAt = &now
	if err := h.notifications.Update(ctx, n); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}
