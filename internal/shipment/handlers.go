package shipment

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) Create(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	sh, err := h.svc.Create(c.Request().Context(), p.UserID, in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, sh)
}

func (h *Handler) Get(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	sh, err := h.svc.GetFor(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, sh)
}

// ListForContract - GET /contracts/:id/shipments
func (h *Handler) ListForContract(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	items, err := h.svc.ListForContract(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"shipments": items})
}

func (h *Handler) Track(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in TrackingInput
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	sh, err := h.svc.AddTrackingEvent(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin(), in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, sh)
}
