package contract

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
	ct, err := h.svc.Create(c.Request().Context(), p.UserID, in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, ct)
}

func (h *Handler) List(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	items, err := h.svc.ListFor(c.Request().Context(), p.UserID, c.QueryParam("status"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"contracts": items})
}

func (h *Handler) Get(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ct, err := h.svc.GetFor(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

// Sign - the caller's signature, with the client IP recorded
func (h *Handler) Sign(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Signature string `json:"signature"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	ct, err := h.svc.Sign(c.Request().Context(), c.Param("id"), p.UserID, req.Signature, c.RealIP())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

func (h *Handler) Execute(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ct, err := h.svc.Execute(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

func (h *Handler) Complete(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ct, err := h.svc.Complete(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

func (h *Handler) Cancel(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&req)
	ct, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin(), req.Reason)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

func (h *Handler) RaiseDispute(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	ct, err := h.svc.RaiseDispute(c.Request().Context(), c.Param("id"), p.UserID, req.Reason)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

// ResolveDispute is admin only.
func (h *Handler) ResolveDispute(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Outcome    Outcome `json:"outcome"`
		Resolution string  `json:"resolution"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	ct, err := h.svc.ResolveDispute(c.Request().Context(), c.Param("id"), p.UserID, req.Outcome, req.Resolution)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

func (h *Handler) AddMilestone(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in MilestoneInput
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	ct, err := h.svc.AddMilestone(c.Request().Context(), c.Param("id"), p.UserID, in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, ct)
}

func (h *Handler) CompleteMilestone(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ct, err := h.svc.CompleteMilestone(c.Request().Context(), c.Param("id"), c.Param("milestone"), p.UserID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}
