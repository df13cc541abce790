package negotiation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/messaging"
	"github.com/sudo-init-do/wastex/internal/middleware"
)

type Handler struct {
	svc *Service
	hub *messaging.Hub
}

func NewHandler(svc *Service, hub *messaging.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Start - buyer opens on a listing, seller on a request
func (h *Handler) Start(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in StartInput
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	n, err := h.svc.Start(c.Request().Context(), p.UserID, p.Role, in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) List(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	items, err := h.svc.ListFor(c.Request().Context(), p.UserID, c.QueryParam("status"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	out := make([]echo.Map, 0, len(items))
	for _, n := range items {
		out = append(out, echo.Map{"negotiation": n, "unread": n.UnreadCount(p.UserID)})
	}
	return c.JSON(http.StatusOK, echo.Map{"negotiations": out})
}

func (h *Handler) Get(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	n, err := h.svc.GetFor(c.Request().Context(), c.Param("id"), p.UserID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) PostMessage(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Content string      `json:"content"`
		Type    MessageType `json:"type"`
		Offer   *Terms      `json:"offer"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	n, err := h.svc.PostMessage(c.Request().Context(), c.Param("id"), p.UserID, req.Content, req.Type, req.Offer)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ProposeOffer(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Terms
		Note string `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	n, err := h.svc.ProposeOffer(c.Request().Context(), c.Param("id"), p.UserID, req.Terms, req.Note)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) RespondToOffer(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Decision     Decision `json:"decision"`
		CounterOffer *Terms   `json:"counterOffer"`
		Note         string   `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	n, err := h.svc.RespondToOffer(c.Request().Context(), c.Param("id"), p.UserID, req.Decision, req.CounterOffer, req.Note)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkRead(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	if _, err := h.svc.MarkRead(c.Request().Context(), c.Param("id"), p.UserID); err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	total, err := h.svc.UnreadTotal(c.Request().Context(), p.UserID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"unread": total})
}

func (h *Handler) Cancel(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&req)
	n, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), p.UserID, req.Reason)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

// Room - websocket for realtime updates on a negotiation thread
func (h *Handler) Room(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	n, err := h.svc.GetFor(c.Request().Context(), c.Param("id"), p.UserID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return h.hub.Serve(c, n.ID, p.UserID)
}
