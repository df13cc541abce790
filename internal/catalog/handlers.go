package catalog

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func filterFrom(c echo.Context) Filter {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return Filter{
		Category: c.QueryParam("category"),
		Status:   c.QueryParam("status"),
		City:     c.QueryParam("city"),
		Search:   c.QueryParam("q"),
		Limit:    limit,
		Offset:   max(offset, 0),
	}
}

// =========================
// Listings
// =========================

func (h *Handler) CreateListing(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	l, err := h.svc.CreateListing(c.Request().Context(), p.UserID, in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListListings(c echo.Context) error {
	f := filterFrom(c)
	if f.Status == "" {
		f.Status = string(ListingActive)
	}
	items, err := h.svc.ListListings(c.Request().Context(), f)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": items})
}

// MyListings returns the caller's listings in every status.
func (h *Handler) MyListings(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	f := filterFrom(c)
	f.Owner = p.UserID
	items, err := h.svc.ListListings(c.Request().Context(), f)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": items})
}

func (h *Handler) GetListing(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	l, err := h.svc.ViewListing(c.Request().Context(), c.Param("id"), p.UserID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) UpdateListing(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	l, err := h.svc.UpdateListing(c.Request().Context(), p.UserID, c.Param("id"), in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) SetListingStatus(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Status ListingStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil || req.Status == "" {
		return apperr.JSON(c, apperr.Validation("status is required"))
	}
	l, err := h.svc.SetListingStatus(c.Request().Context(), p.UserID, p.IsAdmin(), c.Param("id"), req.Status)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// =========================
// Requests
// =========================

func (h *Handler) CreateRequest(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	r, err := h.svc.CreateRequest(c.Request().Context(), p.UserID, in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListRequests(c echo.Context) error {
	f := filterFrom(c)
	if f.Status == "" {
		f.Status = string(RequestActive)
	}
	items, err := h.svc.ListRequests(c.Request().Context(), f)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}

func (h *Handler) MyRequests(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	f := filterFrom(c)
	f.Owner = p.UserID
	items, err := h.svc.ListRequests(c.Request().Context(), f)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}

func (h *Handler) GetRequest(c echo.Context) error {
	r, err := h.svc.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateRequest(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	r, err := h.svc.UpdateRequest(c.Request().Context(), p.UserID, c.Param("id"), in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) SetRequestStatus(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Status RequestStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil || req.Status == "" {
		return apperr.JSON(c, apperr.Validation("status is required"))
	}
	r, err := h.svc.SetRequestStatus(c.Request().Context(), p.UserID, c.Param("id"), req.Status)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}
