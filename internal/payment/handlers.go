package payment

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

// CreateOrder - buyer opens escrow for a signed contract
func (h *Handler) CreateOrder(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Contract string `json:"contractId"`
	}
	if err := c.Bind(&req); err != nil || req.Contract == "" {
		return apperr.JSON(c, apperr.Validation("contractId is required"))
	}
	pay, err := h.svc.CreateOrder(c.Request().Context(), req.Contract, p.UserID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"payment": pay,
		"order": echo.Map{
			"id":       pay.Gateway.OrderID,
			"amount":   pay.Amount.Total,
			"currency": pay.Amount.Currency,
			"receipt":  pay.PaymentID,
		},
	})
}

func (h *Handler) Verify(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		PaymentID string `json:"gatewayPaymentId"`
		Signature string `json:"signature"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	pay, err := h.svc.VerifyPayment(c.Request().Context(), c.Param("id"), p.UserID, req.PaymentID, req.Signature)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pay)
}

func (h *Handler) List(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	items, err := h.svc.ListFor(c.Request().Context(), p.UserID, c.QueryParam("status"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"payments": items})
}

func (h *Handler) Get(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	pay, err := h.svc.GetFor(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pay)
}

func (h *Handler) ConfirmDelivery(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		QualityApproved bool `json:"qualityApproved"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	pay, err := h.svc.ConfirmDelivery(c.Request().Context(), c.Param("id"), p.UserID, req.QualityApproved)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pay)
}

func (h *Handler) Release(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	pay, err := h.svc.Release(c.Request().Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pay)
}

func (h *Handler) RequestRefund(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	pay, err := h.svc.RequestRefund(c.Request().Context(), c.Param("id"), p.UserID, req.Reason)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pay)
}

// DecideRefund - seller or admin approves or rejects the open refund
func (h *Handler) DecideRefund(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req struct {
		Approve bool   `json:"approve"`
		Note    string `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.JSON(c, apperr.Validation("invalid request body"))
	}
	ctx := c.Request().Context()
	var (
		pay *Payment
		err error
	)
	if req.Approve {
		pay, err = h.svc.ApproveRefund(ctx, c.Param("id"), p.UserID, p.IsAdmin(), req.Note)
	} else {
		pay, err = h.svc.RejectRefund(ctx, c.Param("id"), p.UserID, p.IsAdmin(), req.Note)
	}
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pay)
}
