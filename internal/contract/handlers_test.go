package contract

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/auth"
	"github.com/sudo-init-do/wastex/internal/middleware"
)

func newRouter(t *testing.T, svc *Service) (*echo.Echo, *auth.Tokens) {
	t.Helper()
	tokens := auth.NewTokens("handler-secret", time.Hour, nil)
	h := NewHandler(svc)
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler
	api := e.Group("", middleware.JWT(tokens, nil))
	api.POST("/contracts", h.Create)
	api.GET("/contracts", h.List)
	api.GET("/contracts/:id", h.Get)
	api.POST("/contracts/:id/sign", h.Sign)
	api.POST("/contracts/:id/cancel", h.Cancel)
	api.POST("/contracts/:id/disputes", h.RaiseDispute)
	api.POST("/contracts/:id/milestones", h.AddMilestone)
	api.POST("/contracts/:id/milestones/:milestone/complete", h.CompleteMilestone)
	admin := e.Group("/admin", middleware.JWT(tokens, nil), middleware.AdminGuard)
	admin.POST("/contracts/:id/disputes/resolve", h.ResolveDispute)
	return e, tokens
}

func call(t *testing.T, e *echo.Echo, tokens *auth.Tokens, method, path, user, role, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	tok, err := tokens.Issue(user, role)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestContractRoutes(t *testing.T) {
	svc, _, _, _ := newContracts(t)
	e, tokens := newRouter(t, svc)

	code, body := call(t, e, tokens, http.MethodPost, "/contracts", "B", "buyer",
		`{"negotiation":"n1","deliveryLocation":"Chakan MIDC"}`)
	require.Equal(t, http.StatusCreated, code, body)
	id := body["_id"].(string)
	assert.Equal(t, "CTR-2025-000001", body["contractNumber"])
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, false, body["isFullySigned"])
	assert.Equal(t, []any{}, body["milestones"])
	assert.Equal(t, []any{}, body["disputes"])
	assert.Equal(t, "S", body["seller"].(map[string]any)["user"])
	terms := body["terms"].(map[string]any)
	assert.Equal(t, "HDPE regrind", terms["material"])
	assert.Equal(t, 900.0, terms["totalValue"])
	assert.Equal(t, "Chakan MIDC", terms["deliveryLocation"])
	assert.Equal(t, map[string]any{"value": 10.0, "unit": "tonne"}, terms["quantity"])
	assert.Equal(t, map[string]any{"value": 90.0, "currency": "INR"}, terms["price"])

	code, body = call(t, e, tokens, http.MethodPost, "/contracts", "B", "buyer", `{"negotiation":"n1"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperr.CodeDuplicateContract, body["code"])

	code, _ = call(t, e, tokens, http.MethodGet, "/contracts/"+id, "X", "buyer", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, body = call(t, e, tokens, http.MethodPost, "/contracts/"+id+"/sign", "S", "seller", `{"signature":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["kind"])

	code, body = call(t, e, tokens, http.MethodPost, "/contracts/"+id+"/sign", "S", "seller", `{"signature":"s-sig"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "pending", body["status"])
	seller := body["seller"].(map[string]any)
	assert.Equal(t, "192.0.2.1", seller["ipAddress"])
	assert.NotEmpty(t, seller["signedAt"])

	code, body = call(t, e, tokens, http.MethodPost, "/contracts/"+id+"/sign", "S", "seller", `{"signature":"s-sig"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperr.CodeAlreadySigned, body["code"])

	code, body = call(t, e, tokens, http.MethodPost, "/contracts/"+id+"/sign", "B", "buyer", `{"signature":"b-sig"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "signed", body["status"])
	assert.Equal(t, true, body["isFullySigned"])

	code, body = call(t, e, tokens, http.MethodPost, "/contracts/"+id+"/milestones", "S", "seller", `{"title":"First truck"}`)
	require.Equal(t, http.StatusCreated, code, body)
	ms := body["milestones"].([]any)
	require.Len(t, ms, 1)
	assert.Equal(t, "pending", ms[0].(map[string]any)["status"])

	code, body = call(t, e, tokens, http.MethodGet, "/contracts", "S", "seller", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["contracts"], 1)
}

func TestDisputeRoutes(t *testing.T) {
	svc, _, _, _ := newContracts(t)
	c := signed(t, svc, "n1")
	e, tokens := newRouter(t, svc)

	code, body := call(t, e, tokens, http.MethodPost, "/contracts/"+c.ID+"/disputes", "B", "buyer", `{"reason":"short weight"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "disputed", body["status"])
	assert.Equal(t, "signed", body["statusBeforeDispute"])
	d := body["disputes"].([]any)[0].(map[string]any)
	assert.Equal(t, "open", d["status"])
	assert.Equal(t, "B", d["raisedBy"])

	path := "/admin/contracts/" + c.ID + "/disputes/resolve"
	code, _ = call(t, e, tokens, http.MethodPost, path, "B", "buyer", `{"outcome":"resume"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = call(t, e, tokens, http.MethodPost, path, "admin", "admin", `{"outcome":"split"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["kind"])

	code, body = call(t, e, tokens, http.MethodPost, path, "admin", "admin", `{"outcome":"cancel","resolution":"seller withdrew"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "seller withdrew", body["cancelReason"])
	assert.Equal(t, "resolved", body["disputes"].([]any)[0].(map[string]any)["status"])

	code, body = call(t, e, tokens, http.MethodPost, "/contracts/"+c.ID+"/cancel", "B", "buyer", `{}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperr.CodeIllegalTransition, body["code"])
}
