package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/config"
)

func TestVerify(t *testing.T) {
	sig := Sign("s3cret", "order_1", "pay_1")
	g := Sandbox{Secret: "s3cret"}

	assert.True(t, g.Verify("order_1", "pay_1", sig))
	assert.False(t, g.Verify("order_1", "pay_2", sig))
	assert.False(t, g.Verify("order_1", "pay_1", "deadbeef"))
	assert.False(t, Sandbox{}.Verify("order_1", "pay_1", Sign("", "order_1", "pay_1")))
}

func TestClientCreateOrder(t *testing.T) {
	var got orderBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/orders", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Order{ID: "order_abc", Amount: got.Amount, Currency: got.Currency, Receipt: got.Receipt, Status: "created"})
	}))
	defer srv.Close()

	c := NewClient(config.GatewayConfig{BaseURL: srv.URL + "/", KeyID: "key", Secret: "secret"})
	o, err := c.CreateOrder(context.Background(), OrderRequest{
		Amount:   decimal.RequireFromString("10000.50"),
		Currency: "INR",
		Receipt:  "PAY-2025-000001",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_abc", o.ID)
	assert.EqualValues(t, 1000050, got.Amount)
	assert.Equal(t, "PAY-2025-000001", got.Receipt)

	bad := NewClient(config.GatewayConfig{BaseURL: srv.URL, KeyID: "key", Secret: "wrong"})
	_, err = bad.CreateOrder(context.Background(), OrderRequest{Amount: decimal.NewFromInt(1), Currency: "INR"})
	assert.Error(t, err)
}

func TestNewPicksSandbox(t *testing.T) {
	g := New(config.GatewayConfig{Secret: "x"})
	_, ok := g.(Sandbox)
	assert.True(t, ok)

	o, err := g.CreateOrder(context.Background(), OrderRequest{Amount: decimal.NewFromInt(5), Currency: "INR"})
	require.NoError(t, err)
	assert.Contains(t, o.ID, "order_")
	assert.EqualValues(t, 500, o.Amount)
}
