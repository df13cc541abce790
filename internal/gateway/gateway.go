// Package gateway creates payment orders with the card/UPI gateway and checks
// the signatures it returns after checkout.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/config"
)

var log = logging.Logger("gateway")

type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway is implemented by the live client and the sandbox.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	Verify(orderID, paymentID, signature string) bool
}

// Sign computes the checkout signature: hex HMAC-SHA256 of
// "orderID|paymentID" keyed with the API secret.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" {
		return false
	}
	want := Sign(secret, orderID, paymentID)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Client talks to a Razorpay-compatible REST API.
type Client struct {
	baseURL string
	keyID   string
	secret  string
	http    *http.Client
}

func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		keyID:   cfg.KeyID,
		secret:  cfg.Secret,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type orderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

func (c *Client) CreateOrder(ctx context.Context, r OrderRequest) (Order, error) {
	b, err := json.Marshal(orderBody{Amount: minorUnits(r.Amount), Currency: r.Currency, Receipt: r.Receipt, Notes: r.Notes})
	if err != nil {
		return Order{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(b))
	if err != nil {
		return Order{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Order{}, fmt.Errorf("create order failed: status=%d body=%s", resp.StatusCode, msg)
	}
	var o Order
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	if o.ID == "" {
		return Order{}, fmt.Errorf("create order: empty order id")
	}
	log.Infow("gateway order created", "order", o.ID, "receipt", r.Receipt)
	return o, nil
}

func (c *Client) Verify(orderID, paymentID, signature string) bool {
	return verify(c.secret, orderID, paymentID, signature)
}

// Sandbox issues local order ids and verifies signatures made with Sign and
// the same secret. Used when no gateway key is configured.
type Sandbox struct {
	Secret string
}

func (s Sandbox) CreateOrder(_ context.Context, r OrderRequest) (Order, error) {
	return Order{
		ID:       "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		Amount:   minorUnits(r.Amount),
		Currency: r.Currency,
		Receipt:  r.Receipt,
		Status:   "created",
	}, nil
}

func (s Sandbox) Verify(orderID, paymentID, signature string) bool {
	return verify(s.Secret, orderID, paymentID, signature)
}

// New picks the live client when a key is configured.
func New(cfg config.GatewayConfig) Gateway {
	if cfg.KeyID == "" {
		log.Warnw("GATEWAY_KEY_ID not set, using sandbox gateway")
		return Sandbox{Secret: cfg.Secret}
	}
	return NewClient(cfg)
}
