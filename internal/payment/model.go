package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/fsm"
	"github.com/sudo-init-do/wastex/internal/store"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusPaidToPlatform   Status = "paid_to_platform"
	StatusHeldInEscrow     Status = "held_in_escrow"
	StatusReleasedToSeller Status = "released_to_seller"
	StatusRefunded         Status = "refunded"
	StatusFailed           Status = "failed"
)

// Flow is forward only; refunded and failed are the side branches.
var Flow = fsm.New("payment",
	fsm.On(StatusPending, StatusPaidToPlatform, StatusFailed),
	fsm.On(StatusPaidToPlatform, StatusHeldInEscrow, StatusFailed),
	fsm.On(StatusHeldInEscrow, StatusReleasedToSeller, StatusRefunded, StatusFailed),
).Terminal(StatusReleasedToSeller, StatusRefunded, StatusFailed)

type Amount struct {
	Total        decimal.Decimal `json:"total"`
	SellerAmount decimal.Decimal `json:"sellerAmount"`
	PlatformFee  decimal.Decimal `json:"platformFee"`
	FeeRate      decimal.Decimal `json:"feeRate"`
	Currency     string          `json:"currency"`
}

// Split divides total into the platform fee, rounded to two places, and
// the seller's share. The parts always add up to total.
func Split(total, feeRate decimal.Decimal, currency string) Amount {
	fee := total.Mul(feeRate).Round(2)
	return Amount{
		Total:        total,
		SellerAmount: total.Sub(fee),
		PlatformFee:  fee,
		FeeRate:      feeRate,
		Currency:     currency,
	}
}

type GatewayRef struct {
	OrderID   string `json:"orderId,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type ReleaseConditions struct {
	DeliveryConfirmed bool `json:"deliveryConfirmed"`
	QualityApproved   bool `json:"qualityApproved"`
	DisputeResolved   bool `json:"disputeResolved"`
}

type RefundStatus string

const (
	RefundRequested RefundStatus = "requested"
	RefundApproved  RefundStatus = "approved"
	RefundRejected  RefundStatus = "rejected"
)

type Refund struct {
	Reason      string       `json:"reason"`
	RequestedBy string       `json:"requestedBy"`
	RequestedAt time.Time    `json:"requestedAt"`
	Status      RefundStatus `json:"status"`
	DecidedBy   string       `json:"decidedBy,omitempty"`
	DecidedAt   *time.Time   `json:"decidedAt,omitempty"`
	Note        string       `json:"note,omitempty"`
}

type Entry struct {
	Status Status    `json:"status"`
	Note   string    `json:"note,omitempty"`
	Actor  string    `json:"actor,omitempty"`
	At     time.Time `json:"at"`
}

type Payment struct {
	store.Meta
	PaymentID string `json:"paymentId"`
	Contract  string `json:"contract"`
	// ActiveContract equals Contract until the payment fails, so a failed
	// payment can be replaced.
	ActiveContract    string            `json:"activeContract,omitempty"`
	Buyer             string            `json:"buyer"`
	Seller            string            `json:"seller"`
	Amount            Amount            `json:"amount"`
	Status            Status            `json:"status"`
	Gateway           GatewayRef        `json:"gateway"`
	ReleaseConditions ReleaseConditions `json:"releaseConditions"`
	Refund            *Refund           `json:"refund,omitempty"`
	AutoReleaseDate   *time.Time        `json:"autoReleaseDate,omitempty"`
	PaidAt            *time.Time        `json:"paidAt,omitempty"`
	EscrowedAt        *time.Time        `json:"escrowedAt,omitempty"`
	ReleasedAt        *time.Time        `json:"releasedAt,omitempty"`
	RefundedAt        *time.Time        `json:"refundedAt,omitempty"`
	FailureReason     string            `json:"failureReason,omitempty"`
	Timeline          []Entry           `json:"timeline"`
}

var Spec = store.Spec{
	Name:   "payments",
	Unique: []string{"paymentId", "activeContract"},
}

// CanRelease is true only in escrow with every release condition met.
func (p *Payment) CanRelease() bool {
	rc := p.ReleaseConditions
	return p.Status == StatusHeldInEscrow && rc.DeliveryConfirmed && rc.QualityApproved && rc.DisputeResolved
}

func (p *Payment) IsParty(userID string) bool {
	return userID != "" && (userID == p.Buyer || userID == p.Seller)
}
