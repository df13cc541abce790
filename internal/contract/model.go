package contract

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/fsm"
	"github.com/sudo-init-do/wastex/internal/store"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusSigned    Status = "signed"
	StatusExecuted  Status = "executed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

// Flow is the contract status table. A dispute can open from any live state
// and resolves back to the state it interrupted, or to cancelled.
var Flow = fsm.New("contract",
	fsm.On(StatusDraft, StatusPending, StatusCancelled, StatusDisputed),
	fsm.On(StatusPending, StatusSigned, StatusCancelled, StatusDisputed),
	fsm.On(StatusSigned, StatusExecuted, StatusCancelled, StatusDisputed),
	fsm.On(StatusExecuted, StatusCompleted, StatusCancelled, StatusDisputed),
	fsm.On(StatusDisputed, StatusDraft, StatusPending, StatusSigned, StatusExecuted, StatusCancelled),
).Terminal(StatusCompleted, StatusCancelled)

type Party struct {
	User      string     `json:"user"`
	Signature string     `json:"signature,omitempty"`
	SignedAt  *time.Time `json:"signedAt,omitempty"`
	IPAddress string     `json:"ipAddress,omitempty"`
}

func (p *Party) Signed() bool { return p.SignedAt != nil }

type Quantity struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit"`
}

type Price struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type Terms struct {
	Material         string          `json:"material"`
	Category         string          `json:"category,omitempty"`
	Quantity         Quantity        `json:"quantity"`
	Price            Price           `json:"price"`
	TotalValue       decimal.Decimal `json:"totalValue"`
	DeliveryDate     *time.Time      `json:"deliveryDate,omitempty"`
	DeliveryLocation string          `json:"deliveryLocation,omitempty"`
	PaymentTerms     string          `json:"paymentTerms,omitempty"`
	AdditionalTerms  string          `json:"additionalTerms,omitempty"`
}

// Ledger holds receipts from the signature ledger. Each field is written once.
type Ledger struct {
	Network           string     `json:"network,omitempty"`
	ContractAddress   string     `json:"contractAddress,omitempty"`
	DeploymentTx      string     `json:"deploymentTx,omitempty"`
	SellerSignatureTx string     `json:"sellerSignatureTx,omitempty"`
	BuyerSignatureTx  string     `json:"buyerSignatureTx,omitempty"`
	RecordedAt        *time.Time `json:"recordedAt,omitempty"`
}

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneCompleted MilestoneStatus = "completed"
)

type Milestone struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Status      MilestoneStatus `json:"status"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	CompletedBy string          `json:"completedBy,omitempty"`
}

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

type Dispute struct {
	RaisedBy   string        `json:"raisedBy"`
	Reason     string        `json:"reason"`
	RaisedAt   time.Time     `json:"raisedAt"`
	Status     DisputeStatus `json:"status"`
	Resolution string        `json:"resolution,omitempty"`
	ResolvedBy string        `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

type Contract struct {
	store.Meta
	ContractNumber      string      `json:"contractNumber"`
	Negotiation         string      `json:"negotiation"`
	Seller              Party       `json:"seller"`
	Buyer               Party       `json:"buyer"`
	Terms               Terms       `json:"terms"`
	Status              Status      `json:"status"`
	StatusBeforeDispute Status      `json:"statusBeforeDispute,omitempty"`
	IsFullySigned       bool        `json:"isFullySigned"`
	Blockchain          Ledger      `json:"blockchain"`
	Milestones          []Milestone `json:"milestones"`
	Disputes            []Dispute   `json:"disputes"`
	SignedAt            *time.Time  `json:"signedAt,omitempty"`
	ExecutedAt          *time.Time  `json:"executedAt,omitempty"`
	CompletedAt         *time.Time  `json:"completedAt,omitempty"`
	CancelledAt         *time.Time  `json:"cancelledAt,omitempty"`
	CancelReason        string      `json:"cancelReason,omitempty"`
}

var Spec = store.Spec{
	Name:   "contracts",
	Unique: []string{"contractNumber", "negotiation"},
}

// party returns the signing slot of userID, nil for outsiders.
func (c *Contract) party(userID string) *Party {
	switch {
	case userID == "":
		return nil
	case userID == c.Seller.User:
		return &c.Seller
	case userID == c.Buyer.User:
		return &c.Buyer
	}
	return nil
}

func (c *Contract) IsParty(userID string) bool { return c.party(userID) != nil }

func (c *Contract) fullySigned() bool { return c.Seller.Signed() && c.Buyer.Signed() }

func (c *Contract) openDispute() *Dispute {
	for i := len(c.Disputes) - 1; i >= 0; i-- {
		if c.Disputes[i].Status == DisputeOpen {
			return &c.Disputes[i]
		}
	}
	return nil
}
