package negotiation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/fsm"
	"github.com/sudo-init-do/wastex/internal/store"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Flow is the negotiation status table. pending means an offer awaits an
// answer.
var Flow = fsm.New("negotiation",
	fsm.On(StatusActive, StatusPending, StatusCancelled, StatusExpired),
	fsm.On(StatusPending, StatusPending, StatusActive, StatusCompleted, StatusCancelled, StatusExpired),
).Terminal(StatusCompleted, StatusCancelled, StatusExpired)

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageOffer        MessageType = "offer"
	MessageCounterOffer MessageType = "counter_offer"
	MessageAcceptance   MessageType = "acceptance"
	MessageRejection    MessageType = "rejection"
	MessageSystem       MessageType = "system"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCountered OfferStatus = "countered"
)

type Decision string

const (
	Accept  Decision = "accept"
	Reject  Decision = "reject"
	Counter Decision = "counter"
)

// Terms is what an offer proposes: a unit price for a quantity.
type Terms struct {
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	DeliveryDate *time.Time      `json:"deliveryDate,omitempty"`
	Terms        string          `json:"terms,omitempty"`
}

type Offer struct {
	Terms
	ProposedBy string      `json:"proposedBy"`
	Status     OfferStatus `json:"status"`
	ProposedAt time.Time   `json:"proposedAt"`
}

type Receipt struct {
	User   string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

type Message struct {
	Sender  string      `json:"sender"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	Offer   *Terms      `json:"offer,omitempty"`
	ReadBy  []Receipt   `json:"readBy"`
	SentAt  time.Time   `json:"sentAt"`
}

func (m *Message) readBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.User == userID {
			return true
		}
	}
	return false
}

type Material struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
	Currency string `json:"currency,omitempty"`
}

// Agreement is the accepted offer, copied into the contract.
type Agreement struct {
	Terms
	Material   Material  `json:"material"`
	AcceptedBy string    `json:"acceptedBy"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

type Negotiation struct {
	store.Meta
	Buyer        string          `json:"buyer"`
	Seller       string          `json:"seller"`
	Listing      string          `json:"listing,omitempty"`
	Request      string          `json:"request,omitempty"`
	Material     Material        `json:"material"`
	Messages     []Message       `json:"messages"`
	CurrentOffer *Offer          `json:"currentOffer,omitempty"`
	AgreedTerms  *Agreement      `json:"agreedTerms,omitempty"`
	DealValue    decimal.Decimal `json:"dealValue"`
	Status       Status          `json:"status"`
	LastActivity time.Time       `json:"lastActivity"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

var Spec = store.Spec{Name: "negotiations"}

func (n *Negotiation) IsParticipant(userID string) bool {
	return userID != "" && (userID == n.Buyer || userID == n.Seller)
}

// Counterpart returns the other participant.
func (n *Negotiation) Counterpart(userID string) string {
	if userID == n.Buyer {
		return n.Seller
	}
	return n.Buyer
}

// Open reports whether the thread still accepts messages.
func (n *Negotiation) Open(now time.Time) bool {
	return !Flow.IsTerminal(n.Status) && now.Before(n.ExpiresAt)
}

// UnreadCount counts messages from others that userID has not read.
func (n *Negotiation) UnreadCount(userID string) int {
	count := 0
	for i := range n.Messages {
		m := &n.Messages[i]
		if m.Sender != userID && !m.readBy(userID) {
			count++
		}
	}
	return count
}
