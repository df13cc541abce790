package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/store"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingInactive  ListingStatus = "inactive"
	ListingSold      ListingStatus = "sold"
	ListingExpired   ListingStatus = "expired"
	ListingSuspended ListingStatus = "suspended"
)

type RequestStatus string

const (
	RequestActive    RequestStatus = "active"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestExpired   RequestStatus = "expired"
	RequestCancelled RequestStatus = "cancelled"
)

type Quantity struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit"`
}

type Money struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type Location struct {
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// Item holds the fields listings and requests share.
type Item struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	Quantity    Quantity  `json:"quantity"`
	Location    Location  `json:"location"`
	Urgency     Urgency   `json:"urgency"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Listing is waste material offered by a seller.
type Listing struct {
	store.Meta
	Item
	Seller string        `json:"seller"`
	Price  Money         `json:"price"`
	Status ListingStatus `json:"status"`
	Views  int           `json:"views"`
}

// EffectiveStatus reports expired for an active listing past expiresAt.
func (l *Listing) EffectiveStatus(now time.Time) ListingStatus {
	if l.Status == ListingActive && !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt) {
		return ListingExpired
	}
	return l.Status
}

// Request is material wanted by a buyer.
type Request struct {
	store.Meta
	Item
	Buyer  string        `json:"buyer"`
	Budget Money         `json:"budget"`
	Status RequestStatus `json:"status"`
}

func (r *Request) EffectiveStatus(now time.Time) RequestStatus {
	if r.Status == RequestActive && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt) {
		return RequestExpired
	}
	return r.Status
}

var (
	ListingSpec = store.Spec{Name: "listings"}
	RequestSpec = store.Spec{Name: "requests"}
)
