package shipment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/store"
)

type Status string

const (
	StatusCreated         Status = "created"
	StatusPickupScheduled Status = "pickup-scheduled"
	StatusPickedUp        Status = "picked-up"
	StatusInTransit       Status = "in-transit"
	StatusOutForDelivery  Status = "out-for-delivery"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusReturned        Status = "returned"
	StatusLost            Status = "lost"
	StatusDamaged         Status = "damaged"
)

// rank orders the forward path. Exceptional outcomes share the top rank so
// they can be reached from any live status.
var rank = map[Status]int{
	StatusCreated:         0,
	StatusPickupScheduled: 1,
	StatusPickedUp:        2,
	StatusInTransit:       3,
	StatusOutForDelivery:  4,
	StatusDelivered:       5,
	StatusCancelled:       5,
	StatusReturned:        5,
	StatusLost:            5,
	StatusDamaged:         5,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

func (s Status) Terminal() bool { return rank[s] == 5 }

type Source string

const (
	SourceSystem  Source = "system"
	SourcePartner Source = "partner"
	SourceManual  Source = "manual"
)

type Location struct {
	Description string   `json:"description,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
}

type Cargo struct {
	Description string          `json:"description"`
	Weight      decimal.Decimal `json:"weight"`
	Unit        string          `json:"unit"`
	Packaging   string          `json:"packaging,omitempty"`
}

type Carrier struct {
	Name           string `json:"name,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	VehicleNumber  string `json:"vehicleNumber,omitempty"`
}

type Event struct {
	Status      Status    `json:"status"`
	Location    Location  `json:"location"`
	Description string    `json:"description,omitempty"`
	Source      Source    `json:"source"`
	At          time.Time `json:"at"`
	RecordedBy  string    `json:"recordedBy"`
}

type Shipment struct {
	store.Meta
	ShipmentNumber    string     `json:"shipmentNumber"`
	Contract          string     `json:"contract"`
	Seller            string     `json:"seller"`
	Buyer             string     `json:"buyer"`
	PickupAddress     string     `json:"pickupAddress"`
	DeliveryAddress   string     `json:"deliveryAddress"`
	Cargo             Cargo      `json:"cargo"`
	Carrier           Carrier    `json:"carrier"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `json:"actualDelivery,omitempty"`
	Status            Status     `json:"status"`
	Tracking          []Event    `json:"tracking"`
}

var Spec = store.Spec{
	Name:   "shipments",
	Unique: []string{"shipmentNumber"},
}

func (s *Shipment) IsParty(userID string) bool {
	return userID != "" && (userID == s.Seller || userID == s.Buyer)
}
