package shipment

import (
	"context"
	"errors"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/metrics"
	"github.com/sudo-init-do/wastex/internal/store"
)

var log = logging.Logger("shipment")

type Contracts interface {
	Get(ctx context.Context, id string) (*contract.Contract, error)
}

type Service struct {
	shipments *store.Collection[Shipment]
	counters  store.Counters
	contracts Contracts
	alerts    alerts.Publisher
	clk       clock.Clock
}

func NewService(b store.Backend, contracts Contracts, pub alerts.Publisher, clk clock.Clock) *Service {
	if pub == nil {
		pub = alerts.Nop{}
	}
	return &Service{
		shipments: store.NewCollection[Shipment](b, Spec),
		counters:  b,
		contracts: contracts,
		alerts:    pub,
		clk:       clk,
	}
}

func (s *Service) now() time.Time { return s.clk.Now().UTC() }

type CreateInput struct {
	Contract          string     `json:"contractId"`
	PickupAddress     string     `json:"pickupAddress"`
	DeliveryAddress   string     `json:"deliveryAddress"`
	Cargo             Cargo      `json:"cargo"`
	Carrier           Carrier    `json:"carrier"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

// Create opens the shipment for a signed contract. Only the seller ships.
// Empty addresses and cargo fall back to the contract terms.
func (s *Service) Create(ctx context.Context, sellerID string, in CreateInput) (*Shipment, error) {
	c, err := s.contracts.Get(ctx, in.Contract)
	if err != nil {
		return nil, err
	}
	if sellerID != c.Seller.User {
		return nil, apperr.Forbidden("only the seller can create a shipment for contract %s", c.ContractNumber)
	}
	if c.Status != contract.StatusSigned && c.Status != contract.StatusExecuted {
		return nil, apperr.Conflict(apperr.CodeContractNotSigned, "contract %s is %s, not signed", c.ContractNumber, c.Status)
	}
	if in.DeliveryAddress == "" {
		in.DeliveryAddress = c.Terms.DeliveryLocation
	}
	if in.Cargo.Description == "" {
		in.Cargo.Description = c.Terms.Material
	}
	if in.Cargo.Weight.IsZero() {
		in.Cargo.Weight = c.Terms.Quantity.Value
		in.Cargo.Unit = c.Terms.Quantity.Unit
	}
	switch {
	case strings.TrimSpace(in.PickupAddress) == "":
		return nil, apperr.Validation("pickup address is required")
	case strings.TrimSpace(in.DeliveryAddress) == "":
		return nil, apperr.Validation("delivery address is required")
	case in.Cargo.Weight.LessThanOrEqual(decimal.Zero):
		return nil, apperr.Validation("cargo weight must be positive")
	}

	now := s.now()
	number, err := store.Number(ctx, s.counters, "SHP", now)
	if err != nil {
		return nil, err
	}
	sh := &Shipment{
		ShipmentNumber:    number,
		Contract:          c.ID,
		Seller:            c.Seller.User,
		Buyer:             c.Buyer.User,
		PickupAddress:     in.PickupAddress,
		DeliveryAddress:   in.DeliveryAddress,
		Cargo:             in.Cargo,
		Carrier:           in.Carrier,
		EstimatedDelivery: in.EstimatedDelivery,
		Status:            StatusCreated,
		Tracking: []Event{{
			Status:      StatusCreated,
			Location:    Location{Description: in.PickupAddress},
			Description: "shipment created",
			Source:      SourceSystem,
			At:          now,
			RecordedBy:  sellerID,
		}},
	}
	if err := s.shipments.Insert(ctx, sh); err != nil {
		return nil, err
	}
	metrics.Transition("shipment", string(StatusCreated))
	s.notify(ctx, sh, "Shipment "+number+" created", "The seller has created a shipment for contract "+c.ContractNumber+".")
	log.Infow("shipment created", "shipment", sh.ID, "number", number, "contract", c.ID)
	return sh, nil
}

// Get accepts either the document id or the SHP- number.
func (s *Service) Get(ctx context.Context, ref string) (*Shipment, error) {
	var (
		sh  *Shipment
		err error
	)
	if strings.HasPrefix(ref, "SHP-") {
		sh, err = s.shipments.FindOne(ctx, store.Filter{"shipmentNumber": ref})
	} else {
		sh, err = s.shipments.Get(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("shipment", ref)
	}
	return sh, err
}

func (s *Service) GetFor(ctx context.Context, ref, userID string, admin bool) (*Shipment, error) {
	sh, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !admin && !sh.IsParty(userID) {
		return nil, apperr.Forbidden("user %s is not a party to shipment %s", userID, sh.ShipmentNumber)
	}
	return sh, nil
}

func (s *Service) ListForContract(ctx context.Context, contractID, userID string, admin bool) ([]*Shipment, error) {
	if !admin {
		c, err := s.contracts.Get(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if userID != c.Seller.User && userID != c.Buyer.User {
			return nil, apperr.Forbidden("user %s is not a party to contract %s", userID, c.ContractNumber)
		}
	}
	return s.shipments.Find(ctx, store.Query{Where: store.Filter{"contract": contractID}})
}

type TrackingInput struct {
	Status      Status   `json:"status"`
	Location    Location `json:"location"`
	Description string   `json:"description"`
	Source      Source   `json:"source"`
}

// checkMove rejects moving backwards or out of a final status. Manual
// corrections may do either.
func checkMove(sh *Shipment, to Status, src Source) error {
	if src == SourceManual {
		return nil
	}
	from := sh.Status
	if from.Terminal() && to != from {
		return apperr.Conflict(apperr.CodeIllegalTransition, "shipment %s is %s", sh.ShipmentNumber, from)
	}
	if rank[to] < rank[from] {
		return apperr.Conflict(apperr.CodeIllegalTransition, "shipment %s cannot go from %s back to %s", sh.ShipmentNumber, from, to)
	}
	return nil
}

// AddTrackingEvent appends to the tracking history and moves the shipment
// to the event's status. The seller records events; manual corrections are
// reserved for admins.
func (s *Service) AddTrackingEvent(ctx context.Context, ref, actorID string, admin bool, in TrackingInput) (*Shipment, error) {
	if !in.Status.Valid() {
		return nil, apperr.Validation("unknown shipment status %q", in.Status)
	}
	switch in.Source {
	case "":
		in.Source = SourcePartner
	case SourceSystem, SourcePartner:
	case SourceManual:
		if !admin {
			return nil, apperr.Forbidden("manual corrections require an admin")
		}
	default:
		return nil, apperr.Validation("unknown tracking source %q", in.Source)
	}

	for attempt := 0; attempt < 3; attempt++ {
		sh, err := s.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !admin && actorID != sh.Seller {
			return nil, apperr.Forbidden("only the seller can update shipment %s", sh.ShipmentNumber)
		}
		if err := checkMove(sh, in.Status, in.Source); err != nil {
			metrics.Rejections.WithLabelValues("shipment", apperr.CodeIllegalTransition).Inc()
			return nil, err
		}
		now := s.now()
		sh.Tracking = append(sh.Tracking, Event{
			Status:      in.Status,
			Location:    in.Location,
			Description: in.Description,
			Source:      in.Source,
			At:          now,
			RecordedBy:  actorID,
		})
		changed := sh.Status != in.Status
		sh.Status = in.Status
		switch {
		case in.Status == StatusDelivered && sh.ActualDelivery == nil:
			sh.ActualDelivery = &now
		case in.Status != StatusDelivered:
			sh.ActualDelivery = nil
		}
		err = s.shipments.Update(ctx, sh)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if changed {
			metrics.Transition("shipment", string(in.Status))
			s.notify(ctx, sh, "Shipment "+sh.ShipmentNumber+" is "+string(in.Status),
				strings.TrimSpace(in.Description+" "+in.Location.Description))
		}
		return sh, nil
	}
	return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "shipment %s kept changing, retry", ref)
}

func (s *Service) notify(ctx context.Context, sh *Shipment, title, body string) {
	err := s.alerts.Publish(ctx, alerts.Event{
		Type: alerts.EventShipmentUpdate, UserID: sh.Buyer, Title: title, Body: body, Reference: sh.ID,
	})
	if err != nil {
		log.Warnw("publish shipment update", "shipment", sh.ID, "error", err)
	}
}
