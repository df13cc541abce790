package contract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/samber/lo"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/metrics"
	"github.com/sudo-init-do/wastex/internal/negotiation"
	"github.com/sudo-init-do/wastex/internal/store"
)

var log = logging.Logger("contract")

// Agreements hands out the agreed terms of a negotiation.
type Agreements interface {
	Agreement(ctx context.Context, negotiationID, userID string) (*negotiation.Negotiation, error)
}

// SignatureMirror copies signature events to the external ledger. Mirroring
// happens after the contract is saved and never fails a signature.
type SignatureMirror interface {
	MirrorSignatures(ctx context.Context, contractID string) error
}

// DisputeListener is told when a contract's dispute opens or closes.
type DisputeListener interface {
	SetDisputeOpen(ctx context.Context, contractID string, open bool) error
}

type Service struct {
	contracts  *store.Collection[Contract]
	counters   store.Counters
	agreements Agreements
	alerts     alerts.Publisher
	clk        clock.Clock
	currency   string

	mirror   SignatureMirror
	disputes DisputeListener
}

func NewService(b store.Backend, agreements Agreements, pub alerts.Publisher, clk clock.Clock, currency string) *Service {
	if pub == nil {
		pub = alerts.Nop{}
	}
	return &Service{
		contracts:  store.NewCollection[Contract](b, Spec),
		counters:   b,
		agreements: agreements,
		alerts:     pub,
		clk:        clk,
		currency:   currency,
	}
}

func (s *Service) SetMirror(m SignatureMirror) { s.mirror = m }

func (s *Service) SetDisputeListener(l DisputeListener) { s.disputes = l }

func (s *Service) now() time.Time { return s.clk.Now().UTC() }

func (s *Service) Get(ctx context.Context, id string) (*Contract, error) {
	c, err := s.contracts.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("contract", id)
	}
	return c, err
}

// GetFor loads a contract visible to the caller: a party or an admin.
func (s *Service) GetFor(ctx context.Context, id, userID string, admin bool) (*Contract, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && !c.IsParty(userID) {
		return nil, notParty(userID, id)
	}
	return c, nil
}

func (s *Service) ByNegotiation(ctx context.Context, negotiationID string) (*Contract, error) {
	c, err := s.contracts.FindOne(ctx, store.Filter{"negotiation": negotiationID})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("contract for negotiation", negotiationID)
	}
	return c, err
}

func (s *Service) ListFor(ctx context.Context, userID, status string) ([]*Contract, error) {
	q := store.Query{
		Where: store.Filter{},
		AnyOf: []store.Filter{{"seller.user": userID}, {"buyer.user": userID}},
	}
	if status != "" {
		q.Where["status"] = status
	}
	return s.contracts.Find(ctx, q)
}

func notParty(userID, id string) error {
	return apperr.New(apperr.KindAuthorization, apperr.CodeNotParty, "user %s is not a party to contract %s", userID, id)
}

func (s *Service) save(ctx context.Context, c *Contract) error {
	c.IsFullySigned = c.fullySigned()
	if err := s.contracts.Update(ctx, c); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "contract %s was modified concurrently, retry", c.ID)
		}
		return err
	}
	return nil
}

func (s *Service) notify(ctx context.Context, typ, title, body string, c *Contract, users ...string) {
	for _, u := range users {
		if err := s.alerts.Publish(ctx, alerts.Event{Type: typ, UserID: u, Title: title, Body: body, Reference: c.ID, Email: true}); err != nil {
			log.Warnw("publish notification", "type", typ, "user", u, "error", err)
		}
	}
}

type CreateInput struct {
	Negotiation      string     `json:"negotiation"`
	DeliveryDate     *time.Time `json:"deliveryDate"`
	DeliveryLocation string     `json:"deliveryLocation"`
	PaymentTerms     string     `json:"paymentTerms"`
	AdditionalTerms  string     `json:"additionalTerms"`
}

// Create drafts the contract for an agreed negotiation. One contract per
// negotiation.
func (s *Service) Create(ctx context.Context, requesterID string, in CreateInput) (*Contract, error) {
	if in.Negotiation == "" {
		return nil, apperr.Validation("negotiation is required")
	}
	n, err := s.agreements.Agreement(ctx, in.Negotiation, requesterID)
	if err != nil {
		return nil, err
	}
	// checked first so the counter is not consumed; the unique index
	// still decides under a race
	if _, err := s.contracts.FindOne(ctx, store.Filter{"negotiation": n.ID}); err == nil {
		return nil, duplicateContract(n.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	number, err := store.Number(ctx, s.counters, "CTR", now)
	if err != nil {
		return nil, err
	}
	agreed := n.AgreedTerms
	delivery := agreed.DeliveryDate
	if in.DeliveryDate != nil {
		delivery = in.DeliveryDate
	}
	paymentTerms := in.PaymentTerms
	if strings.TrimSpace(paymentTerms) == "" {
		paymentTerms = "Full payment held in escrow until delivery is confirmed"
	}
	c := &Contract{
		ContractNumber: number,
		Negotiation:    n.ID,
		Seller:         Party{User: n.Seller},
		Buyer:          Party{User: n.Buyer},
		Terms: Terms{
			Material:         agreed.Material.Title,
			Category:         agreed.Material.Category,
			Quantity:         Quantity{Value: agreed.Quantity, Unit: agreed.Material.Unit},
			Price:            Price{Value: agreed.Price, Currency: lo.CoalesceOrEmpty(agreed.Material.Currency, s.currency)},
			TotalValue:       n.DealValue,
			DeliveryDate:     delivery,
			DeliveryLocation: in.DeliveryLocation,
			PaymentTerms:     paymentTerms,
			AdditionalTerms:  strings.TrimSpace(strings.Join([]string{agreed.Terms.Terms, in.AdditionalTerms}, "\n")),
		},
		Status:     StatusDraft,
		Milestones: []Milestone{},
		Disputes:   []Dispute{},
	}
	if err := s.contracts.Insert(ctx, c); err != nil {
		if store.IsDuplicate(err, "negotiation") {
			return nil, duplicateContract(n.ID)
		}
		return nil, err
	}
	metrics.Transition("contract", string(StatusDraft))
	s.notify(ctx, alerts.EventContractCreated, "Contract "+number+" ready to sign",
		"A contract for "+c.Terms.Material+" is waiting for your signature.", c, c.Seller.User, c.Buyer.User)
	log.Infow("contract created", "contract", c.ID, "number", number, "negotiation", n.ID)
	return c, nil
}

func duplicateContract(negotiationID string) error {
	return apperr.Conflict(apperr.CodeDuplicateContract, "a contract already exists for negotiation %s", negotiationID)
}

// Sign records userID's signature. The first signature moves draft to
// pending, the second moves pending to signed and triggers ledger mirroring.
func (s *Service) Sign(ctx context.Context, id, userID, signature, ip string) (*Contract, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, apperr.Validation("signature is required")
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p := c.party(userID)
	if p == nil {
		return nil, notParty(userID, id)
	}
	if p.Signed() {
		return nil, apperr.Conflict(apperr.CodeAlreadySigned, "user %s already signed contract %s", userID, id)
	}
	if c.Status != StatusDraft && c.Status != StatusPending {
		return nil, apperr.Conflict(apperr.CodeIllegalTransition, "contract %s is %s and can no longer be signed", id, c.Status)
	}
	now := s.now()
	p.Signature = signature
	p.SignedAt = &now
	p.IPAddress = ip

	next := StatusPending
	if c.fullySigned() {
		next = StatusSigned
	}
	if err := Flow.Check(c.Status, next); err != nil {
		return nil, err
	}
	c.Status = next
	if next == StatusSigned {
		c.SignedAt = &now
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	metrics.Transition("contract", string(next))
	log.Infow("contract signed", "contract", c.ID, "by", userID, "status", c.Status)

	other := c.Seller.User
	if userID == c.Seller.User {
		other = c.Buyer.User
	}
	if next == StatusSigned {
		s.notify(ctx, alerts.EventContractSigned, "Contract "+c.ContractNumber+" fully signed",
			"Both parties have signed. The buyer can now fund escrow.", c, c.Seller.User, c.Buyer.User)
		if s.mirror != nil {
			if err := s.mirror.MirrorSignatures(ctx, c.ID); err != nil {
				log.Errorw("schedule ledger mirror", "contract", c.ID, "error", err)
			}
		}
	} else {
		s.notify(ctx, alerts.EventContractSigned, "Contract "+c.ContractNumber+" awaits your signature",
			"The other party has signed.", c, other)
	}
	return c, nil
}

// LedgerReceipts is what the ledger returned for a contract.
type LedgerReceipts struct {
	Network           string
	ContractAddress   string
	DeploymentTx      string
	SellerSignatureTx string
	BuyerSignatureTx  string
}

// RecordLedger stores receipts. Fields already set are kept.
func (s *Service) RecordLedger(ctx context.Context, id string, r LedgerReceipts) (*Contract, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &c.Blockchain
	changed := false
	set := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	set(&b.Network, r.Network)
	set(&b.ContractAddress, r.ContractAddress)
	set(&b.DeploymentTx, r.DeploymentTx)
	set(&b.SellerSignatureTx, r.SellerSignatureTx)
	set(&b.BuyerSignatureTx, r.BuyerSignatureTx)
	if !changed {
		return c, nil
	}
	if b.RecordedAt == nil {
		now := s.now()
		b.RecordedAt = &now
	}
	return c, s.save(ctx, c)
}

// advance moves the contract to `to`, recording timestamps. A disputed
// contract only leaves through ResolveDispute or cancellation.
func (s *Service) advance(ctx context.Context, c *Contract, to Status) error {
	if c.Status == StatusDisputed && to != StatusCancelled {
		return apperr.Conflict(apperr.CodeIllegalTransition, "contract %s is disputed", c.ID)
	}
	if err := Flow.Check(c.Status, to); err != nil {
		return err
	}
	now := s.now()
	switch to {
	case StatusExecuted:
		c.ExecutedAt = &now
	case StatusCompleted:
		c.CompletedAt = &now
	case StatusCancelled:
		c.CancelledAt = &now
	}
	c.Status = to
	if err := s.save(ctx, c); err != nil {
		return err
	}
	metrics.Transition("contract", string(to))
	log.Infow("contract status changed", "contract", c.ID, "status", to)
	return nil
}

// Execute marks a signed contract as being carried out.
func (s *Service) Execute(ctx context.Context, id, actorID string, admin bool) (*Contract, error) {
	c, err := s.GetFor(ctx, id, actorID, admin)
	if err != nil {
		return nil, err
	}
	return c, s.advance(ctx, c, StatusExecuted)
}

func (s *Service) Complete(ctx context.Context, id, actorID string, admin bool) (*Contract, error) {
	c, err := s.GetFor(ctx, id, actorID, admin)
	if err != nil {
		return nil, err
	}
	if !admin && actorID != c.Buyer.User {
		return nil, apperr.Forbidden("only the buyer or an admin can complete contract %s", id)
	}
	return c, s.advance(ctx, c, StatusCompleted)
}

// Advance is used by the payment flow: it moves the contract forward when
// the move is legal and is a no-op otherwise. A lost update race is retried.
func (s *Service) Advance(ctx context.Context, id string, to Status) error {
	for attempt := 0; attempt < 3; attempt++ {
		c, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Status == to || c.Status == StatusDisputed || !Flow.Can(c.Status, to) {
			return nil
		}
		err = s.advance(ctx, c, to)
		if !errors.Is(err, apperr.ErrConcurrentUpdate) {
			return err
		}
	}
	return apperr.Conflict(apperr.CodeConcurrentUpdate, "contract %s kept changing", id)
}

// Cancel ends a contract. Parties may cancel until execution starts; admins
// may cancel any live contract.
func (s *Service) Cancel(ctx context.Context, id, actorID string, admin bool, reason string) (*Contract, error) {
	c, err := s.GetFor(ctx, id, actorID, admin)
	if err != nil {
		return nil, err
	}
	if !admin && (c.Status == StatusExecuted || c.Status == StatusDisputed) {
		return nil, apperr.Forbidden("contract %s is %s; ask an admin to cancel", id, c.Status)
	}
	c.CancelReason = reason
	return c, s.advance(ctx, c, StatusCancelled)
}

// RaiseDispute freezes the contract and tells the payment side.
func (s *Service) RaiseDispute(ctx context.Context, id, actorID, reason string) (*Contract, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("dispute reason is required")
	}
	c, err := s.GetFor(ctx, id, actorID, false)
	if err != nil {
		return nil, err
	}
	if err := Flow.Check(c.Status, StatusDisputed); err != nil {
		return nil, err
	}
	c.StatusBeforeDispute = c.Status
	c.Status = StatusDisputed
	c.Disputes = append(c.Disputes, Dispute{RaisedBy: actorID, Reason: reason, RaisedAt: s.now(), Status: DisputeOpen})
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	metrics.Transition("contract", string(StatusDisputed))
	s.tellPayment(ctx, c.ID, true)
	if err := s.alerts.AdminAlert(ctx, actorID, "warning", "Dispute raised on contract "+c.ContractNumber+": "+reason); err != nil {
		log.Warnw("admin alert", "contract", c.ID, "error", err)
	}
	other := c.Seller.User
	if actorID == c.Seller.User {
		other = c.Buyer.User
	}
	s.notify(ctx, alerts.EventContractDisputed, "Dispute on "+c.ContractNumber, reason, c, other)
	return c, nil
}

type Outcome string

const (
	OutcomeResume Outcome = "resume"
	OutcomeCancel Outcome = "cancel"
)

// ResolveDispute closes the open dispute. resume returns the contract to
// the status it had when the dispute was raised.
func (s *Service) ResolveDispute(ctx context.Context, id, adminID string, outcome Outcome, resolution string) (*Contract, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := c.openDispute()
	if c.Status != StatusDisputed || d == nil {
		return nil, apperr.Conflict(apperr.CodeIllegalTransition, "contract %s has no open dispute", id)
	}
	var to Status
	switch outcome {
	case OutcomeResume:
		to = c.StatusBeforeDispute
	case OutcomeCancel:
		to = StatusCancelled
	default:
		return nil, apperr.Validation("outcome must be resume or cancel")
	}
	if err := Flow.Check(c.Status, to); err != nil {
		return nil, err
	}
	now := s.now()
	d.Status = DisputeResolved
	d.Resolution = resolution
	d.ResolvedBy = adminID
	d.ResolvedAt = &now
	c.StatusBeforeDispute = ""
	c.Status = to
	if to == StatusCancelled {
		c.CancelReason = resolution
		c.CancelledAt = &now
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	metrics.Transition("contract", string(to))
	// a cancelled contract keeps the payment's dispute flag up; escrow can
	// only leave through a refund
	if to != StatusCancelled {
		s.tellPayment(ctx, c.ID, false)
	}
	s.notify(ctx, alerts.EventDisputeResolved, "Dispute on "+c.ContractNumber+" resolved",
		lo.CoalesceOrEmpty(strings.TrimSpace(resolution), "The dispute was resolved by an admin."), c, c.Seller.User, c.Buyer.User)
	return c, nil
}

func (s *Service) tellPayment(ctx context.Context, contractID string, open bool) {
	if s.disputes == nil {
		return
	}
	if err := s.disputes.SetDisputeOpen(ctx, contractID, open); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		log.Errorw("update payment dispute flag", "contract", contractID, "open", open, "error", err)
	}
}

type MilestoneInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
}

func (s *Service) AddMilestone(ctx context.Context, id, actorID string, in MilestoneInput) (*Contract, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation("milestone title is required")
	}
	c, err := s.GetFor(ctx, id, actorID, false)
	if err != nil {
		return nil, err
	}
	if Flow.IsTerminal(c.Status) {
		return nil, apperr.Conflict(apperr.CodeIllegalTransition, "contract %s is %s", id, c.Status)
	}
	c.Milestones = append(c.Milestones, Milestone{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		DueDate:     in.DueDate,
		Status:      MilestonePending,
	})
	return c, s.save(ctx, c)
}

func (s *Service) CompleteMilestone(ctx context.Context, id, milestoneID, actorID string) (*Contract, error) {
	c, err := s.GetFor(ctx, id, actorID, false)
	if err != nil {
		return nil, err
	}
	for i := range c.Milestones {
		m := &c.Milestones[i]
		if m.ID != milestoneID {
			continue
		}
		if m.Status == MilestoneCompleted {
			return c, nil
		}
		now := s.now()
		m.Status = MilestoneCompleted
		m.CompletedAt = &now
		m.CompletedBy = actorID
		return c, s.save(ctx, c)
	}
	return nil, apperr.NotFound("milestone", milestoneID)
}
