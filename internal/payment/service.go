package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/gateway"
	"github.com/sudo-init-do/wastex/internal/metrics"
	"github.com/sudo-init-do/wastex/internal/store"
)

var log = logging.Logger("payment")

// Contracts is the part of the contract service payments depend on.
type Contracts interface {
	Get(ctx context.Context, id string) (*contract.Contract, error)
	Advance(ctx context.Context, id string, to contract.Status) error
}

type Options struct {
	FeeRate     decimal.Decimal
	Currency    string
	AutoRelease time.Duration
}

type Service struct {
	payments  *store.Collection[Payment]
	counters  store.Counters
	contracts Contracts
	gateway   gateway.Gateway
	alerts    alerts.Publisher
	clk       clock.Clock
	opts      Options
}

func NewService(b store.Backend, contracts Contracts, gw gateway.Gateway, pub alerts.Publisher, clk clock.Clock, opts Options) *Service {
	if pub == nil {
		pub = alerts.Nop{}
	}
	if opts.AutoRelease <= 0 {
		opts.AutoRelease = 7 * 24 * time.Hour
	}
	return &Service{
		payments:  store.NewCollection[Payment](b, Spec),
		counters:  b,
		contracts: contracts,
		gateway:   gw,
		alerts:    pub,
		clk:       clk,
		opts:      opts,
	}
}

func (s *Service) now() time.Time { return s.clk.Now().UTC() }

// Get accepts either the document id or the PAY- number.
func (s *Service) Get(ctx context.Context, ref string) (*Payment, error) {
	var (
		p   *Payment
		err error
	)
	if strings.HasPrefix(ref, "PAY-") {
		p, err = s.payments.FindOne(ctx, store.Filter{"paymentId": ref})
	} else {
		p, err = s.payments.Get(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("payment", ref)
	}
	return p, err
}

func (s *Service) GetFor(ctx context.Context, ref, userID string, admin bool) (*Payment, error) {
	p, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !admin && !p.IsParty(userID) {
		return nil, apperr.Forbidden("user %s is not a party to payment %s", userID, p.PaymentID)
	}
	return p, nil
}

// ForContract returns the live payment of a contract.
func (s *Service) ForContract(ctx context.Context, contractID string) (*Payment, error) {
	p, err := s.payments.FindOne(ctx, store.Filter{"activeContract": contractID})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("payment for contract", contractID)
	}
	return p, err
}

func (s *Service) ListFor(ctx context.Context, userID, status string) ([]*Payment, error) {
	q := store.Query{
		Where: store.Filter{},
		AnyOf: []store.Filter{{"buyer": userID}, {"seller": userID}},
	}
	if status != "" {
		q.Where["status"] = status
	}
	return s.payments.Find(ctx, q)
}

func (s *Service) save(ctx context.Context, p *Payment) error {
	if err := s.payments.Update(ctx, p); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "payment %s was modified concurrently, retry", p.PaymentID)
		}
		return err
	}
	return nil
}

func (s *Service) record(p *Payment, actor, note string) {
	p.Timeline = append(p.Timeline, Entry{Status: p.Status, Note: note, Actor: actor, At: s.now()})
}

// move changes status through the table and logs it on the timeline.
func (s *Service) move(p *Payment, to Status, actor, note string) error {
	if err := Flow.Check(p.Status, to); err != nil {
		return err
	}
	now := s.now()
	switch to {
	case StatusPaidToPlatform:
		p.PaidAt = &now
	case StatusHeldInEscrow:
		p.EscrowedAt = &now
	case StatusReleasedToSeller:
		p.ReleasedAt = &now
	case StatusRefunded:
		p.RefundedAt = &now
	case StatusFailed:
		p.ActiveContract = ""
		p.FailureReason = note
	}
	p.Status = to
	s.record(p, actor, note)
	return nil
}

func (s *Service) notify(ctx context.Context, typ, title, body string, p *Payment, users ...string) {
	for _, u := range users {
		if err := s.alerts.Publish(ctx, alerts.Event{Type: typ, UserID: u, Title: title, Body: body, Reference: p.ID, Email: true}); err != nil {
			log.Warnw("publish notification", "type", typ, "user", u, "error", err)
		}
	}
}

func (s *Service) advanceContract(ctx context.Context, contractID string, to contract.Status) {
	if err := s.contracts.Advance(ctx, contractID, to); err != nil {
		log.Errorw("advance contract", "contract", contractID, "to", to, "error", err)
	}
}

// openContract fails when the payment's contract has been cancelled.
func (s *Service) openContract(ctx context.Context, p *Payment) error {
	c, err := s.contracts.Get(ctx, p.Contract)
	if err != nil {
		return err
	}
	if c.Status == contract.StatusCancelled {
		return apperr.Conflict(apperr.CodeIllegalTransition, "contract %s is %s", c.ContractNumber, c.Status)
	}
	return nil
}

func duplicatePayment(contractID string) error {
	return apperr.Conflict(apperr.CodeDuplicatePayment, "a payment already exists for contract %s", contractID)
}

// CreateOrder opens the escrow payment for a signed contract and registers
// the order with the gateway.
func (s *Service) CreateOrder(ctx context.Context, contractID, actorID string) (*Payment, error) {
	c, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if actorID != c.Buyer.User {
		return nil, apperr.Forbidden("only the buyer can pay for contract %s", c.ContractNumber)
	}
	if c.Status != contract.StatusSigned && c.Status != contract.StatusExecuted {
		return nil, apperr.Conflict(apperr.CodeContractNotSigned, "contract %s is %s, not signed", c.ContractNumber, c.Status)
	}
	if !c.Terms.TotalValue.IsPositive() {
		return nil, apperr.Validation("contract %s has no payable value", c.ContractNumber)
	}
	if _, err := s.payments.FindOne(ctx, store.Filter{"activeContract": c.ID}); err == nil {
		return nil, duplicatePayment(c.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	number, err := store.Number(ctx, s.counters, "PAY", now)
	if err != nil {
		return nil, err
	}
	currency := c.Terms.Price.Currency
	if currency == "" {
		currency = s.opts.Currency
	}
	p := &Payment{
		PaymentID:         number,
		Contract:          c.ID,
		ActiveContract:    c.ID,
		Buyer:             c.Buyer.User,
		Seller:            c.Seller.User,
		Amount:            Split(c.Terms.TotalValue, s.opts.FeeRate, currency),
		Status:            StatusPending,
		ReleaseConditions: ReleaseConditions{DisputeResolved: true},
	}
	s.record(p, actorID, "payment created")
	if err := s.payments.Insert(ctx, p); err != nil {
		if store.IsDuplicate(err, "activeContract") {
			return nil, duplicatePayment(c.ID)
		}
		return nil, err
	}

	order, gerr := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   p.Amount.Total,
		Currency: currency,
		Receipt:  p.PaymentID,
		Notes:    map[string]string{"contract": c.ContractNumber},
	})
	if gerr != nil {
		if err := s.move(p, StatusFailed, "system", "gateway order failed: "+gerr.Error()); err == nil {
			if err := s.save(ctx, p); err != nil {
				log.Errorw("mark payment failed", "payment", p.PaymentID, "error", err)
			}
		}
		metrics.Transition("payment", string(StatusFailed))
		return nil, apperr.External(apperr.CodeGatewayFailure, gerr, "gateway order for %s failed", p.PaymentID)
	}
	p.Gateway.OrderID = order.ID
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	metrics.Transition("payment", string(StatusPending))
	log.Infow("payment order created", "payment", p.PaymentID, "contract", c.ID, "total", p.Amount.Total, "order", order.ID)
	return p, nil
}

// VerifyPayment checks the checkout signature. A valid signature captures
// the funds into escrow; a bad one fails the payment.
func (s *Service) VerifyPayment(ctx context.Context, ref, actorID, gatewayPaymentID, signature string) (*Payment, error) {
	if gatewayPaymentID == "" || signature == "" {
		return nil, apperr.Validation("gateway payment id and signature are required")
	}
	p, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if actorID != p.Buyer {
		return nil, apperr.Forbidden("only the buyer can verify payment %s", p.PaymentID)
	}
	if p.Status != StatusPending {
		return nil, apperr.Conflict(apperr.CodeIllegalTransition, "payment %s is %s, not pending", p.PaymentID, p.Status)
	}
	if cerr := s.openContract(ctx, p); cerr != nil {
		if apperr.KindOf(cerr) != apperr.KindConflict {
			return nil, cerr
		}
		if err := s.move(p, StatusFailed, actorID, cerr.Error()); err != nil {
			return nil, err
		}
		if err := s.save(ctx, p); err != nil {
			return nil, err
		}
		metrics.Transition("payment", string(StatusFailed))
		return nil, cerr
	}

	p.Gateway.PaymentID = gatewayPaymentID
	p.Gateway.Signature = signature
	if !s.gateway.Verify(p.Gateway.OrderID, gatewayPaymentID, signature) {
		if err := s.move(p, StatusFailed, actorID, "gateway signature mismatch"); err != nil {
			return nil, err
		}
		if err := s.save(ctx, p); err != nil {
			return nil, err
		}
		metrics.Transition("payment", string(StatusFailed))
		log.Warnw("payment signature invalid", "payment", p.PaymentID)
		return nil, apperr.New(apperr.KindValidation, apperr.CodeSignatureInvalid,
			"gateway signature for payment %s is invalid; payment marked failed", p.PaymentID)
	}

	if err := s.move(p, StatusPaidToPlatform, actorID, "payment captured by gateway "+gatewayPaymentID); err != nil {
		return nil, err
	}
	if err := s.move(p, StatusHeldInEscrow, "system", "funds held in escrow"); err != nil {
		return nil, err
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	metrics.Transition("payment", string(StatusHeldInEscrow))
	amt, _ := p.Amount.Total.Float64()
	metrics.EscrowVolume.WithLabelValues("escrowed", p.Amount.Currency).Add(amt)

	s.advanceContract(ctx, p.Contract, contract.StatusExecuted)
	s.notify(ctx, alerts.EventPaymentEscrowed, "Payment "+p.PaymentID+" in escrow",
		"Funds of "+p.Amount.Total.StringFixed(2)+" "+p.Amount.Currency+" are held in escrow.", p, p.Buyer, p.Seller)
	return p, nil
}

// ConfirmDelivery records the buyer's acceptance of the goods and starts
// the auto-release clock.
func (s *Service) ConfirmDelivery(ctx context.Context, ref, buyerID string, qualityApproved bool) (*Payment, error) {
	p, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if buyerID != p.Buyer {
		return nil, apperr.Forbidden("only the buyer can confirm delivery for payment %s", p.PaymentID)
	}
	if Flow.IsTerminal(p.Status) {
		return nil, apperr.Conflict(apperr.CodeIllegalTransition, "payment %s is %s", p.PaymentID, p.Status)
	}
	p.ReleaseConditions.DeliveryConfirmed = true
	p.ReleaseConditions.QualityApproved = qualityApproved
	at := s.now().Add(s.opts.AutoRelease)
	p.AutoReleaseDate = &at
	note := "delivery confirmed, quality approved"
	if !qualityApproved {
		note = "delivery confirmed, quality not approved"
	}
	s.record(p, buyerID, note)
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// unmet lists every release precondition that does not hold.
func unmet(p *Payment) error {
	var merr *multierror.Error
	if p.Status != StatusHeldInEscrow {
		merr = multierror.Append(merr, fmt.Errorf("payment is %s, not held in escrow", p.Status))
	}
	rc := p.ReleaseConditions
	if !rc.DeliveryConfirmed {
		merr = multierror.Append(merr, errors.New("delivery not confirmed"))
	}
	if !rc.QualityApproved {
		merr = multierror.Append(merr, errors.New("quality not approved"))
	}
	if !rc.DisputeResolved {
		merr = multierror.Append(merr, errors.New("dispute not resolved"))
	}
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = func(errs []error) string {
		parts := make([]string, len(errs))
		for i, e := range errs {
			parts[i] = e.Error()
		}
		return strings.Join(parts, "; ")
	}
	return merr
}

// Release pays the seller out of escrow. The buyer or an admin may release.
func (s *Service) Release(ctx context.Context, ref, actorID string, admin bool) (*Payment, error) {
	p, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !admin && actorID != p.Buyer {
		return nil, apperr.Forbidden("only the buyer or an admin can release payment %s", p.PaymentID)
	}
	if err := s.openContract(ctx, p); err != nil {
		return nil, err
	}
	if err := unmet(p); err != nil {
		metrics.Rejections.WithLabelValues("payment", apperr.CodeReleaseConditionsNotMet).Inc()
		return nil, apperr.Wrap(apperr.KindConflict, apperr.CodeReleaseConditionsNotMet, err, "release conditions not met")
	}
	if err := s.move(p, StatusReleasedToSeller, actorID, "released "+p.Amount.SellerAmount.StringFixed(2)+" to seller"); err != nil {
		return nil, err
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	metrics.Transition("payment", string(StatusReleasedToSeller))
	amt, _ := p.Amount.SellerAmount.Float64()
	metrics.EscrowVolume.WithLabelValues("released", p.Amount.Currency).Add(amt)

	s.advanceContract(ctx, p.Contract, contract.StatusCompleted)
	s.notify(ctx, alerts.EventPaymentReleased, "Payment "+p.PaymentID+" released",
		p.Amount.SellerAmount.StringFixed(2)+" "+p.Amount.Currency+" has been released to the seller.", p, p.Buyer, p.Seller)
	log.Infow("payment released", "payment", p.PaymentID, "by", actorID)
	return p, nil
}

func notEligible(p *Payment, why string) error {
	return apperr.Conflict(apperr.CodeNotEligibleForRefund, "payment %s is not eligible for refund: %s", p.PaymentID, why)
}

// RequestRefund is the buyer asking for the escrowed funds back.
func (s *Service) RequestRefund(ctx context.Context, ref, buyerID, reason string) (*Payment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("refund reason is required")
	}
	p, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if buyerID != p.Buyer {
		return nil, apperr.Forbidden("only the buyer can request a refund for payment %s", p.PaymentID)
	}
	if p.Status != StatusHeldInEscrow {
		return nil, notEligible(p, "status is "+string(p.Status))
	}
	if p.Refund != nil && p.Refund.Status == RefundRequested {
		return nil, notEligible(p, "a refund request is already open")
	}
	p.Refund = &Refund{Reason: reason, RequestedBy: buyerID, RequestedAt: s.now(), Status: RefundRequested}
	s.record(p, buyerID, "refund requested: "+reason)
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.notify(ctx, alerts.EventRefundRequested, "Refund requested on "+p.PaymentID, reason, p, p.Seller)
	if err := s.alerts.AdminAlert(ctx, buyerID, "info", "Refund requested on "+p.PaymentID+": "+reason); err != nil {
		log.Warnw("admin alert", "payment", p.PaymentID, "error", err)
	}
	return p, nil
}

func (s *Service) decide(ctx context.Context, ref, actorID string, admin bool) (*Payment, error) {
	p, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !admin && actorID != p.Seller {
		return nil, apperr.Forbidden("only the seller or an admin can decide refunds for payment %s", p.PaymentID)
	}
	if p.Status != StatusHeldInEscrow {
		return nil, notEligible(p, "status is "+string(p.Status))
	}
	if p.Refund == nil || p.Refund.Status != RefundRequested {
		return nil, notEligible(p, "no open refund request")
	}
	return p, nil
}

// ApproveRefund returns the escrowed funds to the buyer.
func (s *Service) ApproveRefund(ctx context.Context, ref, actorID string, admin bool, note string) (*Payment, error) {
	p, err := s.decide(ctx, ref, actorID, admin)
	if err != nil {
		return nil, err
	}
	now := s.now()
	p.Refund.Status = RefundApproved
	p.Refund.DecidedBy = actorID
	p.Refund.DecidedAt = &now
	p.Refund.Note = note
	if err := s.move(p, StatusRefunded, actorID, "refund approved"); err != nil {
		return nil, err
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	metrics.Transition("payment", string(StatusRefunded))
	amt, _ := p.Amount.Total.Float64()
	metrics.EscrowVolume.WithLabelValues("refunded", p.Amount.Currency).Add(amt)

	s.advanceContract(ctx, p.Contract, contract.StatusCancelled)
	s.notify(ctx, alerts.EventRefundDecided, "Refund approved on "+p.PaymentID, note, p, p.Buyer, p.Seller)
	return p, nil
}

// RejectRefund closes the request; the funds stay in escrow.
func (s *Service) RejectRefund(ctx context.Context, ref, actorID string, admin bool, note string) (*Payment, error) {
	p, err := s.decide(ctx, ref, actorID, admin)
	if err != nil {
		return nil, err
	}
	now := s.now()
	p.Refund.Status = RefundRejected
	p.Refund.DecidedBy = actorID
	p.Refund.DecidedAt = &now
	p.Refund.Note = note
	s.record(p, actorID, "refund rejected")
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.notify(ctx, alerts.EventRefundDecided, "Refund rejected on "+p.PaymentID, note, p, p.Buyer)
	return p, nil
}

// SetDisputeOpen flips disputeResolved for the contract's live payment.
func (s *Service) SetDisputeOpen(ctx context.Context, contractID string, open bool) error {
	for attempt := 0; attempt < 3; attempt++ {
		p, err := s.ForContract(ctx, contractID)
		if err != nil {
			return err
		}
		if p.ReleaseConditions.DisputeResolved == !open {
			return nil
		}
		p.ReleaseConditions.DisputeResolved = !open
		note := "dispute resolved"
		if open {
			note = "dispute opened"
		}
		s.record(p, "system", note)
		err = s.save(ctx, p)
		if !errors.Is(err, apperr.ErrConcurrentUpdate) {
			return err
		}
	}
	return apperr.Conflict(apperr.CodeConcurrentUpdate, "payment for contract %s kept changing", contractID)
}
