package negotiation

import (
	"context"
	"errors"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/samber/lo"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/catalog"
	"github.com/sudo-init-do/wastex/internal/metrics"
	"github.com/sudo-init-do/wastex/internal/store"
)

var log = logging.Logger("negotiation")

// Catalog resolves the entry a negotiation is opened on.
type Catalog interface {
	ListingEntry(ctx context.Context, id string) (catalog.Entry, error)
	RequestEntry(ctx context.Context, id string) (catalog.Entry, error)
}

// Broadcaster pushes thread events to connected clients.
type Broadcaster interface {
	Broadcast(room, typ string, data any)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, string, any) {}

type Service struct {
	negotiations *store.Collection[Negotiation]
	catalog      Catalog
	alerts       alerts.Publisher
	room         Broadcaster
	clk          clock.Clock
	ttl          time.Duration
}

func NewService(b store.Backend, cat Catalog, pub alerts.Publisher, room Broadcaster, clk clock.Clock, ttl time.Duration) *Service {
	if pub == nil {
		pub = alerts.Nop{}
	}
	if room == nil {
		room = nopBroadcaster{}
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		negotiations: store.NewCollection[Negotiation](b, Spec),
		catalog:      cat,
		alerts:       pub,
		room:         room,
		clk:          clk,
		ttl:          ttl,
	}
}

func (s *Service) now() time.Time { return s.clk.Now().UTC() }

func (s *Service) Get(ctx context.Context, id string) (*Negotiation, error) {
	n, err := s.negotiations.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("negotiation", id)
	}
	return n, err
}

// GetFor loads a negotiation the user takes part in.
func (s *Service) GetFor(ctx context.Context, id, userID string) (*Negotiation, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(userID) {
		return nil, apperr.New(apperr.KindAuthorization, apperr.CodeNotParticipant,
			"user %s is not a participant of negotiation %s", userID, id)
	}
	return n, nil
}

func (s *Service) save(ctx context.Context, n *Negotiation) error {
	if err := s.negotiations.Update(ctx, n); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "negotiation %s was modified concurrently, retry", n.ID)
		}
		return err
	}
	return nil
}

func (s *Service) notify(ctx context.Context, ev alerts.Event) {
	if err := s.alerts.Publish(ctx, ev); err != nil {
		log.Warnw("publish notification", "type", ev.Type, "user", ev.UserID, "error", err)
	}
}

type StartInput struct {
	Listing string `json:"listing"`
	Request string `json:"request"`
	Message string `json:"message"`
}

// Start opens a thread. Buyers start on a listing, sellers on a request; the
// counterpart is the owner of that catalog entry.
func (s *Service) Start(ctx context.Context, actorID, role string, in StartInput) (*Negotiation, error) {
	if (in.Listing == "") == (in.Request == "") {
		return nil, apperr.Validation("exactly one of listing or request is required")
	}
	n := &Negotiation{Listing: in.Listing, Request: in.Request, Status: StatusActive}
	var (
		entry catalog.Entry
		err   error
	)
	if in.Listing != "" {
		if role != "buyer" {
			return nil, apperr.Forbidden("only buyers can negotiate on a listing")
		}
		entry, err = s.catalog.ListingEntry(ctx, in.Listing)
		n.Buyer, n.Seller = actorID, entry.Owner
	} else {
		if role != "seller" {
			return nil, apperr.Forbidden("only sellers can respond to a request")
		}
		entry, err = s.catalog.RequestEntry(ctx, in.Request)
		n.Buyer, n.Seller = entry.Owner, actorID
	}
	if err != nil {
		return nil, err
	}
	if n.Buyer == n.Seller {
		return nil, apperr.Validation("buyer and seller must be different users")
	}
	n.Material = Material{Title: entry.Title, Category: entry.Category, Unit: entry.Unit, Currency: entry.Currency}

	now := s.now()
	n.LastActivity = now
	n.ExpiresAt = now.Add(s.ttl)
	n.Messages = []Message{{Type: MessageSystem, Content: "Negotiation started for " + entry.Title, SentAt: now, ReadBy: []Receipt{}}}
	if msg := strings.TrimSpace(in.Message); msg != "" {
		n.Messages = append(n.Messages, Message{Sender: actorID, Content: msg, Type: MessageText, SentAt: now, ReadBy: []Receipt{}})
	}
	if err := s.negotiations.Insert(ctx, n); err != nil {
		return nil, err
	}
	metrics.Transition("negotiation", string(StatusActive))
	s.notify(ctx, alerts.Event{
		Type:      alerts.EventNegotiationStarted,
		UserID:    n.Counterpart(actorID),
		Title:     "New negotiation",
		Body:      "A negotiation was opened on " + entry.Title,
		Reference: n.ID,
		Email:     true,
	})
	log.Infow("negotiation started", "negotiation", n.ID, "buyer", n.Buyer, "seller", n.Seller)
	return n, nil
}

// open loads a negotiation that the user may write to.
func (s *Service) open(ctx context.Context, id, userID string) (*Negotiation, error) {
	n, err := s.GetFor(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !n.Open(s.now()) {
		return nil, apperr.Conflict(apperr.CodeNegotiationClosed, "negotiation %s is %s", id, n.effectiveStatus(s.now()))
	}
	return n, nil
}

func (n *Negotiation) effectiveStatus(now time.Time) Status {
	if !Flow.IsTerminal(n.Status) && !now.Before(n.ExpiresAt) {
		return StatusExpired
	}
	return n.Status
}

func (s *Service) appendMessage(n *Negotiation, m Message) *Message {
	m.SentAt = s.now()
	if m.ReadBy == nil {
		m.ReadBy = []Receipt{}
	}
	n.Messages = append(n.Messages, m)
	n.LastActivity = m.SentAt
	return &n.Messages[len(n.Messages)-1]
}

// PostMessage appends a chat message. Messages carrying an offer are treated
// as ProposeOffer.
func (s *Service) PostMessage(ctx context.Context, id, senderID, content string, typ MessageType, offer *Terms) (*Negotiation, error) {
	if offer != nil {
		return s.ProposeOffer(ctx, id, senderID, *offer, content)
	}
	switch typ {
	case "":
		typ = MessageText
	case MessageText:
	default:
		return nil, apperr.Validation("message type %q needs the offer endpoints", typ)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("message content is required")
	}
	n, err := s.open(ctx, id, senderID)
	if err != nil {
		return nil, err
	}
	m := *s.appendMessage(n, Message{Sender: senderID, Content: content, Type: typ})
	if err := s.save(ctx, n); err != nil {
		return nil, err
	}
	s.room.Broadcast(n.ID, "message_new", m)
	s.notify(ctx, alerts.Event{
		Type:      alerts.EventMessageNew,
		UserID:    n.Counterpart(senderID),
		Title:     "New message on " + n.Material.Title,
		Body:      content,
		Reference: n.ID,
	})
	return n, nil
}

func validateTerms(t Terms) error {
	if !t.Price.IsPositive() {
		return apperr.Validation("offer price must be greater than zero")
	}
	if !t.Quantity.IsPositive() {
		return apperr.Validation("offer quantity must be greater than zero")
	}
	return nil
}

func (s *Service) setOffer(n *Negotiation, proposerID string, t Terms, typ MessageType, note string) Message {
	now := s.now()
	n.CurrentOffer = &Offer{Terms: t, ProposedBy: proposerID, Status: OfferPending, ProposedAt: now}
	terms := t
	if note == "" {
		note = "Offer: " + t.Quantity.String() + " " + n.Material.Unit + " at " + t.Price.String()
	}
	n.Status = StatusPending
	return *s.appendMessage(n, Message{Sender: proposerID, Content: note, Type: typ, Offer: &terms})
}

// ProposeOffer replaces the current offer with a new pending one.
func (s *Service) ProposeOffer(ctx context.Context, id, proposerID string, t Terms, note string) (*Negotiation, error) {
	if err := validateTerms(t); err != nil {
		return nil, err
	}
	n, err := s.open(ctx, id, proposerID)
	if err != nil {
		return nil, err
	}
	if err := Flow.Check(n.Status, StatusPending); err != nil {
		return nil, err
	}
	if n.CurrentOffer != nil && n.CurrentOffer.Status == OfferPending {
		n.CurrentOffer.Status = OfferCountered
	}
	m := s.setOffer(n, proposerID, t, MessageOffer, note)
	if err := s.save(ctx, n); err != nil {
		return nil, err
	}
	metrics.Transition("negotiation", string(StatusPending))
	s.room.Broadcast(n.ID, "offer_new", m)
	s.notify(ctx, alerts.Event{
		Type:      alerts.EventOfferProposed,
		UserID:    n.Counterpart(proposerID),
		Title:     "New offer on " + n.Material.Title,
		Body:      m.Content,
		Reference: n.ID,
		Email:     true,
	})
	return n, nil
}

// RespondToOffer answers the pending offer. Only the participant who did not
// propose it may answer.
func (s *Service) RespondToOffer(ctx context.Context, id, responderID string, decision Decision, counter *Terms, note string) (*Negotiation, error) {
	switch decision {
	case Accept, Reject:
	case Counter:
		if counter == nil {
			return nil, apperr.Validation("counter offer details are required")
		}
		if err := validateTerms(*counter); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Validation("decision must be accept, reject or counter")
	}

	n, err := s.open(ctx, id, responderID)
	if err != nil {
		return nil, err
	}
	cur := n.CurrentOffer
	if cur == nil || cur.Status != OfferPending {
		return nil, apperr.Conflict(apperr.CodeNoPendingOffer, "negotiation %s has no pending offer", id)
	}
	if cur.ProposedBy == responderID {
		return nil, apperr.New(apperr.KindAuthorization, apperr.CodeNotParticipant,
			"user %s cannot answer their own offer", responderID)
	}

	next := map[Decision]Status{Accept: StatusCompleted, Reject: StatusActive, Counter: StatusPending}[decision]
	if err := Flow.Check(n.Status, next); err != nil {
		return nil, err
	}
	var m Message
	switch decision {
	case Accept:
		now := s.now()
		cur.Status = OfferAccepted
		n.AgreedTerms = &Agreement{Terms: cur.Terms, Material: n.Material, AcceptedBy: responderID, AcceptedAt: now}
		n.DealValue = cur.Price.Mul(cur.Quantity)
		m = *s.appendMessage(n, Message{Sender: responderID, Content: lo.CoalesceOrEmpty(note, "Offer accepted"), Type: MessageAcceptance})
	case Reject:
		cur.Status = OfferRejected
		m = *s.appendMessage(n, Message{Sender: responderID, Content: lo.CoalesceOrEmpty(note, "Offer rejected"), Type: MessageRejection})
	case Counter:
		cur.Status = OfferCountered
		m = s.setOffer(n, responderID, *counter, MessageCounterOffer, note)
	}
	n.Status = next
	if err := s.save(ctx, n); err != nil {
		return nil, err
	}
	metrics.Transition("negotiation", string(next))
	s.room.Broadcast(n.ID, "offer_"+string(decision), m)
	s.notify(ctx, alerts.Event{
		Type:      alerts.EventOfferAnswered,
		UserID:    n.Counterpart(responderID),
		Title:     "Offer " + string(decision) + "ed on " + n.Material.Title,
		Body:      m.Content,
		Reference: n.ID,
		Email:     decision == Accept,
	})
	log.Infow("offer answered", "negotiation", n.ID, "decision", decision, "status", n.Status)
	return n, nil
}

// MarkRead adds read receipts for every message userID has not read yet.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*Negotiation, error) {
	n, err := s.GetFor(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.UnreadCount(userID) == 0 {
		return n, nil
	}
	now := s.now()
	for i := range n.Messages {
		m := &n.Messages[i]
		if m.Sender != userID && !m.readBy(userID) {
			m.ReadBy = append(m.ReadBy, Receipt{User: userID, ReadAt: now})
		}
	}
	if err := s.save(ctx, n); err != nil {
		return nil, err
	}
	s.room.Broadcast(n.ID, "message_read", Receipt{User: userID, ReadAt: now})
	return n, nil
}

// UnreadTotal sums unread messages over the user's negotiations.
func (s *Service) UnreadTotal(ctx context.Context, userID string) (int, error) {
	items, err := s.ListFor(ctx, userID, "")
	if err != nil {
		return 0, err
	}
	return lo.SumBy(items, func(n *Negotiation) int { return n.UnreadCount(userID) }), nil
}

// ListFor returns the user's negotiations, newest first, optionally filtered
// by stored status.
func (s *Service) ListFor(ctx context.Context, userID, status string) ([]*Negotiation, error) {
	q := store.Query{
		Where: store.Filter{},
		AnyOf: []store.Filter{{"buyer": userID}, {"seller": userID}},
	}
	if status != "" {
		q.Where["status"] = status
	}
	return s.negotiations.Find(ctx, q)
}

// Cancel closes a live negotiation on a participant's request.
func (s *Service) Cancel(ctx context.Context, id, actorID, reason string) (*Negotiation, error) {
	n, err := s.open(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if err := Flow.Check(n.Status, StatusCancelled); err != nil {
		return nil, err
	}
	if n.CurrentOffer != nil && n.CurrentOffer.Status == OfferPending {
		n.CurrentOffer.Status = OfferRejected
	}
	n.Status = StatusCancelled
	m := *s.appendMessage(n, Message{Type: MessageSystem, Content: lo.CoalesceOrEmpty(reason, "Negotiation cancelled")})
	if err := s.save(ctx, n); err != nil {
		return nil, err
	}
	metrics.Transition("negotiation", string(StatusCancelled))
	s.room.Broadcast(n.ID, "negotiation_cancelled", m)
	return n, nil
}

// ExpireStale marks live negotiations past expiresAt as expired. Returns how
// many were changed; negotiations updated concurrently are left for the next
// sweep.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	for _, st := range []Status{StatusActive, StatusPending} {
		items, err := s.negotiations.Find(ctx, store.Query{Where: store.Filter{"status": string(st)}})
		if err != nil {
			return expired, err
		}
		for _, n := range items {
			if now.Before(n.ExpiresAt) {
				continue
			}
			n.Status = StatusExpired
			if n.CurrentOffer != nil && n.CurrentOffer.Status == OfferPending {
				n.CurrentOffer.Status = OfferRejected
			}
			if err := s.save(ctx, n); err != nil {
				if errors.Is(err, apperr.ErrConcurrentUpdate) {
					continue
				}
				return expired, err
			}
			metrics.Transition("negotiation", string(StatusExpired))
			expired++
		}
	}
	if expired > 0 {
		log.Infow("negotiations expired", "count", expired)
	}
	return expired, nil
}

// Agreement returns the agreed terms of a completed negotiation for a
// participant.
func (s *Service) Agreement(ctx context.Context, id, userID string) (*Negotiation, error) {
	n, err := s.GetFor(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.AgreedTerms == nil || n.Status != StatusCompleted {
		return nil, apperr.Conflict(apperr.CodeNegotiationNotAgreed, "negotiation %s has no agreed terms", id)
	}
	return n, nil
}
