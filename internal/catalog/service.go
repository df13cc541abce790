package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/fsm"
	"github.com/sudo-init-do/wastex/internal/store"
)

var log = logging.Logger("catalog")

var (
	listingFlow = fsm.New("listing",
		fsm.On(ListingActive, ListingInactive, ListingSold, ListingExpired, ListingSuspended),
		fsm.On(ListingInactive, ListingActive, ListingSold, ListingSuspended),
		fsm.On(ListingSuspended, ListingActive, ListingInactive),
		fsm.On(ListingExpired, ListingActive),
	).Terminal(ListingSold)

	requestFlow = fsm.New("request",
		fsm.On(RequestActive, RequestFulfilled, RequestExpired, RequestCancelled),
		fsm.On(RequestExpired, RequestActive),
	).Terminal(RequestFulfilled, RequestCancelled)
)

type Service struct {
	listings *store.Collection[Listing]
	requests *store.Collection[Request]
	clk      clock.Clock
	ttl      time.Duration
	currency string
}

func NewService(b store.Backend, clk clock.Clock, ttl time.Duration, currency string) *Service {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		listings: store.NewCollection[Listing](b, ListingSpec),
		requests: store.NewCollection[Request](b, RequestSpec),
		clk:      clk,
		ttl:      ttl,
		currency: currency,
	}
}

// Input is the body for creating or replacing a listing or request. Amount is
// the asking price for listings and the budget for requests.
type Input struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	Quantity    Quantity   `json:"quantity"`
	Amount      Money      `json:"amount"`
	Location    Location   `json:"location"`
	Urgency     Urgency    `json:"urgency"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

func (s *Service) item(in Input, now time.Time) (Item, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Category) == "" {
		return Item{}, apperr.Validation("title and category are required")
	}
	if !in.Quantity.Value.IsPositive() || in.Quantity.Unit == "" {
		return Item{}, apperr.Validation("quantity must be positive and have a unit")
	}
	if in.Amount.Value.IsNegative() {
		return Item{}, apperr.Validation("amount cannot be negative")
	}
	if strings.TrimSpace(in.Location.City) == "" {
		return Item{}, apperr.Validation("location city is required")
	}
	switch in.Urgency {
	case "":
		in.Urgency = UrgencyMedium
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
	default:
		return Item{}, apperr.Validation("urgency must be low, medium or high")
	}
	expires := now.Add(s.ttl)
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return Item{}, apperr.Validation("expiresAt must be in the future")
		}
		expires = in.ExpiresAt.UTC()
	}
	tags := lo.Uniq(lo.FilterMap(in.Tags, func(t string, _ int) (string, bool) {
		t = strings.ToLower(strings.TrimSpace(t))
		return t, t != ""
	}))
	return Item{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Category:    strings.ToLower(strings.TrimSpace(in.Category)),
		Tags:        tags,
		Quantity:    in.Quantity,
		Location:    in.Location,
		Urgency:     in.Urgency,
		ExpiresAt:   expires,
	}, nil
}

func (s *Service) money(m Money) Money {
	if m.Currency == "" {
		m.Currency = s.currency
	}
	return m
}

func (s *Service) CreateListing(ctx context.Context, sellerID string, in Input) (*Listing, error) {
	it, err := s.item(in, s.clk.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !in.Amount.Value.IsPositive() {
		return nil, apperr.Validation("listing price must be positive")
	}
	l := &Listing{Item: it, Seller: sellerID, Price: s.money(in.Amount), Status: ListingActive}
	if err := s.listings.Insert(ctx, l); err != nil {
		return nil, err
	}
	log.Infow("listing created", "listing", l.ID, "seller", sellerID)
	return l, nil
}

func (s *Service) CreateRequest(ctx context.Context, buyerID string, in Input) (*Request, error) {
	it, err := s.item(in, s.clk.Now().UTC())
	if err != nil {
		return nil, err
	}
	r := &Request{Item: it, Buyer: buyerID, Budget: s.money(in.Amount), Status: RequestActive}
	if err := s.requests.Insert(ctx, r); err != nil {
		return nil, err
	}
	log.Infow("request created", "request", r.ID, "buyer", buyerID)
	return r, nil
}

func (s *Service) GetListing(ctx context.Context, id string) (*Listing, error) {
	l, err := s.listings.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("listing", id)
	}
	return l, err
}

func (s *Service) GetRequest(ctx context.Context, id string) (*Request, error) {
	r, err := s.requests.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("request", id)
	}
	return r, err
}

// ViewListing is GetListing for public traffic: it counts the view. A lost
// race on the counter is ignored.
func (s *Service) ViewListing(ctx context.Context, id, viewerID string) (*Listing, error) {
	l, err := s.GetListing(ctx, id)
	if err != nil || l.Seller == viewerID {
		return l, err
	}
	l.Views++
	if err := s.listings.Update(ctx, l); err != nil && !errors.Is(err, store.ErrVersionConflict) {
		log.Warnw("count listing view", "listing", id, "error", err)
	}
	return l, nil
}

type Filter struct {
	Owner    string
	Category string
	Status   string
	City     string
	Search   string
	Limit    int
	Offset   int
}

func (f Filter) query(owner string) store.Query {
	q := store.Query{Where: store.Filter{}, Limit: f.Limit, Offset: f.Offset}
	if f.Owner != "" {
		q.Where[owner] = f.Owner
	}
	if f.Category != "" {
		q.Where["category"] = strings.ToLower(f.Category)
	}
	if f.City != "" {
		q.Where["location.city"] = f.City
	}
	if f.Search != "" {
		q.Search = f.Search
		q.SearchFields = []string{"title", "description", "tags"}
	}
	return q
}

// ListListings filters on effective status: an active listing past its
// expiry is reported, and filtered, as expired.
func (s *Service) ListListings(ctx context.Context, f Filter) ([]*Listing, error) {
	q := f.query("seller")
	limit, offset := q.Limit, q.Offset
	if f.Status != "" {
		q.Limit, q.Offset = 0, 0
	}
	items, err := s.listings.Find(ctx, q)
	if err != nil || f.Status == "" {
		return items, err
	}
	now := s.clk.Now()
	items = lo.Filter(items, func(l *Listing, _ int) bool {
		return string(l.EffectiveStatus(now)) == f.Status
	})
	return page(items, limit, offset), nil
}

func (s *Service) ListRequests(ctx context.Context, f Filter) ([]*Request, error) {
	q := f.query("buyer")
	limit, offset := q.Limit, q.Offset
	if f.Status != "" {
		q.Limit, q.Offset = 0, 0
	}
	items, err := s.requests.Find(ctx, q)
	if err != nil || f.Status == "" {
		return items, err
	}
	now := s.clk.Now()
	items = lo.Filter(items, func(r *Request, _ int) bool {
		return string(r.EffectiveStatus(now)) == f.Status
	})
	return page(items, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// UpdateListing replaces the descriptive fields. Only the seller may edit and
// only while the listing is not sold.
func (s *Service) UpdateListing(ctx context.Context, actorID, id string, in Input) (*Listing, error) {
	l, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Seller != actorID {
		return nil, apperr.Forbidden("only the seller can edit listing %s", id)
	}
	if listingFlow.IsTerminal(l.Status) {
		return nil, apperr.Conflict(apperr.CodeIllegalTransition, "listing %s is %s", id, l.Status)
	}
	it, err := s.item(in, s.clk.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !in.Amount.Value.IsPositive() {
		return nil, apperr.Validation("listing price must be positive")
	}
	l.Item = it
	l.Price = s.money(in.Amount)
	if l.Status == ListingExpired {
		l.Status = ListingActive
	}
	return l, s.saveListing(ctx, l)
}

func (s *Service) UpdateRequest(ctx context.Context, actorID, id string, in Input) (*Request, error) {
	r, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Buyer != actorID {
		return nil, apperr.Forbidden("only the buyer can edit request %s", id)
	}
	if requestFlow.IsTerminal(r.Status) {
		return nil, apperr.Conflict(apperr.CodeIllegalTransition, "request %s is %s", id, r.Status)
	}
	it, err := s.item(in, s.clk.Now().UTC())
	if err != nil {
		return nil, err
	}
	r.Item = it
	r.Budget = s.money(in.Amount)
	if r.Status == RequestExpired {
		r.Status = RequestActive
	}
	return r, s.saveRequest(ctx, r)
}

// SetListingStatus moves a listing along its table. Admins may suspend any
// listing; everything else is the seller's call.
func (s *Service) SetListingStatus(ctx context.Context, actorID string, admin bool, id string, to ListingStatus) (*Listing, error) {
	l, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Seller != actorID && !(admin && (to == ListingSuspended || l.Status == ListingSuspended)) {
		return nil, apperr.Forbidden("not allowed to change listing %s", id)
	}
	from := l.EffectiveStatus(s.clk.Now())
	if err := listingFlow.Check(from, to); err != nil {
		return nil, err
	}
	l.Status = to
	if to == ListingActive && from == ListingExpired {
		l.ExpiresAt = s.clk.Now().UTC().Add(s.ttl)
	}
	return l, s.saveListing(ctx, l)
}

func (s *Service) SetRequestStatus(ctx context.Context, actorID, id string, to RequestStatus) (*Request, error) {
	r, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Buyer != actorID {
		return nil, apperr.Forbidden("only the buyer can change request %s", id)
	}
	from := r.EffectiveStatus(s.clk.Now())
	if err := requestFlow.Check(from, to); err != nil {
		return nil, err
	}
	r.Status = to
	if to == RequestActive && from == RequestExpired {
		r.ExpiresAt = s.clk.Now().UTC().Add(s.ttl)
	}
	return r, s.saveRequest(ctx, r)
}

func (s *Service) saveListing(ctx context.Context, l *Listing) error {
	if err := s.listings.Update(ctx, l); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "listing %s was modified concurrently, retry", l.ID)
		}
		return err
	}
	return nil
}

func (s *Service) saveRequest(ctx context.Context, r *Request) error {
	if err := s.requests.Update(ctx, r); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "request %s was modified concurrently, retry", r.ID)
		}
		return err
	}
	return nil
}

// Entry is the catalog snapshot a negotiation starts from.
type Entry struct {
	Owner    string
	Title    string
	Category string
	Unit     string
	Price    decimal.Decimal
	Currency string
}

// ListingEntry returns an open listing for a negotiation.
func (s *Service) ListingEntry(ctx context.Context, id string) (Entry, error) {
	l, err := s.GetListing(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if st := l.EffectiveStatus(s.clk.Now()); st != ListingActive {
		return Entry{}, apperr.Conflict(apperr.CodeIllegalTransition, "listing %s is %s", id, st)
	}
	return Entry{Owner: l.Seller, Title: l.Title, Category: l.Category, Unit: l.Quantity.Unit, Price: l.Price.Value, Currency: l.Price.Currency}, nil
}

func (s *Service) RequestEntry(ctx context.Context, id string) (Entry, error) {
	r, err := s.GetRequest(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if st := r.EffectiveStatus(s.clk.Now()); st != RequestActive {
		return Entry{}, apperr.Conflict(apperr.CodeIllegalTransition, "request %s is %s", id, st)
	}
	return Entry{Owner: r.Buyer, Title: r.Title, Category: r.Category, Unit: r.Quantity.Unit, Price: r.Budget.Value, Currency: r.Budget.Currency}, nil
}
