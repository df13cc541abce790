// Package admin serves the operator views: platform counts, open disputes
// and refund requests waiting for a decision.
package admin

import (
	"context"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/wastex/internal/catalog"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/negotiation"
	"github.com/sudo-init-do/wastex/internal/payment"
	"github.com/sudo-init-do/wastex/internal/shipment"
	"github.com/sudo-init-do/wastex/internal/store"
	"github.com/sudo-init-do/wastex/internal/user"
)

type Service struct {
	users        *store.Collection[user.User]
	listings     *store.Collection[catalog.Listing]
	requests     *store.Collection[catalog.Request]
	negotiations *store.Collection[negotiation.Negotiation]
	contracts    *store.Collection[contract.Contract]
	payments     *store.Collection[payment.Payment]
	shipments    *store.Collection[shipment.Shipment]
}

func NewService(b store.Backend) *Service {
	return &Service{
		users:        store.NewCollection[user.User](b, user.Spec),
		listings:     store.NewCollection[catalog.Listing](b, catalog.ListingSpec),
		requests:     store.NewCollection[catalog.Request](b, catalog.RequestSpec),
		negotiations: store.NewCollection[negotiation.Negotiation](b, negotiation.Spec),
		contracts:    store.NewCollection[contract.Contract](b, contract.Spec),
		payments:     store.NewCollection[payment.Payment](b, payment.Spec),
		shipments:    store.NewCollection[shipment.Shipment](b, shipment.Spec),
	}
}

// Escrow sums payment amounts per status and currency.
type Escrow struct {
	Held     map[string]decimal.Decimal `json:"held"`
	Released map[string]decimal.Decimal `json:"released"`
	Fees     map[string]decimal.Decimal `json:"fees"`
}

type Stats struct {
	Users        map[string]int `json:"users"`
	Listings     map[string]int `json:"listings"`
	Requests     map[string]int `json:"requests"`
	Negotiations map[string]int `json:"negotiations"`
	Contracts    map[string]int `json:"contracts"`
	Payments     map[string]int `json:"payments"`
	Shipments    map[string]int `json:"shipments"`
	Escrow       Escrow         `json:"escrow"`
}

func countBy[T any](ctx context.Context, c *store.Collection[T], key func(*T) string) (map[string]int, error) {
	items, err := c.Find(ctx, store.Query{})
	if err != nil {
		return nil, err
	}
	return lo.CountValuesBy(items, key), nil
}

// Stats counts every collection by status. Users are counted by role.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Users, err = countBy(ctx, s.users, func(u *user.User) string { return string(u.Role) }); err != nil {
		return nil, err
	}
	if st.Listings, err = countBy(ctx, s.listings, func(l *catalog.Listing) string { return string(l.Status) }); err != nil {
		return nil, err
	}
	if st.Requests, err = countBy(ctx, s.requests, func(r *catalog.Request) string { return string(r.Status) }); err != nil {
		return nil, err
	}
	if st.Negotiations, err = countBy(ctx, s.negotiations, func(n *negotiation.Negotiation) string { return string(n.Status) }); err != nil {
		return nil, err
	}
	if st.Contracts, err = countBy(ctx, s.contracts, func(c *contract.Contract) string { return string(c.Status) }); err != nil {
		return nil, err
	}
	if st.Shipments, err = countBy(ctx, s.shipments, func(sh *shipment.Shipment) string { return string(sh.Status) }); err != nil {
		return nil, err
	}

	payments, err := s.payments.Find(ctx, store.Query{})
	if err != nil {
		return nil, err
	}
	st.Payments = lo.CountValuesBy(payments, func(p *payment.Payment) string { return string(p.Status) })
	st.Escrow = Escrow{
		Held:     map[string]decimal.Decimal{},
		Released: map[string]decimal.Decimal{},
		Fees:     map[string]decimal.Decimal{},
	}
	add := func(m map[string]decimal.Decimal, cur string, v decimal.Decimal) {
		m[cur] = m[cur].Add(v)
	}
	for _, p := range payments {
		cur := p.Amount.Currency
		switch p.Status {
		case payment.StatusHeldInEscrow:
			add(st.Escrow.Held, cur, p.Amount.Total)
		case payment.StatusReleasedToSeller:
			add(st.Escrow.Released, cur, p.Amount.SellerAmount)
			add(st.Escrow.Fees, cur, p.Amount.PlatformFee)
		}
	}
	return &st, nil
}

// Disputes lists contracts frozen by an open dispute, newest first.
func (s *Service) Disputes(ctx context.Context) ([]*contract.Contract, error) {
	return s.contracts.Find(ctx, store.Query{Where: store.Filter{"status": string(contract.StatusDisputed)}})
}

func (s *Service) PendingRefunds(ctx context.Context) ([]*payment.Payment, error) {
	return s.payments.Find(ctx, store.Query{Where: store.Filter{
		"status":        string(payment.StatusHeldInEscrow),
		"refund.status": string(payment.RefundRequested),
	}})
}
