package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/store"
)

func newCatalog(t *testing.T) (*Service, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewService(store.NewMemory(clk), clk, 0, "INR"), clk
}

func scrap(title string) Input {
	return Input{
		Title:    title,
		Category: "Metal",
		Tags:     []string{"Steel", " steel ", "", "HMS"},
		Quantity: Quantity{Value: decimal.NewFromInt(10), Unit: "tonne"},
		Amount:   Money{Value: decimal.NewFromInt(100)},
		Location: Location{City: "Pune", Country: "IN"},
	}
}

func TestCreateListingDefaults(t *testing.T) {
	ctx := context.Background()
	svc, clk := newCatalog(t)

	l, err := svc.CreateListing(ctx, "s1", scrap("HMS 1&2"))
	require.NoError(t, err)
	assert.Equal(t, ListingActive, l.Status)
	assert.Equal(t, "metal", l.Category)
	assert.Equal(t, []string{"steel", "hms"}, l.Tags)
	assert.Equal(t, "INR", l.Price.Currency)
	assert.Equal(t, UrgencyMedium, l.Urgency)
	assert.Equal(t, clk.Now().UTC().Add(30*24*time.Hour), l.ExpiresAt)

	bad := scrap("x")
	bad.Quantity.Value = decimal.Zero
	_, err = svc.CreateListing(ctx, "s1", bad)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	bad = scrap("x")
	bad.Urgency = "asap"
	_, err = svc.CreateRequest(ctx, "b1", bad)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestEntryCarriesCurrency(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCatalog(t)

	in := scrap("aluminium turnings")
	in.Amount.Currency = "EUR"
	l, err := svc.CreateListing(ctx, "s1", in)
	require.NoError(t, err)
	entry, err := svc.ListingEntry(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "EUR", entry.Currency)
	assert.True(t, entry.Price.Equal(decimal.NewFromInt(100)))

	r, err := svc.CreateRequest(ctx, "b1", scrap("brass"))
	require.NoError(t, err)
	entry, err = svc.RequestEntry(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "INR", entry.Currency)
}

func TestEffectiveStatusExpires(t *testing.T) {
	ctx := context.Background()
	svc, clk := newCatalog(t)

	l, err := svc.CreateListing(ctx, "s1", scrap("copper"))
	require.NoError(t, err)
	assert.Equal(t, ListingActive, l.EffectiveStatus(clk.Now()))

	clk.Add(31 * 24 * time.Hour)
	assert.Equal(t, ListingExpired, l.EffectiveStatus(clk.Now()))
	assert.Equal(t, ListingActive, l.Status)

	active, err := svc.ListListings(ctx, Filter{Status: "active"})
	require.NoError(t, err)
	assert.Empty(t, active)
	expired, err := svc.ListListings(ctx, Filter{Status: "expired"})
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	_, err = svc.ListingEntry(ctx, l.ID)
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	l, err = svc.SetListingStatus(ctx, "s1", false, l.ID, ListingActive)
	require.NoError(t, err)
	assert.Equal(t, ListingActive, l.EffectiveStatus(clk.Now()))
}

func TestOwnerOnlyWrites(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCatalog(t)

	l, err := svc.CreateListing(ctx, "s1", scrap("paper"))
	require.NoError(t, err)
	_, err = svc.UpdateListing(ctx, "s2", l.ID, scrap("mine now"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.SetListingStatus(ctx, "s2", false, l.ID, ListingInactive)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	// admins may only suspend
	l, err = svc.SetListingStatus(ctx, "admin", true, l.ID, ListingSuspended)
	require.NoError(t, err)
	assert.Equal(t, ListingSuspended, l.Status)

	r, err := svc.CreateRequest(ctx, "b1", scrap("need paper"))
	require.NoError(t, err)
	_, err = svc.SetRequestStatus(ctx, "b2", r.ID, RequestCancelled)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	r, err = svc.SetRequestStatus(ctx, "b1", r.ID, RequestCancelled)
	require.NoError(t, err)
	_, err = svc.UpdateRequest(ctx, "b1", r.ID, scrap("again"))
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
}

func TestSoldIsTerminal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCatalog(t)

	l, err := svc.CreateListing(ctx, "s1", scrap("glass"))
	require.NoError(t, err)
	_, err = svc.SetListingStatus(ctx, "s1", false, l.ID, ListingSold)
	require.NoError(t, err)
	_, err = svc.SetListingStatus(ctx, "s1", false, l.ID, ListingActive)
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	svc, clk := newCatalog(t)

	_, err := svc.CreateListing(ctx, "s1", scrap("aluminium cans"))
	require.NoError(t, err)
	clk.Add(time.Minute)
	in := scrap("pet bottles")
	in.Category = "plastic"
	in.Location.City = "Chennai"
	in.Description = "baled, clear"
	_, err = svc.CreateListing(ctx, "s2", in)
	require.NoError(t, err)

	all, err := svc.ListListings(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "pet bottles", all[0].Title)

	byCat, err := svc.ListListings(ctx, Filter{Category: "Plastic"})
	require.NoError(t, err)
	assert.Len(t, byCat, 1)

	byCity, err := svc.ListListings(ctx, Filter{City: "Pune"})
	require.NoError(t, err)
	assert.Len(t, byCity, 1)

	bySearch, err := svc.ListListings(ctx, Filter{Search: "BALED"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "s2", bySearch[0].Seller)

	byTag, err := svc.ListListings(ctx, Filter{Search: "hms", Status: "active", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, byTag, 1)

	mine, err := svc.ListListings(ctx, Filter{Owner: "s1"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestViewCountsOthers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCatalog(t)

	l, err := svc.CreateListing(ctx, "s1", scrap("rubber"))
	require.NoError(t, err)
	_, err = svc.ViewListing(ctx, l.ID, "s1")
	require.NoError(t, err)
	got, err := svc.ViewListing(ctx, l.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Views)
}
