package shipment

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/store"
)

type fakeContracts map[string]*contract.Contract

func (f fakeContracts) Get(_ context.Context, id string) (*contract.Contract, error) {
	c, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("contract", id)
	}
	return c, nil
}

func newContract(id string, status contract.Status) *contract.Contract {
	c := &contract.Contract{ContractNumber: "CTR-2025-000001", Status: status}
	c.ID = id
	c.Seller.User = "S"
	c.Buyer.User = "B"
	c.Terms.Material = "Aluminium turnings"
	c.Terms.Quantity = contract.Quantity{Value: decimal.NewFromInt(4), Unit: "tonne"}
	c.Terms.DeliveryLocation = "Hosur"
	return c
}

func newShipments(t *testing.T) (*Service, *alerts.Recorder) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC))
	rec := &alerts.Recorder{}
	contracts := fakeContracts{
		"signed": newContract("signed", contract.StatusSigned),
		"draft":  newContract("draft", contract.StatusDraft),
	}
	return NewService(store.NewMemory(clk), contracts, rec, clk), rec
}

func TestCreateShipment(t *testing.T) {
	ctx := context.Background()
	svc, rec := newShipments(t)

	_, err := svc.Create(ctx, "S", CreateInput{Contract: "draft", PickupAddress: "Peenya"})
	assert.ErrorIs(t, err, apperr.ErrContractNotSigned)

	_, err = svc.Create(ctx, "B", CreateInput{Contract: "signed", PickupAddress: "Peenya"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Create(ctx, "S", CreateInput{Contract: "signed"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	sh, err := svc.Create(ctx, "S", CreateInput{Contract: "signed", PickupAddress: "Peenya"})
	require.NoError(t, err)
	assert.Equal(t, "SHP-2025-000001", sh.ShipmentNumber)
	assert.Equal(t, StatusCreated, sh.Status)
	assert.Equal(t, "Hosur", sh.DeliveryAddress)
	assert.Equal(t, "Aluminium turnings", sh.Cargo.Description)
	assert.Equal(t, "tonne", sh.Cargo.Unit)
	assert.Len(t, sh.Tracking, 1)
	assert.Len(t, rec.Events(alerts.EventShipmentUpdate), 1)

	sh2, err := svc.Create(ctx, "S", CreateInput{Contract: "signed", PickupAddress: "Peenya"})
	require.NoError(t, err)
	assert.Equal(t, "SHP-2025-000002", sh2.ShipmentNumber)

	list, err := svc.ListForContract(ctx, "signed", "B", false)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	_, err = svc.ListForContract(ctx, "signed", "X", false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := svc.Get(ctx, "SHP-2025-000002")
	require.NoError(t, err)
	assert.Equal(t, sh2.ID, got.ID)
	_, err = svc.GetFor(ctx, sh.ID, "X", false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestTrackingMovesForward(t *testing.T) {
	ctx := context.Background()
	svc, _ := newShipments(t)
	sh, err := svc.Create(ctx, "S", CreateInput{Contract: "signed", PickupAddress: "Peenya"})
	require.NoError(t, err)

	lat, lng := 12.97, 77.59
	for _, st := range []Status{StatusPickupScheduled, StatusPickedUp, StatusInTransit, StatusInTransit, StatusOutForDelivery, StatusDelivered} {
		sh, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{
			Status:   st,
			Location: Location{Description: "NH44", Lat: &lat, Lng: &lng},
		})
		require.NoError(t, err, st)
	}
	assert.Equal(t, StatusDelivered, sh.Status)
	assert.NotNil(t, sh.ActualDelivery)
	assert.Len(t, sh.Tracking, 7)
	assert.Equal(t, SourcePartner, sh.Tracking[6].Source)

	_, err = svc.AddTrackingEvent(ctx, sh.ID, "B", false, TrackingInput{Status: StatusDelivered})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestTrackingRejectsRegression(t *testing.T) {
	ctx := context.Background()
	svc, _ := newShipments(t)
	sh, err := svc.Create(ctx, "S", CreateInput{Contract: "signed", PickupAddress: "Peenya"})
	require.NoError(t, err)
	_, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{Status: StatusDelivered})
	require.NoError(t, err)

	_, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{Status: StatusInTransit})
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
	_, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{Status: StatusLost, Source: SourceSystem})
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	_, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{Status: StatusInTransit, Source: SourceManual})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	sh, err = svc.AddTrackingEvent(ctx, sh.ID, "admin", true, TrackingInput{
		Status: StatusInTransit, Source: SourceManual, Description: "delivery was logged by mistake",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, sh.Status)
	assert.Nil(t, sh.ActualDelivery)
	assert.Len(t, sh.Tracking, 3)
}

func TestTrackingValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newShipments(t)
	sh, err := svc.Create(ctx, "S", CreateInput{Contract: "signed", PickupAddress: "Peenya"})
	require.NoError(t, err)

	_, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{Status: "teleported"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{Status: StatusInTransit, Source: "carrier-pigeon"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	// exceptional outcomes are reachable from any live status
	sh, err = svc.AddTrackingEvent(ctx, sh.ID, "S", false, TrackingInput{Status: StatusDamaged})
	require.NoError(t, err)
	assert.True(t, sh.Status.Terminal())
}
