package contract

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/negotiation"
	"github.com/sudo-init-do/wastex/internal/store"
)

// fakeAgreements serves completed negotiations between B and S.
type fakeAgreements struct{}

func (fakeAgreements) Agreement(_ context.Context, id, userID string) (*negotiation.Negotiation, error) {
	if id == "open" {
		return nil, apperr.Conflict(apperr.CodeNegotiationNotAgreed, "negotiation %s has no agreed terms", id)
	}
	n := &negotiation.Negotiation{Buyer: "B", Seller: "S", Status: negotiation.StatusCompleted}
	n.ID = id
	if !n.IsParticipant(userID) {
		return nil, apperr.New(apperr.KindAuthorization, apperr.CodeNotParticipant, "not a participant")
	}
	n.AgreedTerms = &negotiation.Agreement{
		Terms:    negotiation.Terms{Price: decimal.NewFromInt(90), Quantity: decimal.NewFromInt(10), Terms: "FOB Pune"},
		Material: negotiation.Material{Title: "HDPE regrind", Category: "plastic", Unit: "tonne"},
	}
	if id == "usd" {
		n.AgreedTerms.Material.Currency = "USD"
	}
	n.DealValue = decimal.NewFromInt(900)
	return n, nil
}

type mirrorSpy struct {
	mu    sync.Mutex
	calls []string
}

func (m *mirrorSpy) MirrorSignatures(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	return nil
}

type disputeSpy struct {
	states []bool
}

func (d *disputeSpy) SetDisputeOpen(_ context.Context, _ string, open bool) error {
	d.states = append(d.states, open)
	return nil
}

func newContracts(t *testing.T) (*Service, *mirrorSpy, *disputeSpy, *alerts.Recorder) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 7, 15, 8, 0, 0, 0, time.UTC))
	rec := &alerts.Recorder{}
	svc := NewService(store.NewMemory(clk), fakeAgreements{}, rec, clk, "INR")
	m, d := &mirrorSpy{}, &disputeSpy{}
	svc.SetMirror(m)
	svc.SetDisputeListener(d)
	return svc, m, d, rec
}

func TestCreateCopiesAgreement(t *testing.T) {
	ctx := context.Background()
	svc, _, _, rec := newContracts(t)

	c, err := svc.Create(ctx, "B", CreateInput{Negotiation: "n1", DeliveryLocation: "Chakan"})
	require.NoError(t, err)
	assert.Equal(t, "CTR-2025-000001", c.ContractNumber)
	assert.Equal(t, StatusDraft, c.Status)
	assert.Equal(t, "S", c.Seller.User)
	assert.Equal(t, "B", c.Buyer.User)
	assert.True(t, c.Terms.Price.Value.Equal(decimal.NewFromInt(90)))
	assert.True(t, c.Terms.TotalValue.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, "tonne", c.Terms.Quantity.Unit)
	assert.Equal(t, "INR", c.Terms.Price.Currency)
	assert.Equal(t, "FOB Pune", c.Terms.AdditionalTerms)
	assert.False(t, c.IsFullySigned)
	assert.Len(t, rec.Events(alerts.EventContractCreated), 2)

	_, err = svc.Create(ctx, "S", CreateInput{Negotiation: "n1"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateContract)

	_, err = svc.Create(ctx, "B", CreateInput{Negotiation: "open"})
	assert.ErrorIs(t, err, apperr.ErrNegotiationNotAgreed)

	_, err = svc.Create(ctx, "X", CreateInput{Negotiation: "n2"})
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)

	// the duplicate did not burn a number
	c2, err := svc.Create(ctx, "B", CreateInput{Negotiation: "n2"})
	require.NoError(t, err)
	assert.Equal(t, "CTR-2025-000002", c2.ContractNumber)
}

func TestCreateUsesCatalogCurrency(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newContracts(t)

	c, err := svc.Create(ctx, "B", CreateInput{Negotiation: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "USD", c.Terms.Price.Currency)

	// negotiations started before the currency was recorded fall back to the platform one
	c, err = svc.Create(ctx, "B", CreateInput{Negotiation: "n1"})
	require.NoError(t, err)
	assert.Equal(t, "INR", c.Terms.Price.Currency)
}

func TestConcurrentCreateNumbersAreDense(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newContracts(t)

	const n = 20
	numbers := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := svc.Create(ctx, "S", CreateInput{Negotiation: fmt.Sprintf("n%d", i)})
			if assert.NoError(t, err) {
				numbers[i] = c.ContractNumber
			}
		}(i)
	}
	wg.Wait()

	sort.Strings(numbers)
	for i, num := range numbers {
		assert.Equal(t, fmt.Sprintf("CTR-2025-%06d", i+1), num)
	}
}

func TestSigning(t *testing.T) {
	ctx := context.Background()
	svc, mirror, _, _ := newContracts(t)
	c, err := svc.Create(ctx, "B", CreateInput{Negotiation: "n1"})
	require.NoError(t, err)

	_, err = svc.Sign(ctx, c.ID, "X", "sig", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrNotParty)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = svc.Sign(ctx, c.ID, "S", "", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	c, err = svc.Sign(ctx, c.ID, "S", "seller-sig", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
	assert.False(t, c.IsFullySigned)
	assert.Equal(t, "10.0.0.1", c.Seller.IPAddress)
	assert.Empty(t, mirror.calls)

	_, err = svc.Sign(ctx, c.ID, "S", "again", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrAlreadySigned)

	c, err = svc.Sign(ctx, c.ID, "B", "buyer-sig", "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, c.Status)
	assert.True(t, c.IsFullySigned)
	require.NotNil(t, c.SignedAt)
	assert.Equal(t, []string{c.ID}, mirror.calls)

	_, err = svc.Sign(ctx, c.ID, "B", "buyer-sig", "10.0.0.2")
	assert.ErrorIs(t, err, apperr.ErrAlreadySigned)

	stored, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsFullySigned)
}

func signed(t *testing.T, svc *Service, negotiationID string) *Contract {
	t.Helper()
	ctx := context.Background()
	c, err := svc.Create(ctx, "B", CreateInput{Negotiation: negotiationID})
	require.NoError(t, err)
	_, err = svc.Sign(ctx, c.ID, "S", "s", "")
	require.NoError(t, err)
	c, err = svc.Sign(ctx, c.ID, "B", "b", "")
	require.NoError(t, err)
	return c
}

func TestLifecycleAndAdvance(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newContracts(t)
	c := signed(t, svc, "n1")

	_, err := svc.Complete(ctx, c.ID, "B", false)
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	require.NoError(t, svc.Advance(ctx, c.ID, StatusExecuted))
	require.NoError(t, svc.Advance(ctx, c.ID, StatusExecuted))
	c, err = svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, c.Status)
	assert.NotNil(t, c.ExecutedAt)

	_, err = svc.Cancel(ctx, c.ID, "S", false, "changed mind")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Complete(ctx, c.ID, "S", false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	c, err = svc.Complete(ctx, c.ID, "B", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, c.Status)

	// terminal: nothing moves
	require.NoError(t, svc.Advance(ctx, c.ID, StatusExecuted))
	_, err = svc.Cancel(ctx, c.ID, "admin", true, "")
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
}

func TestDisputeRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, disputes, rec := newContracts(t)
	c := signed(t, svc, "n1")

	_, err := svc.RaiseDispute(ctx, c.ID, "X", "bad load")
	assert.ErrorIs(t, err, apperr.ErrNotParty)

	c, err = svc.RaiseDispute(ctx, c.ID, "B", "moisture content too high")
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, c.Status)
	assert.Equal(t, StatusSigned, c.StatusBeforeDispute)
	require.Len(t, c.Disputes, 1)
	assert.Equal(t, DisputeOpen, c.Disputes[0].Status)
	assert.Len(t, rec.AdminAlerts(), 1)

	// the payment flow cannot push a disputed contract forward
	require.NoError(t, svc.Advance(ctx, c.ID, StatusExecuted))
	_, err = svc.Execute(ctx, c.ID, "B", false)
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
	_, err = svc.RaiseDispute(ctx, c.ID, "S", "again")
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	_, err = svc.ResolveDispute(ctx, c.ID, "admin", "split", "")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	c, err = svc.ResolveDispute(ctx, c.ID, "admin", OutcomeResume, "lab retest passed")
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, c.Status)
	assert.Empty(t, c.StatusBeforeDispute)
	assert.Equal(t, DisputeResolved, c.Disputes[0].Status)
	assert.Equal(t, []bool{true, false}, disputes.states)

	_, err = svc.ResolveDispute(ctx, c.ID, "admin", OutcomeResume, "")
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	_, err = svc.RaiseDispute(ctx, c.ID, "S", "no pickup")
	require.NoError(t, err)
	c, err = svc.ResolveDispute(ctx, c.ID, "admin", OutcomeCancel, "seller withdrew")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, c.Status)
	assert.NotNil(t, c.CancelledAt)
	assert.Equal(t, []bool{true, false, true}, disputes.states, "cancel leaves the payment flagged as disputed")
}

func TestMilestones(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newContracts(t)
	c := signed(t, svc, "n1")

	_, err := svc.AddMilestone(ctx, c.ID, "S", MilestoneInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	c, err = svc.AddMilestone(ctx, c.ID, "S", MilestoneInput{Title: "First truck"})
	require.NoError(t, err)
	require.Len(t, c.Milestones, 1)
	assert.Equal(t, MilestonePending, c.Milestones[0].Status)

	_, err = svc.CompleteMilestone(ctx, c.ID, "nope", "S")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	c, err = svc.CompleteMilestone(ctx, c.ID, c.Milestones[0].ID, "B")
	require.NoError(t, err)
	assert.Equal(t, MilestoneCompleted, c.Milestones[0].Status)
	assert.Equal(t, "B", c.Milestones[0].CompletedBy)
}

func TestRecordLedgerIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newContracts(t)
	c := signed(t, svc, "n1")

	c, err := svc.RecordLedger(ctx, c.ID, LedgerReceipts{Network: "testnet", ContractAddress: "0xabc", DeploymentTx: "0x1"})
	require.NoError(t, err)
	require.NotNil(t, c.Blockchain.RecordedAt)
	first := *c.Blockchain.RecordedAt

	c, err = svc.RecordLedger(ctx, c.ID, LedgerReceipts{ContractAddress: "0xdef", SellerSignatureTx: "0x2", BuyerSignatureTx: "0x3"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", c.Blockchain.ContractAddress)
	assert.Equal(t, "0x2", c.Blockchain.SellerSignatureTx)
	assert.Equal(t, "0x3", c.Blockchain.BuyerSignatureTx)
	assert.Equal(t, first, *c.Blockchain.RecordedAt)
	assert.Equal(t, StatusSigned, c.Status)
}
