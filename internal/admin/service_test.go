package admin

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/payment"
	"github.com/sudo-init-do/wastex/internal/store"
	"github.com/sudo-init-do/wastex/internal/user"
)

func seed(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	b := store.NewMemory(nil)
	svc := NewService(b)

	for _, u := range []*user.User{
		{Email: "a@x.in", Role: user.RoleSeller},
		{Email: "b@x.in", Role: user.RoleBuyer},
		{Email: "c@x.in", Role: user.RoleBuyer},
	} {
		require.NoError(t, svc.users.Insert(ctx, u))
	}
	for i, st := range []contract.Status{contract.StatusSigned, contract.StatusDisputed} {
		c := &contract.Contract{ContractNumber: []string{"CTR-1", "CTR-2"}[i], Negotiation: []string{"n1", "n2"}[i], Status: st}
		require.NoError(t, svc.contracts.Insert(ctx, c))
	}
	fee := decimal.RequireFromString("0.05")
	held := &payment.Payment{PaymentID: "PAY-1", Status: payment.StatusHeldInEscrow,
		Amount: payment.Split(decimal.NewFromInt(1000), fee, "INR"),
		Refund: &payment.Refund{Reason: "short weight", Status: payment.RefundRequested}}
	released := &payment.Payment{PaymentID: "PAY-2", Status: payment.StatusReleasedToSeller,
		Amount: payment.Split(decimal.NewFromInt(10000), fee, "INR")}
	require.NoError(t, svc.payments.Insert(ctx, held))
	require.NoError(t, svc.payments.Insert(ctx, released))
	return svc
}

func TestStats(t *testing.T) {
	svc := seed(t)
	st, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"seller": 1, "buyer": 2}, st.Users)
	assert.Equal(t, map[string]int{"signed": 1, "disputed": 1}, st.Contracts)
	assert.Equal(t, 1, st.Payments["held_in_escrow"])
	assert.Empty(t, st.Shipments)
	assert.True(t, st.Escrow.Held["INR"].Equal(decimal.NewFromInt(1000)))
	assert.True(t, st.Escrow.Released["INR"].Equal(decimal.NewFromInt(9500)))
	assert.True(t, st.Escrow.Fees["INR"].Equal(decimal.NewFromInt(500)))
}

func TestQueues(t *testing.T) {
	ctx := context.Background()
	svc := seed(t)

	disputes, err := svc.Disputes(ctx)
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	assert.Equal(t, "CTR-2", disputes[0].ContractNumber)

	refunds, err := svc.PendingRefunds(ctx)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "PAY-1", refunds[0].PaymentID)
}
