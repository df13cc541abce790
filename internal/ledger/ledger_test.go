package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/hibiken/asynq"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/negotiation"
	"github.com/sudo-init-do/wastex/internal/store"
)

// fakeLedger is served over JSON-RPC in tests.
type fakeLedger struct {
	mu        sync.Mutex
	deploys   int
	signed    map[string]bool
	failBuyer bool
}

func (f *fakeLedger) DeployAgreement(_ context.Context, a Agreement) (Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploys++
	return Deployment{Network: a.Network, Address: "0xagreement-" + a.ContractNumber, TxHash: "0xdeploy"}, nil
}

func (f *fakeLedger) RecordSignature(_ context.Context, address string, sig Signature) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sig.Party == "buyer" && f.failBuyer {
		return Receipt{}, errors.New("nonce too low")
	}
	f.signed[sig.Party] = true
	return Receipt{TxHash: "0x" + sig.Party}, nil
}

func (f *fakeLedger) GetSignatureStatus(_ context.Context, address string) (SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return SignatureStatus{SellerSigned: f.signed["seller"], BuyerSigned: f.signed["buyer"]}, nil
}

func serveLedger(t *testing.T, impl *fakeLedger) API {
	t.Helper()
	rpc := jsonrpc.NewServer()
	rpc.Register(Namespace, impl)
	srv := httptest.NewServer(rpc)
	t.Cleanup(srv.Close)

	api, closer, err := NewClient(context.Background(), srv.URL+"/rpc/v0", "token", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(closer)
	return api
}

type agreements struct{}

func (agreements) Agreement(_ context.Context, id, _ string) (*negotiation.Negotiation, error) {
	n := &negotiation.Negotiation{Buyer: "B", Seller: "S", Status: negotiation.StatusCompleted}
	n.ID = id
	n.AgreedTerms = &negotiation.Agreement{
		Terms:    negotiation.Terms{Price: decimal.NewFromInt(90), Quantity: decimal.NewFromInt(10)},
		Material: negotiation.Material{Title: "HDPE", Unit: "tonne"},
	}
	n.DealValue = decimal.NewFromInt(900)
	return n, nil
}

func signedContract(t *testing.T) (*contract.Service, *contract.Contract) {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewMock()
	svc := contract.NewService(store.NewMemory(clk), agreements{}, alerts.Nop{}, clk, "INR")
	c, err := svc.Create(ctx, "B", contract.CreateInput{Negotiation: "n1"})
	require.NoError(t, err)
	_, err = svc.Sign(ctx, c.ID, "S", "seller-sig", "")
	require.NoError(t, err)
	c, err = svc.Sign(ctx, c.ID, "B", "buyer-sig", "")
	require.NoError(t, err)
	return svc, c
}

func TestSyncRecordsReceipts(t *testing.T) {
	ctx := context.Background()
	impl := &fakeLedger{signed: map[string]bool{}}
	contracts, c := signedContract(t)
	syncer := NewSyncer(serveLedger(t, impl), contracts, "testnet", time.Second)

	require.NoError(t, syncer.Sync(ctx, c.ID))
	got, err := contracts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "testnet", got.Blockchain.Network)
	assert.Equal(t, "0xagreement-"+c.ContractNumber, got.Blockchain.ContractAddress)
	assert.Equal(t, "0xdeploy", got.Blockchain.DeploymentTx)
	assert.Equal(t, "0xseller", got.Blockchain.SellerSignatureTx)
	assert.Equal(t, "0xbuyer", got.Blockchain.BuyerSignatureTx)
	assert.Equal(t, contract.StatusSigned, got.Status)

	// nothing left to do
	require.NoError(t, syncer.Sync(ctx, c.ID))
	assert.Equal(t, 1, impl.deploys)
}

func TestSyncResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	impl := &fakeLedger{signed: map[string]bool{}, failBuyer: true}
	contracts, c := signedContract(t)
	syncer := NewSyncer(serveLedger(t, impl), contracts, "testnet", time.Second)

	err := syncer.Sync(ctx, c.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))

	got, err := contracts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Blockchain.ContractAddress)
	assert.Equal(t, "0xseller", got.Blockchain.SellerSignatureTx)
	assert.Empty(t, got.Blockchain.BuyerSignatureTx)
	assert.Equal(t, contract.StatusSigned, got.Status)

	impl.mu.Lock()
	impl.failBuyer = false
	impl.mu.Unlock()
	require.NoError(t, syncer.Sync(ctx, c.ID))

	got, err = contracts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xbuyer", got.Blockchain.BuyerSignatureTx)
	assert.Equal(t, 1, impl.deploys)
}

type enqueueSpy struct {
	tasks []*asynq.Task
	err   error
}

func (e *enqueueSpy) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, e.err
}

func TestQueueEnqueuesMirrorTask(t *testing.T) {
	spy := &enqueueSpy{}
	q := NewQueue(spy, 8, time.Second)
	require.NoError(t, q.MirrorSignatures(context.Background(), "c1"))
	require.Len(t, spy.tasks, 1)
	assert.Equal(t, TaskMirrorSignatures, spy.tasks[0].Type())

	var p mirrorPayload
	require.NoError(t, json.Unmarshal(spy.tasks[0].Payload(), &p))
	assert.Equal(t, "c1", p.ContractID)

	spy.err = asynq.ErrTaskIDConflict
	assert.NoError(t, q.MirrorSignatures(context.Background(), "c1"))
}

func TestHandlerSkipsBadJobs(t *testing.T) {
	contracts, _ := signedContract(t)
	syncer := NewSyncer(&Struct{}, contracts, "testnet", time.Second)

	err := syncer.Handler(context.Background(), asynq.NewTask(TaskMirrorSignatures, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	b, _ := json.Marshal(mirrorPayload{ContractID: "missing"})
	err = syncer.Handler(context.Background(), asynq.NewTask(TaskMirrorSignatures, b))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
