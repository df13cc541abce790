package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/sudo-init-do/wastex/internal/apperr"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/metrics"
)

var log = logging.Logger("ledger")

// Contracts is the part of the contract service the syncer needs.
type Contracts interface {
	Get(ctx context.Context, id string) (*contract.Contract, error)
	RecordLedger(ctx context.Context, id string, r contract.LedgerReceipts) (*contract.Contract, error)
}

// Syncer copies a contract's signatures to the ledger. Every step stores its
// receipt before the next call, so a retried run picks up where the last one
// stopped.
type Syncer struct {
	api       API
	contracts Contracts
	network   string
	timeout   time.Duration
}

func NewSyncer(api API, contracts Contracts, network string, timeout time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Syncer{api: api, contracts: contracts, network: network, timeout: timeout}
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(sum[:])
}

func termsHash(c *contract.Contract) string {
	t := c.Terms
	return hash(fmt.Sprintf("%s|%s|%s|%s %s|%s %s|%s",
		c.ContractNumber, c.Seller.User, c.Buyer.User,
		t.Quantity.Value, t.Quantity.Unit, t.Price.Value, t.Price.Currency, t.TotalValue))
}

func observe(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.LedgerCalls.WithLabelValues(method, outcome).Inc()
}

func ledgerErr(err error, format string, args ...any) error {
	return apperr.External(apperr.CodeLedgerFailure, err, format, args...)
}

// Sync mirrors one contract. Contracts that are not fully signed yet are
// skipped.
func (s *Syncer) Sync(ctx context.Context, contractID string) error {
	c, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return err
	}
	if !c.IsFullySigned {
		log.Warnw("contract not fully signed, skipping ledger mirror", "contract", c.ID)
		return nil
	}

	if c.Blockchain.ContractAddress == "" {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		dep, err := s.api.DeployAgreement(cctx, Agreement{
			ContractNumber: c.ContractNumber,
			Seller:         c.Seller.User,
			Buyer:          c.Buyer.User,
			TotalValue:     c.Terms.TotalValue,
			Currency:       c.Terms.Price.Currency,
			TermsHash:      termsHash(c),
			Network:        s.network,
		})
		cancel()
		observe("DeployAgreement", err)
		if err != nil {
			return ledgerErr(err, "deploy agreement for %s", c.ContractNumber)
		}
		network := dep.Network
		if network == "" {
			network = s.network
		}
		if c, err = s.contracts.RecordLedger(ctx, c.ID, contract.LedgerReceipts{
			Network:         network,
			ContractAddress: dep.Address,
			DeploymentTx:    dep.TxHash,
		}); err != nil {
			return err
		}
	}

	address := c.Blockchain.ContractAddress
	parties := []struct {
		name    string
		party   contract.Party
		tx      string
		receipt func(string) contract.LedgerReceipts
	}{
		{"seller", c.Seller, c.Blockchain.SellerSignatureTx, func(tx string) contract.LedgerReceipts {
			return contract.LedgerReceipts{SellerSignatureTx: tx}
		}},
		{"buyer", c.Buyer, c.Blockchain.BuyerSignatureTx, func(tx string) contract.LedgerReceipts {
			return contract.LedgerReceipts{BuyerSignatureTx: tx}
		}},
	}
	for _, p := range parties {
		if p.tx != "" || p.party.SignedAt == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		rec, err := s.api.RecordSignature(cctx, address, Signature{
			Party:    p.name,
			User:     p.party.User,
			Hash:     hash(p.party.Signature),
			SignedAt: *p.party.SignedAt,
		})
		cancel()
		observe("RecordSignature", err)
		if err != nil {
			return ledgerErr(err, "record %s signature for %s", p.name, c.ContractNumber)
		}
		if _, err := s.contracts.RecordLedger(ctx, c.ID, p.receipt(rec.TxHash)); err != nil {
			return err
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	st, err := s.api.GetSignatureStatus(cctx, address)
	cancel()
	observe("GetSignatureStatus", err)
	if err != nil {
		return ledgerErr(err, "signature status for %s", c.ContractNumber)
	}
	if !st.SellerSigned || !st.BuyerSigned {
		return ledgerErr(nil, "ledger reports incomplete signatures for %s", c.ContractNumber)
	}
	log.Infow("contract mirrored to ledger", "contract", c.ID, "address", address)
	return nil
}
