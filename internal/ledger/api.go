// Package ledger mirrors contract signatures to an external signature
// ledger over JSON-RPC. The ledger is an opaque capability: it deploys an
// agreement and records signatures against it, returning receipts.
package ledger

import (
	"context"
	"net/http"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/shopspring/decimal"
)

const Namespace = "Ledger"

type Agreement struct {
	ContractNumber string          `json:"contractNumber"`
	Seller         string          `json:"seller"`
	Buyer          string          `json:"buyer"`
	TotalValue     decimal.Decimal `json:"totalValue"`
	Currency       string          `json:"currency"`
	TermsHash      string          `json:"termsHash"`
	Network        string          `json:"network"`
}

type Deployment struct {
	Network string `json:"network"`
	Address string `json:"address"`
	TxHash  string `json:"txHash"`
}

type Signature struct {
	Party    string    `json:"party"` // seller|buyer
	User     string    `json:"user"`
	Hash     string    `json:"hash"`
	SignedAt time.Time `json:"signedAt"`
}

type Receipt struct {
	TxHash string `json:"txHash"`
}

type SignatureStatus struct {
	SellerSigned bool `json:"sellerSigned"`
	BuyerSigned  bool `json:"buyerSigned"`
}

// API is the ledger surface used by the syncer.
type API interface {
	DeployAgreement(ctx context.Context, a Agreement) (Deployment, error)
	RecordSignature(ctx context.Context, address string, sig Signature) (Receipt, error)
	GetSignatureStatus(ctx context.Context, address string) (SignatureStatus, error)
}

// Struct is the JSON-RPC client stub for API.
type Struct struct {
	Internal struct {
		DeployAgreement    func(ctx context.Context, a Agreement) (Deployment, error)
		RecordSignature    func(ctx context.Context, address string, sig Signature) (Receipt, error)
		GetSignatureStatus func(ctx context.Context, address string) (SignatureStatus, error)
	}
}

func (s *Struct) DeployAgreement(ctx context.Context, a Agreement) (Deployment, error) {
	return s.Internal.DeployAgreement(ctx, a)
}

func (s *Struct) RecordSignature(ctx context.Context, address string, sig Signature) (Receipt, error) {
	return s.Internal.RecordSignature(ctx, address, sig)
}

func (s *Struct) GetSignatureStatus(ctx context.Context, address string) (SignatureStatus, error) {
	return s.Internal.GetSignatureStatus(ctx, address)
}

var _ API = (*Struct)(nil)

// NewClient dials the ledger. http(s) and ws(s) addresses are accepted.
func NewClient(ctx context.Context, addr, token string, timeout time.Duration) (API, jsonrpc.ClientCloser, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	var res Struct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, Namespace,
		[]interface{}{&res.Internal},
		header,
		jsonrpc.WithTimeout(timeout),
	)
	if err != nil {
		return nil, nil, err
	}
	return &res, closer, nil
}
