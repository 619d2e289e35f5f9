// Package venue defines the narrow interfaces to the external linking and
// quoting/order APIs, plus the Polymarket CLOB adapter that implements them.
// The coordinators depend only on the interfaces so tests can substitute
// in-memory fakes.
package venue

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Credentials are the venue API credentials minted during linking and cached
// in the link session.
type Credentials struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Empty reports whether no credentials are present.
func (c Credentials) Empty() bool {
	return c.Key == "" && c.Secret == "" && c.Passphrase == ""
}

// ProxyTypeSafe requests a smart-contract (Safe) proxy wallet.
const ProxyTypeSafe = "SAFE"

// LinkRequest asks the venue to provision a proxy trading identity for an
// owner wallet. The caller has already verified the requesting signer
// controls Owner.
type LinkRequest struct {
	Owner             string
	ProxyType         string
	AutoDeploy        bool
	AutoSetAllowances bool
}

// LinkResult is the venue's answer to a LinkRequest.
type LinkResult struct {
	ProxyAddress  string
	Credentials   Credentials
	Deployed      bool
	AllowancesSet bool
}

// LinkAPI provisions proxy wallets and trading credentials.
type LinkAPI interface {
	LinkUser(ctx context.Context, req LinkRequest) (LinkResult, error)
}

// QuoteRequest asks the venue for a quote converting InputAsset into
// OutputAsset.
type QuoteRequest struct {
	MarketID    string
	InputAsset  string
	OutputAsset string
	Side        string
	Price       decimal.Decimal
	Size        decimal.Decimal
	Amount      decimal.Decimal
	Owner       string
	MarketOrder bool
}

// Execution modes reported on a quote. Gasless orders are relayed by the
// venue; self-execution orders come back as a raw transaction the caller
// broadcasts.
const (
	ExecutionGasless = "gasless"
	ExecutionSelf    = "self"
)

// Quote carries the unsigned order payload for one trade: the EIP-712 typed
// data to sign, an opaque venue handle consumed on submission, and the call
// the pre-flight simulation runs.
type Quote struct {
	Payload       apitypes.TypedData
	Signable      any
	ExecutionMode string
	OutAmount     decimal.Decimal

	// Simulation target; nil CallTarget means the venue exposes nothing to
	// simulate and pre-flight is skipped.
	CallTarget *common.Address
	CallData   []byte
	CallValue  *big.Int
}

// OrderParams is the signed order handed back to the venue for submission.
// Signature is the wallet's approval of the quoted payload; adapters refuse
// unsigned params.
type OrderParams struct {
	MarketID  string
	Side      string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Amount    decimal.Decimal
	Owner     string
	Signature []byte
	Signable  any
}

// Placement is the venue's acknowledgement of a submitted order. TxHash is
// set when the venue relayed on-chain; RawTransaction is set when the caller
// must broadcast itself.
type Placement struct {
	OrderID        string
	TxHash         string
	RawTransaction []byte
	Status         string
}

// QuoteAPI quotes and accepts orders.
type QuoteAPI interface {
	GetOrder(ctx context.Context, req QuoteRequest) (Quote, error)
	PlaceOrder(ctx context.Context, params OrderParams, creds Credentials) (Placement, error)
}
