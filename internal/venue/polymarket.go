package venue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/GoPolymarket/proxy-trader/internal/proxyaddr"
)

// Polymarket adapts the CLOB SDK to the LinkAPI and QuoteAPI interfaces.
// Venue HTTP calls run behind a circuit breaker so a flapping API fails fast
// instead of hammering the venue.
type Polymarket struct {
	clob    clob.Client
	signer  auth.Signer
	chainID int64
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewPolymarket wraps a CLOB client and its SDK signer. Authentication is
// applied per call from the credentials minted during linking.
func NewPolymarket(clobClient clob.Client, signer auth.Signer, chainID int64, log *zap.Logger) *Polymarket {
	if log == nil {
		log = zap.NewNop()
	}
	return &Polymarket{
		clob:    clobClient,
		signer:  signer,
		chainID: chainID,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "polymarket",
			Timeout: 30 * time.Second,
		}),
		log: log,
	}
}

// LinkUser derives the proxy address for the owner and mints venue API
// credentials through the authenticated CLOB client. Deployment happens
// venue-side on first use; the caller verifies it with a code-at-address
// lookup.
func (p *Polymarket) LinkUser(ctx context.Context, req LinkRequest) (LinkResult, error) {
	proxy, err := proxyaddr.DeriveHex(req.Owner)
	if err != nil {
		return LinkResult{}, err
	}

	var creds Credentials
	if _, err := p.breaker.Execute(func() (interface{}, error) {
		resp, err := p.clob.WithAuth(p.signer, nil).CreateOrDeriveAPIKey(ctx)
		if err != nil {
			return nil, err
		}
		creds = Credentials{
			Key:        resp.APIKey,
			Secret:     resp.Secret,
			Passphrase: resp.Passphrase,
		}
		return nil, nil
	}); err != nil {
		return LinkResult{}, fmt.Errorf("venue: derive api key: %w", err)
	}

	p.log.Info("venue credentials derived",
		zap.String("owner", req.Owner),
		zap.String("proxy", proxy),
	)
	return LinkResult{
		ProxyAddress:  proxy,
		Credentials:   creds,
		Deployed:      false,
		AllowancesSet: req.AutoSetAllowances,
	}, nil
}

// submitFunc is the opaque handle GetOrder plants in Quote.Signable. It
// captures the SDK's built order so PlaceOrder can submit it without the
// coordinator knowing CLOB types. PlaceOrder supplies the client because the
// session credentials it is given authenticate the submission.
type submitFunc func(ctx context.Context, client clob.Client) (clobtypes.OrderResponse, error)

// GetOrder builds the unsigned order for the requested size: the submission
// handle consumed by PlaceOrder plus the EIP-712 payload presented to the
// wallet. CLOB orders are relayed gaslessly, so there is no client-side call
// to simulate and Quote.CallTarget stays nil.
func (p *Polymarket) GetOrder(ctx context.Context, req QuoteRequest) (Quote, error) {
	price, _ := req.Price.Float64()
	amount, _ := req.Amount.Float64()

	var submit submitFunc
	if req.MarketOrder {
		signable, err := clob.NewOrderBuilder(p.clob, p.signer).
			TokenID(req.OutputAsset).
			Side(req.Side).
			AmountUSDC(amount).
			OrderType(clobtypes.OrderTypeFAK).
			BuildMarketWithContext(ctx)
		if err != nil {
			return Quote{}, fmt.Errorf("venue: build market order: %w", err)
		}
		submit = func(ctx context.Context, client clob.Client) (clobtypes.OrderResponse, error) {
			return client.CreateOrderFromSignable(ctx, signable)
		}
	} else {
		signable, err := clob.NewOrderBuilder(p.clob, p.signer).
			TokenID(req.OutputAsset).
			Side(req.Side).
			Price(price).
			AmountUSDC(amount).
			OrderType(clobtypes.OrderTypeGTC).
			BuildSignableWithContext(ctx)
		if err != nil {
			return Quote{}, fmt.Errorf("venue: build limit order: %w", err)
		}
		submit = func(ctx context.Context, client clob.Client) (clobtypes.OrderResponse, error) {
			return client.CreateOrderFromSignable(ctx, signable)
		}
	}

	return Quote{
		Payload:       p.orderPayload(req),
		Signable:      submit,
		ExecutionMode: ExecutionGasless,
		OutAmount:     req.Size,
	}, nil
}

// PlaceOrder submits the built order to the CLOB. The CLOB signable carries
// its own signature; the detached one in params is the wallet's approval of
// the quoted payload and submission is refused without it.
func (p *Polymarket) PlaceOrder(ctx context.Context, params OrderParams, creds Credentials) (Placement, error) {
	if creds.Empty() {
		return Placement{}, fmt.Errorf("venue: missing credentials")
	}
	if len(params.Signature) == 0 {
		return Placement{}, fmt.Errorf("venue: order was not approved by the wallet")
	}
	submit, ok := params.Signable.(submitFunc)
	if !ok {
		return Placement{}, fmt.Errorf("venue: order params carry no built order")
	}

	authed := p.clob.WithAuth(p.signer, &auth.APIKey{
		Key:        creds.Key,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
	})
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return submit(ctx, authed)
	})
	if err != nil {
		return Placement{}, fmt.Errorf("venue: place order: %w", err)
	}
	resp := res.(clobtypes.OrderResponse)

	p.log.Info("order accepted",
		zap.String("market", params.MarketID),
		zap.String("side", params.Side),
		zap.String("order_id", resp.ID),
	)
	return Placement{OrderID: resp.ID, Status: "LIVE"}, nil
}

// orderPayload renders the order as the EIP-712 payload shown to the wallet.
func (p *Polymarket) orderPayload(req QuoteRequest) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Order": {
				{Name: "maker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "side", Type: "string"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:    "Polymarket CTF Exchange",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(p.chainID),
		},
		Message: apitypes.TypedDataMessage{
			"maker":       req.Owner,
			"tokenId":     req.OutputAsset,
			"makerAmount": strconv.FormatInt(req.Amount.Shift(6).IntPart(), 10),
			"side":        req.Side,
		},
	}
}
