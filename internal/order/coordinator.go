// Package order drives a single order through quoting, pre-flight
// simulation, signing, submission, and confirmation.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/GoPolymarket/proxy-trader/internal/chain"
	"github.com/GoPolymarket/proxy-trader/internal/errclass"
	"github.com/GoPolymarket/proxy-trader/internal/session"
	"github.com/GoPolymarket/proxy-trader/internal/stage"
	"github.com/GoPolymarket/proxy-trader/internal/venue"
	"github.com/GoPolymarket/proxy-trader/internal/wallet"
)

var (
	// ErrOrderInFlight is returned when a second placement is attempted
	// while one is pending on the same coordinator.
	ErrOrderInFlight = errors.New("order: another order is already in flight")

	// ErrWalletNotLinked is returned when the session is missing or has no
	// allowances.
	ErrWalletNotLinked = errors.New("order: wallet not linked")
)

// Config tunes one coordinator instance.
type Config struct {
	// Tick is the venue's minimum price increment.
	Tick decimal.Decimal
	// MinOrderSize is the venue's minimum share count.
	MinOrderSize decimal.Decimal
	// ConfirmationTimeout bounds the on-chain confirmation wait.
	ConfirmationTimeout time.Duration
	// InputAsset names the quote currency spent on BUYs.
	InputAsset string
}

// Result is the outcome of one placement. It is produced once and never
// mutated.
type Result struct {
	Success     bool
	OrderID     string
	TxReference string
	Kind        errclass.Kind
	Err         error
	Message     string
}

// Coordinator places one order at a time. A second concurrent PlaceOrder on
// the same instance is refused, not queued.
type Coordinator struct {
	quotes     venue.QuoteAPI
	provider   chain.Provider // optional; enables simulation and confirmation
	machine    *stage.Machine
	classifier *errclass.Classifier
	cfg        Config
	log        *zap.Logger
	placing    atomic.Bool
}

// New creates an order coordinator. provider may be nil; simulation and
// confirmation waits are then skipped.
func New(
	quotes venue.QuoteAPI,
	provider chain.Provider,
	machine *stage.Machine,
	classifier *errclass.Classifier,
	cfg Config,
	log *zap.Logger,
) *Coordinator {
	if cfg.Tick.IsZero() {
		cfg.Tick = DefaultTick
	}
	if cfg.MinOrderSize.IsZero() {
		cfg.MinOrderSize = DefaultMinOrderSize
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 90 * time.Second
	}
	if cfg.InputAsset == "" {
		cfg.InputAsset = "USDC"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		quotes:     quotes,
		provider:   provider,
		machine:    machine,
		classifier: classifier,
		cfg:        cfg,
		log:        log,
	}
}

// PlaceOrder executes one order against the venue. All failures are
// classified and returned inside the Result; nothing escapes as a bare
// error. After a failure the session is untouched (except authorization
// failures, which invalidate it), so the caller may retry with the same
// session.
func (c *Coordinator) PlaceOrder(ctx context.Context, req Request, sess *session.LinkSession, signer wallet.Signer) Result {
	if !c.placing.CompareAndSwap(false, true) {
		return Result{Err: ErrOrderInFlight, Message: "An order is already being placed."}
	}
	defer c.placing.Store(false)

	if sess == nil || !sess.HasAllowances {
		return Result{Err: ErrWalletNotLinked, Message: "Link your wallet before trading."}
	}
	if signer == nil {
		return Result{Err: ErrWalletNotLinked, Message: "No signer available."}
	}

	if err := c.machine.Begin(stage.CheckingBalance, "Preparing order..."); err != nil {
		return Result{Err: err, Message: "Another operation is in progress."}
	}

	norm, err := Normalize(req, c.cfg.Tick, c.cfg.MinOrderSize)
	if err != nil {
		return c.fail(sess.Owner, err)
	}
	c.log.Info("order normalized",
		zap.String("market", req.MarketID),
		zap.String("side", req.Side),
		zap.String("price", norm.Price.String()),
		zap.String("size", norm.Size.String()),
	)

	quote, err := c.quotes.GetOrder(ctx, venue.QuoteRequest{
		MarketID:    req.MarketID,
		InputAsset:  c.cfg.InputAsset,
		OutputAsset: req.MarketID,
		Side:        req.Side,
		Price:       norm.Price,
		Size:        norm.Size,
		Amount:      req.AmountUSDC,
		Owner:       sess.Owner,
		MarketOrder: req.MarketOrder,
	})
	if err != nil {
		return c.fail(sess.Owner, err)
	}

	// Pre-flight simulation runs before the wallet is prompted so the user
	// never signs a doomed transaction.
	if err := c.simulate(ctx, sess.Owner, quote); err != nil {
		return c.fail(sess.Owner, err)
	}

	if err := c.machine.Advance(stage.SigningOrder, "Waiting for signature..."); err != nil {
		return c.fail(sess.Owner, err)
	}
	sig, err := signer.SignTypedData(ctx, quote.Payload)
	if err != nil {
		return c.fail(sess.Owner, err)
	}

	if err := c.machine.Advance(stage.SubmittingOrder, "Submitting order..."); err != nil {
		return c.fail(sess.Owner, err)
	}
	placement, err := c.quotes.PlaceOrder(ctx, venue.OrderParams{
		MarketID:  req.MarketID,
		Side:      req.Side,
		Price:     norm.Price,
		Size:      norm.Size,
		Amount:    req.AmountUSDC,
		Owner:     sess.Owner,
		Signature: sig,
		Signable:  quote.Signable,
	}, sess.Credentials)
	if err != nil {
		return c.fail(sess.Owner, err)
	}

	txRef := placement.TxHash
	if len(placement.RawTransaction) > 0 && c.provider != nil {
		hash, sendErr := c.provider.SendRawTransaction(ctx, placement.RawTransaction)
		if sendErr != nil {
			return c.fail(sess.Owner, sendErr)
		}
		txRef = hash.Hex()
	}

	if txRef != "" && c.provider != nil {
		receipt, waitErr := c.provider.WaitConfirmed(ctx, common.HexToHash(txRef), c.cfg.ConfirmationTimeout)
		switch {
		case errors.Is(waitErr, chain.ErrConfirmationTimeout):
			// Soft success: the transaction may still land, so a timeout is
			// never reported as a failure.
			msg := errclass.UserMessage(errclass.KindNetworkTimeout, waitErr)
			c.machine.Complete(msg)
			return Result{
				Success:     true,
				OrderID:     placement.OrderID,
				TxReference: txRef,
				Kind:        errclass.KindNetworkTimeout,
				Message:     msg,
			}
		case waitErr != nil:
			return c.fail(sess.Owner, waitErr)
		case receipt != nil && receipt.Status == types.ReceiptStatusFailed:
			return c.fail(sess.Owner, fmt.Errorf("order: transaction %s reverted", txRef))
		}
	}

	msg := "Order placed"
	if placement.OrderID != "" {
		msg = fmt.Sprintf("Order placed (id %s)", placement.OrderID)
	}
	c.machine.Complete(msg)
	return Result{
		Success:     true,
		OrderID:     placement.OrderID,
		TxReference: txRef,
		Message:     msg,
	}
}

// simulate dry-runs the quoted call when both a provider and a call target
// exist. Nodes without simulation support are treated as "skipped".
func (c *Coordinator) simulate(ctx context.Context, owner string, quote venue.Quote) error {
	if c.provider == nil || quote.CallTarget == nil {
		return nil
	}
	from := common.HexToAddress(owner)
	_, err := c.provider.Simulate(ctx, ethereum.CallMsg{
		From:  from,
		To:    quote.CallTarget,
		Data:  quote.CallData,
		Value: quote.CallValue,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, chain.ErrSimulationUnsupported) {
		c.log.Info("simulation unsupported, proceeding to signing")
		return nil
	}
	if c.classifier.Classify(err) == errclass.KindUnknown {
		// Unrecognized simulation failures stay opaque rather than guessing
		// a more specific kind.
		return errclass.Wrap(errclass.KindSimulationFailed, err)
	}
	return err
}

// fail classifies the error, reports it through the stage machine, and
// packages the Result. Authorization failures clear the cached session here.
func (c *Coordinator) fail(owner string, err error) Result {
	kind := c.classifier.Handle(owner, err)
	msg := errclass.UserMessage(kind, err)
	c.machine.Fail(msg)
	c.log.Warn("order failed",
		zap.String("owner", owner),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return Result{Kind: kind, Err: errclass.Wrap(kind, err), Message: msg}
}
