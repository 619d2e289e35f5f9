// Package chain wraps the network RPC provider: code-at-address lookups,
// pre-flight transaction simulation, raw transaction broadcast, and bounded
// confirmation polling.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	// ErrSimulationUnsupported means the node exposes no simulation
	// capability. Callers treat it as "skipped", not as a failure.
	ErrSimulationUnsupported = errors.New("chain: simulation not supported by node")

	// ErrConfirmationTimeout means the bounded confirmation wait elapsed.
	// The transaction is not cancelled and may still land.
	ErrConfirmationTimeout = errors.New("chain: confirmation wait timed out")
)

// Provider is the narrow RPC surface the coordinators use.
type Provider interface {
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	Simulate(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	WaitConfirmed(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// DefaultPollInterval is the receipt polling cadence during confirmation
// waits.
const DefaultPollInterval = 2 * time.Second

// Client implements Provider over an ethclient connection.
type Client struct {
	ec           *ethclient.Client
	pollInterval time.Duration
	log          *zap.Logger
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rawurl string, log *zap.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rawurl, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{ec: ec, pollInterval: DefaultPollInterval, log: log}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// ChainID returns the connected network's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ec.ChainID(ctx)
}

// CodeAt returns the contract code deployed at the account, if any. Empty
// code means the proxy is not deployed yet.
func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.ec.CodeAt(ctx, account, nil)
}

// Simulate dry-runs the call against latest state. Nodes without eth_call
// style simulation yield ErrSimulationUnsupported.
func (c *Client) Simulate(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.ec.CallContract(ctx, msg, nil)
	if err != nil && unsupportedMethod(err) {
		return nil, ErrSimulationUnsupported
	}
	return out, err
}

// SendRawTransaction decodes and broadcasts a signed transaction, returning
// its hash.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("chain: decode raw transaction: %w", err)
	}
	if err := c.ec.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("chain: broadcast: %w", err)
	}
	return tx.Hash(), nil
}

// WaitConfirmed polls for the transaction receipt until it appears or the
// timeout elapses. The timeout only stops the wait; the transaction itself
// keeps going. Caller cancellation surfaces as the context error, not as
// ErrConfirmationTimeout, so teardown is never mistaken for a soft success.
func (c *Client) WaitConfirmed(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.ec.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return nil, waitErr(ctx)
			}
			c.log.Warn("receipt poll failed", zap.String("tx", txHash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, waitErr(ctx)
		case <-ticker.C:
		}
	}
}

// waitErr maps the wait context's demise: the deadline becomes the timeout
// sentinel, cancellation passes through untouched.
func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrConfirmationTimeout
	}
	return ctx.Err()
}

func unsupportedMethod(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "method not supported") ||
		strings.Contains(msg, "does not exist/is not available")
}
