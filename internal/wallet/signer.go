// Package wallet wraps the host wallet connection into the two operations the
// coordinators need: reporting the owner address and signing EIP-712 typed
// payloads. Every other package depends only on the Signer interface, never on
// the underlying wallet technology.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrSignerRejected is returned when the wallet declines a signature request.
// Implementations backed by interactive wallets wrap their rejection in it so
// the error classifier can tell a user cancel from a hard failure.
var ErrSignerRejected = errors.New("wallet: signature request rejected")

// Signer exposes a connected wallet to the coordinators.
type Signer interface {
	// Address returns the owner identity controlling the wallet.
	Address() common.Address
	// SignTypedData signs an EIP-712 payload and returns the 65-byte
	// signature with the recovery id in Ethereum convention (v = 27/28).
	SignTypedData(ctx context.Context, payload apitypes.TypedData) ([]byte, error)
}

// PrivateKeySigner signs locally with a raw secp256k1 key. It backs the CLI
// and tests; a browser host would supply its own Signer over the wallet
// connection instead.
type PrivateKeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewPrivateKeySigner parses a hex-encoded private key. A 0x prefix is
// accepted and stripped.
func NewPrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse private key: %w", err)
	}
	return &PrivateKeySigner{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the address of the signing key.
func (s *PrivateKeySigner) Address() common.Address { return s.addr }

// SignTypedData hashes the payload per EIP-712 and signs the digest.
func (s *PrivateKeySigner) SignTypedData(_ context.Context, payload apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(payload)
	if err != nil {
		return nil, fmt.Errorf("wallet: hash typed data: %w", err)
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign: %w", err)
	}
	// crypto.Sign yields v in {0,1}; wallets speak {27,28}.
	sig[64] += 27
	return sig, nil
}
