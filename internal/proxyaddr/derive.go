// Package proxyaddr derives the deterministic proxy-wallet address for an
// owner identity. Derivation is pure CREATE2 arithmetic over the proxy
// factory, so the address can be shown to the user before any linking or
// network activity happens.
package proxyaddr

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrZeroAddress is returned when the owner identity is the zero address.
	ErrZeroAddress = errors.New("proxyaddr: owner is the zero address")
	// ErrMalformedAddress is returned when the owner identity is not a valid
	// hex address.
	ErrMalformedAddress = errors.New("proxyaddr: malformed owner address")
)

// Proxy factory parameters. The salt is the keccak of the owner address and
// the init code hash covers the minimal proxy creation code, so one owner
// always maps to one proxy.
var (
	factoryAddress    = common.HexToAddress("0xaB45c5A4B0c941a2F231C04C3f49182e1A254052")
	proxyInitCodeHash = common.HexToHash("0x56e3081a3d1bb38ed4eed4a67025f767cc88cb49b5b50548dbad4cc0396b19d2")
)

// Derive maps an owner identity to its proxy-wallet address.
// It is deterministic and side-effect free.
func Derive(owner common.Address) (common.Address, error) {
	if owner == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}

	salt := crypto.Keccak256Hash(owner.Bytes())

	buf := make([]byte, 0, 1+common.AddressLength+2*common.HashLength)
	buf = append(buf, 0xff)
	buf = append(buf, factoryAddress.Bytes()...)
	buf = append(buf, salt.Bytes()...)
	buf = append(buf, proxyInitCodeHash.Bytes()...)

	return common.BytesToAddress(crypto.Keccak256(buf)[12:]), nil
}

// DeriveHex is Derive for callers holding the owner identity as a hex string.
func DeriveHex(owner string) (string, error) {
	if !common.IsHexAddress(owner) {
		return "", fmt.Errorf("%w: %q", ErrMalformedAddress, owner)
	}
	addr, err := Derive(common.HexToAddress(owner))
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
